package integrity_test

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"
	"time"

	"integrity-scm/internal/integrity"
)

func changedRow(name string, delta integrity.Delta, rev, oldRev string) *integrity.SnapshotRow {
	r := &integrity.SnapshotRow{
		Type:        integrity.TypeFile,
		Name:        "/repo/app/" + name,
		MemberID:    name,
		ConfigPath:  "#/repo/app",
		Revision:    rev,
		Description: "change to " + name,
		Timestamp:   time.Date(2024, 1, 12, 14, 30, 0, 0, time.UTC),
		Author:      sql.NullString{String: "alice", Valid: true},
		Delta:       sql.NullInt64{Int64: int64(delta), Valid: true},
	}
	if oldRev != "" {
		r.OldRevision = sql.NullString{String: oldRev, Valid: true}
	}
	return r
}

func TestDelta_Action(t *testing.T) {
	t.Parallel()

	tests := []struct {
		delta integrity.Delta
		want  string
	}{
		{integrity.DeltaAdded, "add"},
		{integrity.DeltaChanged, "update"},
		{integrity.DeltaDropped, "delete"},
		{integrity.DeltaUnchanged, "undefined"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.delta.Action(); got != tt.want {
				t.Errorf("Action() = %q, want %q", got, tt.want)
			}
			if tt.delta != integrity.DeltaUnchanged {
				if back := integrity.DeltaFromAction(tt.want); back != tt.delta {
					t.Errorf("DeltaFromAction(%q) = %d, want %d", tt.want, back, tt.delta)
				}
			}
		})
	}
}

func TestChangeLogItems(t *testing.T) {
	t.Parallel()

	unchanged := changedRow("same.c", integrity.DeltaUnchanged, "1.1", "")
	nullDelta := changedRow("null.c", integrity.DeltaUnchanged, "1.1", "")
	nullDelta.Delta = sql.NullInt64{}
	rows := []*integrity.SnapshotRow{
		changedRow("new.c", integrity.DeltaAdded, "1.1", ""),
		unchanged,
		nullDelta,
		changedRow("main.c", integrity.DeltaChanged, "1.3", "1.2"),
	}

	t.Run("skips rows without a change", func(t *testing.T) {
		items := integrity.ChangeLogItems(rows, integrity.ChangeLogOptions{})
		if len(items) != 2 {
			t.Fatalf("got %d items, want 2", len(items))
		}
		if items[0].Action != "add" || items[1].Action != "update" {
			t.Errorf("actions = %s, %s", items[0].Action, items[1].Action)
		}
		if items[0].Annotation != "" || items[1].Differences != "" {
			t.Error("links rendered without a base URL")
		}
	})

	t.Run("links need a base URL and differences an old revision", func(t *testing.T) {
		items := integrity.ChangeLogItems(rows, integrity.ChangeLogOptions{BaseURL: "http://mks:7001/si"})
		added, changed := items[0], items[1]

		if !strings.HasPrefix(added.Annotation, "http://mks:7001/si/annotate?") {
			t.Errorf("annotation = %q", added.Annotation)
		}
		if added.Differences != "" {
			t.Errorf("added member has differences link %q", added.Differences)
		}
		for _, want := range []string{"/diff?", "revision1=1.2", "revision2=1.3", "selection=main.c"} {
			if !strings.Contains(changed.Differences, want) {
				t.Errorf("differences %q missing %q", changed.Differences, want)
			}
		}
	})
}

func TestWriteChangeLog_ParseBack(t *testing.T) {
	t.Parallel()

	dropped := changedRow("old.c", integrity.DeltaDropped, "1.4", "")
	dropped.Author = sql.NullString{}
	rows := []*integrity.SnapshotRow{
		changedRow("main.c", integrity.DeltaChanged, "1.3", "1.2"),
		dropped,
	}
	rows[0].Description = "fix <overflow> & tidy ]]"

	var buf bytes.Buffer
	opts := integrity.ChangeLogOptions{Version: 42, BaseURL: "http://mks:7001/si"}
	if err := integrity.WriteChangeLog(&buf, rows, opts); err != nil {
		t.Fatalf("WriteChangeLog() error = %v", err)
	}
	if !strings.Contains(buf.String(), `<items version="42">`) {
		t.Errorf("missing items version:\n%s", buf.String())
	}

	cl, err := integrity.ParseChangeLog(&buf)
	if err != nil {
		t.Fatalf("ParseChangeLog() error = %v", err)
	}
	if cl.Version != "42" || len(cl.Items) != 2 {
		t.Fatalf("parsed version %q with %d items", cl.Version, len(cl.Items))
	}

	main := cl.Items[0]
	if main.File != "/repo/app/main.c" || main.User != "alice" || main.Revision != "1.3" {
		t.Errorf("main.c item = %+v", main)
	}
	if main.Message != rows[0].Description {
		t.Errorf("message = %q, want %q", main.Message, rows[0].Description)
	}
	if !main.Date.Equal(rows[0].Timestamp) {
		t.Errorf("date = %v, want %v", main.Date, rows[0].Timestamp)
	}
	if cl.Items[1].Action != "delete" || cl.Items[1].User != "" {
		t.Errorf("dropped item = %+v", cl.Items[1])
	}
}

func TestWriteChangeLog_CDataTerminator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
	}{
		{"embedded terminator", "see a[b[c]]> done"},
		{"leading terminator", "]]>start"},
		{"trailing terminator", "end]]>"},
		{"repeated terminators", "]]>]]]]>>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			row := changedRow("main.c", integrity.DeltaChanged, "1.3", "1.2")
			row.Description = tt.msg
			// A base URL with a terminator exercises the link elements as well.
			opts := integrity.ChangeLogOptions{Version: 7, BaseURL: "http://mks/]]>"}

			var buf bytes.Buffer
			if err := integrity.WriteChangeLog(&buf, []*integrity.SnapshotRow{row}, opts); err != nil {
				t.Fatalf("WriteChangeLog() error = %v", err)
			}
			cl, err := integrity.ParseChangeLog(&buf)
			if err != nil {
				t.Fatalf("ParseChangeLog() error = %v\n%s", err, buf.String())
			}
			if len(cl.Items) != 1 {
				t.Fatalf("parsed %d items, want 1", len(cl.Items))
			}
			want := integrity.ChangeLogItems([]*integrity.SnapshotRow{row}, opts)[0]
			got := cl.Items[0]
			if got.Message != tt.msg {
				t.Errorf("message = %q, want %q", got.Message, tt.msg)
			}
			if got.Annotation != want.Annotation {
				t.Errorf("annotation = %q, want %q", got.Annotation, want.Annotation)
			}
			if got.Differences != want.Differences {
				t.Errorf("differences = %q, want %q", got.Differences, want.Differences)
			}
		})
	}
}

func TestWriteChangeLog_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := integrity.WriteChangeLog(&buf, nil, integrity.ChangeLogOptions{Version: 1}); err != nil {
		t.Fatalf("WriteChangeLog() error = %v", err)
	}
	cl, err := integrity.ParseChangeLog(&buf)
	if err != nil {
		t.Fatalf("ParseChangeLog() error = %v", err)
	}
	if len(cl.Items) != 0 {
		t.Errorf("got %d items, want none", len(cl.Items))
	}
}

func TestParseChangeLog_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"not xml", "changes: none"},
		{"wrong root", "<log/>"},
		{"bad date", `<changelog><items version="1"><item action="add"><file>a</file><date>yesterday</date></item></items></changelog>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := integrity.ParseChangeLog(strings.NewReader(tt.input)); err == nil {
				t.Error("ParseChangeLog() should fail")
			}
		})
	}
}
