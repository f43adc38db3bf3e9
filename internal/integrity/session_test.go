package integrity_test

import (
	"reflect"
	"strings"
	"testing"

	"integrity-scm/internal/integrity"
)

func TestCommand_Args(t *testing.T) {
	t.Parallel()

	cmd := integrity.NewCommand("projectco").
		With("project", "#/repo/app").
		With("revision", "1.4").
		Flag("nolock").
		Select("src/main.c")

	want := []string{"--project=#/repo/app", "--revision=1.4", "--nolock", "src/main.c"}
	if got := cmd.Args(); !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}

	if v, ok := cmd.Option("revision"); !ok || v != "1.4" {
		t.Errorf("Option(revision) = %q, %v", v, ok)
	}
	if _, ok := cmd.Option("missing"); ok {
		t.Error("Option(missing) reported as set")
	}
}

func TestCommand_StringMasksPassword(t *testing.T) {
	t.Parallel()

	cmd := integrity.NewCommand("connect").
		With("hostname", "mks").
		With("password", "hunter2")

	s := cmd.String()
	if strings.Contains(s, "hunter2") {
		t.Errorf("String() leaks the password: %q", s)
	}
	if !strings.Contains(s, "si connect --hostname=mks --password=********") {
		t.Errorf("String() = %q", s)
	}
}

func TestResponse_FirstWorkItem(t *testing.T) {
	t.Parallel()

	if (&integrity.Response{}).FirstWorkItem() != nil {
		t.Error("FirstWorkItem() of an empty response should be nil")
	}

	resp := &integrity.Response{WorkItems: []*integrity.WorkItem{
		{ID: "a", Fields: map[string]string{"author": "alice"}},
		{ID: "b"},
	}}
	wi := resp.FirstWorkItem()
	if wi == nil || wi.ID != "a" {
		t.Fatalf("FirstWorkItem() = %+v", wi)
	}
	if v, ok := wi.Field("author"); !ok || v != "alice" {
		t.Errorf("Field(author) = %q, %v", v, ok)
	}
	if _, ok := resp.WorkItems[1].Field("author"); ok {
		t.Error("Field() on a work item without fields reported as set")
	}
}
