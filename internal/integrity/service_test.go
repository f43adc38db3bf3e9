package integrity_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"integrity-scm/internal/archive"
	"integrity-scm/internal/database"
	"integrity-scm/internal/integrity"
	"integrity-scm/internal/testutil"
)

type serviceFixture struct {
	svc      *integrity.Service
	store    *database.SQLiteSnapshotStore
	server   *testutil.FakeServer
	ws       *testutil.MockWorkspace
	archive  *archive.MemoryArchive
	recorder *fakeRecorder
	job      *integrity.JobSpec
}

type fakeRecorder struct {
	mu        sync.Mutex
	checkouts []int
	polls     []int
}

func (r *fakeRecorder) RecordCheckout(_ string, changes int, _ *integrity.CheckoutResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkouts = append(r.checkouts, changes)
}

func (r *fakeRecorder) RecordPoll(_ string, changes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, changes)
}

type mapCache struct {
	projects map[string]*integrity.Project
}

func (c *mapCache) Get(job, cfg string) (*integrity.Project, bool) {
	p, ok := c.projects[job+"/"+cfg]
	return p, ok
}

func (c *mapCache) Put(job, cfg string, p *integrity.Project) { c.projects[job+"/"+cfg] = p }

func (c *mapCache) Invalidate(job string) {
	for k := range c.projects {
		if filepath.Dir(k) == job {
			delete(c.projects, k)
		}
	}
}

func newServiceFixture(t *testing.T, cache integrity.ProjectCache) *serviceFixture {
	t.Helper()
	if cache == nil {
		cache = integrity.NopProjectCache{}
	}
	f := &serviceFixture{
		store:    testutil.NewTestStore(t),
		server:   testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app"),
		ws:       testutil.NewMockWorkspace(),
		archive:  archive.NewMemoryArchive(),
		recorder: &fakeRecorder{},
		job: &integrity.JobSpec{
			Name:              "app",
			ConfigurationName: "default",
			ConfigPath:        "#/repo/app",
			Workspace:         "/ws/app",
			Checkout:          integrity.CheckoutOptions{Threads: 2},
		},
	}
	f.server.SetWorkspace(f.ws)
	f.svc = integrity.NewService(f.store, f.server, f.ws, f.archive, cache, f.recorder,
		integrity.NewNopLogger(), testutil.FixedClock(), integrity.UUIDGenerator{}, "")
	return f
}

func (f *serviceFixture) put(id, rev, author string) {
	f.server.PutMember(testutil.FakeMember{
		Name:        "/repo/app/" + id,
		MemberID:    id,
		Revision:    rev,
		Author:      author,
		Description: "revision " + rev,
	})
}

func (f *serviceFixture) checkout(t *testing.T, build int64) *integrity.BuildResult {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), f.job, build)
	if err != nil {
		t.Fatalf("Checkout(build %d) error = %v", build, err)
	}
	return res
}

func TestService_Checkout_FirstBuild(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")
	f.server.AddSubproject("/repo/app/lib/project.pj")
	f.ws.AddFile("/ws/app/stale.o", []byte("stale"))

	res := f.checkout(t, 1)

	if !res.Clean || res.BaselineTable != "" {
		t.Errorf("first build should be a clean checkout without baseline: %+v", res)
	}
	if res.Changes != 2 || res.Checkout.Completed != 2 {
		t.Errorf("changes %d completed %d, want 2 and 2", res.Changes, res.Checkout.Completed)
	}
	if _, ok := f.ws.File("/ws/app/stale.o"); ok {
		t.Error("clean checkout left a stale file")
	}
	if got, _ := f.ws.File("/ws/app/src/a.c"); string(got) != "src/a.c@1.1" {
		t.Errorf("a.c content = %q", got)
	}
	if !f.ws.HasDir("/ws/app/lib") {
		t.Error("sub-project directory not created")
	}
	if len(res.ChangeLog) != 0 {
		t.Errorf("first build change log has %d items, want 0", len(res.ChangeLog))
	}
	if _, ok := f.ws.File("/ws/app/changelog.xml"); !ok {
		t.Error("change log not written to the workspace")
	}
	if f.server.CommandCount("revisioninfo") != 0 {
		t.Error("authors looked up without a baseline")
	}
	if f.server.SessionsCreated() != f.server.SessionsTerminated() {
		t.Errorf("created %d sessions, terminated %d", f.server.SessionsCreated(), f.server.SessionsTerminated())
	}
	if len(f.recorder.checkouts) != 1 || f.recorder.checkouts[0] != 2 {
		t.Errorf("recorded checkouts = %v", f.recorder.checkouts)
	}
}

func TestService_Checkout_Incremental(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")
	f.checkout(t, 1)

	f.server.RemoveMember("src/a.c")
	f.put("src/b.c", "1.2", "bob")
	f.put("src/c.c", "1.1", "carol")

	res := f.checkout(t, 2)

	if res.Clean || res.BaselineTable == "" {
		t.Errorf("second build should be incremental: %+v", res)
	}
	if res.Changes != 3 {
		t.Errorf("Changes = %d, want 3", res.Changes)
	}
	if res.Checkout.Completed != 2 || res.Checkout.Deleted != 1 {
		t.Errorf("checkout = %+v", res.Checkout)
	}
	if _, ok := f.ws.File("/ws/app/src/a.c"); ok {
		t.Error("dropped member still in workspace")
	}
	if got, _ := f.ws.File("/ws/app/src/b.c"); string(got) != "src/b.c@1.2" {
		t.Errorf("b.c content = %q", got)
	}

	want := []struct{ file, action, user string }{
		{"/repo/app/src/a.c", "delete", ""},
		{"/repo/app/src/b.c", "update", "bob"},
		{"/repo/app/src/c.c", "add", "carol"},
	}
	if len(res.ChangeLog) != len(want) {
		t.Fatalf("change log has %d items, want %d", len(res.ChangeLog), len(want))
	}
	for i, w := range want {
		got := res.ChangeLog[i]
		if got.File != w.file || got.Action != w.action || got.User != w.user {
			t.Errorf("item %d = %s %s by %q, want %s %s by %q", i, got.Action, got.File, got.User, w.action, w.file, w.user)
		}
	}

	archived, err := f.svc.ChangeLog("app", 2)
	if err != nil {
		t.Fatalf("ChangeLog() error = %v", err)
	}
	if archived.Version != "2" || len(archived.Items) != 3 {
		t.Errorf("archived change log version %q with %d items", archived.Version, len(archived.Items))
	}
}

func TestService_Checkout_Unchanged(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")
	f.checkout(t, 1)
	f.checkout(t, 2)
	res := f.checkout(t, 3)

	if res.Changes != 0 || res.Checkout.Scheduled != 0 || res.Checkout.Skipped != 2 {
		t.Errorf("result changes %d checkout %+v", res.Changes, res.Checkout)
	}

	entries, err := f.svc.ListSnapshots("app")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(entries) != integrity.RetainedSnapshots {
		t.Errorf("kept %d snapshots, want %d", len(entries), integrity.RetainedSnapshots)
	}
	if entries[0].BuildNumber != 3 {
		t.Errorf("newest snapshot is build %d, want 3", entries[0].BuildNumber)
	}
}

func TestService_Checkout_Rebuild(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.checkout(t, 1)
	f.put("src/a.c", "1.2", "bob")
	f.checkout(t, 2)

	// Re-running build 2 compares against build 1 again.
	res := f.checkout(t, 2)
	if res.Changes != 1 || len(res.ChangeLog) != 1 || res.ChangeLog[0].Action != "update" {
		t.Errorf("rebuild changes %d change log %+v", res.Changes, res.ChangeLog)
	}
}

func TestService_Checkout_AuthorFailure(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.checkout(t, 1)
	f.put("src/a.c", "1.2", "bob")
	f.server.FailAuthor("src/a.c", "permission denied")

	res := f.checkout(t, 2)
	if len(res.ChangeLog) != 1 || res.ChangeLog[0].User != "" {
		t.Errorf("change log = %+v, want one item without author", res.ChangeLog)
	}
}

func TestService_Checkout_SkipAuthorInfo(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.job.SkipAuthorInfo = true
	f.put("src/a.c", "1.1", "alice")
	f.checkout(t, 1)
	f.put("src/a.c", "1.2", "bob")
	f.checkout(t, 2)

	if n := f.server.CommandCount("revisioninfo"); n != 0 {
		t.Errorf("revisioninfo ran %d times with author info skipped", n)
	}
}

func TestService_Checkout_ForcedClean(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")
	f.checkout(t, 1)

	f.job.Checkout.Clean = true
	res := f.checkout(t, 2)
	if res.Changes != 0 {
		t.Errorf("Changes = %d, want 0", res.Changes)
	}
	if res.Checkout.Scheduled != 2 || res.Checkout.Deleted != 0 {
		t.Errorf("checkout = %+v", res.Checkout)
	}
	if wipes := f.ws.Wipes(); len(wipes) != 2 {
		t.Errorf("workspace wiped %d times, want 2", len(wipes))
	}
}

func TestService_Checkout_ChecksumUpdate(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.job.Checkout.ChecksumUpdate = true
	f.job.Checkout.FetchChangedWorkspaceFiles = true
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")
	f.checkout(t, 1)

	f.ws.AddFile("/ws/app/src/b.c", []byte("tampered"))
	res := f.checkout(t, 2)

	if res.Changes != 0 {
		t.Errorf("Changes = %d, want 0", res.Changes)
	}
	if res.Checkout.Scheduled != 1 || f.server.Checkouts()["src/b.c"] != 2 {
		t.Errorf("tampered member not fetched again: %+v", res.Checkout)
	}
	if got, _ := f.ws.File("/ws/app/src/b.c"); string(got) != "src/b.c@1.1" {
		t.Errorf("b.c content = %q", got)
	}

	rows, err := f.store.ListRows(res.Table)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		want := testutil.SHA256Hex([]byte(r.MemberID + "@1.1"))
		if r.Checksum.String != want {
			t.Errorf("checksum of %s = %q, want %q", r.MemberID, r.Checksum.String, want)
		}
	}
}

func TestService_Checkout_Failures(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.server.FailConnect(errors.New("refused"))

		_, err := f.svc.Checkout(context.Background(), f.job, 1)
		var ce *integrity.ConnectError
		if !errors.As(err, &ce) {
			t.Errorf("Checkout() error = %v, want ConnectError", err)
		}
	})

	t.Run("member checkout", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.put("src/a.c", "1.1", "alice")
		f.server.FailCheckout("src/a.c", "permission denied")

		res, err := f.svc.Checkout(context.Background(), f.job, 1)
		if err == nil {
			t.Fatal("Checkout() should fail")
		}
		if res == nil || res.Checkout == nil {
			t.Fatal("Checkout() should report partial results")
		}
		if f.archive.Len() != 0 {
			t.Error("change log archived for a failed build")
		}
	})
}

func TestService_ProjectCache(t *testing.T) {
	f := newServiceFixture(t, &mapCache{projects: make(map[string]*integrity.Project)})
	f.put("src/a.c", "1.1", "alice")
	f.checkout(t, 1)
	f.checkout(t, 2)
	f.svc.Poll(context.Background(), f.job)

	if n := f.server.CommandCount("projectinfo"); n != 1 {
		t.Errorf("projectinfo ran %d times, want 1", n)
	}
}

func TestService_Poll(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.put("src/a.c", "1.1", "alice")
	f.put("src/b.c", "1.1", "alice")

	if got := f.svc.Poll(ctx, f.job); got != 2 {
		t.Errorf("Poll() without baseline = %d, want 2", got)
	}

	f.checkout(t, 1)
	if got := f.svc.Poll(ctx, f.job); got != 0 {
		t.Errorf("Poll() after checkout = %d, want 0", got)
	}

	f.put("src/b.c", "1.2", "bob")
	f.put("src/c.c", "1.1", "carol")
	if got := f.svc.Poll(ctx, f.job); got != 2 {
		t.Errorf("Poll() with changes = %d, want 2", got)
	}

	entries, _ := f.svc.ListSnapshots("app")
	if len(entries) != 1 {
		t.Errorf("Poll() recorded snapshots: %d entries", len(entries))
	}

	f.server.FailConnect(errors.New("refused"))
	if got := f.svc.Poll(ctx, f.job); got != 0 {
		t.Errorf("Poll() with connect failure = %d, want 0", got)
	}
	if len(f.recorder.polls) != 3 {
		t.Errorf("recorded %d polls, want 3", len(f.recorder.polls))
	}
}

func TestService_ChangeLog_NotFound(t *testing.T) {
	f := newServiceFixture(t, nil)
	if _, err := f.svc.ChangeLog("app", 9); !errors.Is(err, integrity.ErrChangeLogNotFound) {
		t.Errorf("ChangeLog() error = %v, want ErrChangeLogNotFound", err)
	}
}
