package integrity_test

import (
	"context"
	"reflect"
	"testing"

	"integrity-scm/internal/integrity"
)

func TestService_CheckinArtifacts(t *testing.T) {
	ctx := context.Background()

	t.Run("existing members are checked in, new ones added", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.put("bin/app", "1.4", "alice")
		f.ws.AddFile("/out/bin/app", []byte("binary"))
		f.ws.AddFile("/out/docs/NOTES", []byte("notes"))

		res, err := f.svc.CheckinArtifacts(ctx, f.job, "/out", integrity.CheckinOptions{ItemID: "1234"})
		if err != nil {
			t.Fatalf("CheckinArtifacts() error = %v", err)
		}
		if res.ChangePackageID != "101:1" || res.CheckedIn != 1 || res.Added != 1 {
			t.Errorf("result = %+v", res)
		}
		if got := f.server.CheckedIn(); !reflect.DeepEqual(got, []string{"bin/app"}) {
			t.Errorf("checked in %v", got)
		}
		if got := f.server.Added(); !reflect.DeepEqual(got, []string{"docs/NOTES"}) {
			t.Errorf("added %v", got)
		}
		if got := f.server.Submitted(); !reflect.DeepEqual(got, []string{"101:1"}) {
			t.Errorf("submitted %v", got)
		}
	})

	t.Run("item id required", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		if _, err := f.svc.CheckinArtifacts(ctx, f.job, "/out", integrity.CheckinOptions{}); err == nil {
			t.Error("CheckinArtifacts() without an item id should fail")
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.ws.MkdirAll("/out")

		res, err := f.svc.CheckinArtifacts(ctx, f.job, "/out", integrity.CheckinOptions{ItemID: "1234"})
		if err != nil {
			t.Fatalf("CheckinArtifacts() error = %v", err)
		}
		if res.CheckedIn+res.Added != 0 || f.server.SessionsCreated() != 0 {
			t.Errorf("empty directory opened a change package: %+v", res)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		if _, err := f.svc.CheckinArtifacts(ctx, f.job, "/nowhere", integrity.CheckinOptions{ItemID: "1234"}); err == nil {
			t.Error("CheckinArtifacts() of a missing directory should fail")
		}
	})
}
