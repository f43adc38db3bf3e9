package integrity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"integrity-scm/internal/integrity"
	"integrity-scm/internal/testutil"
)

func TestSessionPool_Refresh(t *testing.T) {
	server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
	pool := integrity.NewSessionPool(server, 1, 3, integrity.NewNopLogger())

	for i := 0; i < 7; i++ {
		if err := pool.Do(context.Background(), func(integrity.Session) error { return nil }); err != nil {
			t.Fatalf("Do() #%d error = %v", i+1, err)
		}
	}

	if got := pool.Refreshes(); got != 2 {
		t.Errorf("Refreshes() = %d, want 2", got)
	}
	if got := server.SessionsCreated(); got != 3 {
		t.Errorf("sessions created = %d, want 3", got)
	}
	if got := server.SessionsTerminated(); got != 2 {
		t.Errorf("sessions terminated before Close = %d, want 2", got)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := server.SessionsTerminated(); got != 3 {
		t.Errorf("sessions terminated = %d, want 3", got)
	}
}

func TestSessionPool_LazyCreation(t *testing.T) {
	server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
	pool := integrity.NewSessionPool(server, 4, 0, integrity.NewNopLogger())
	defer pool.Close()

	for i := 0; i < 3; i++ {
		pool.Do(context.Background(), func(integrity.Session) error { return nil })
	}
	if got := server.SessionsCreated(); got != 1 {
		t.Errorf("sequential use created %d sessions, want 1", got)
	}
}

func TestSessionPool_Errors(t *testing.T) {
	t.Run("fn error is returned", func(t *testing.T) {
		server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
		pool := integrity.NewSessionPool(server, 1, 0, integrity.NewNopLogger())
		defer pool.Close()

		boom := errors.New("boom")
		if err := pool.Do(context.Background(), func(integrity.Session) error { return boom }); !errors.Is(err, boom) {
			t.Errorf("Do() error = %v, want %v", err, boom)
		}
	})

	t.Run("connect failure", func(t *testing.T) {
		server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
		server.FailConnect(errors.New("refused"))
		pool := integrity.NewSessionPool(server, 1, 0, integrity.NewNopLogger())
		defer pool.Close()

		err := pool.Do(context.Background(), func(integrity.Session) error { return nil })
		var ce *integrity.ConnectError
		if !errors.As(err, &ce) {
			t.Errorf("Do() error = %v, want ConnectError", err)
		}
	})

	t.Run("closed pool", func(t *testing.T) {
		server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
		pool := integrity.NewSessionPool(server, 1, 0, integrity.NewNopLogger())
		pool.Close()

		if err := pool.Do(context.Background(), func(integrity.Session) error { return nil }); err == nil {
			t.Error("Do() on a closed pool should fail")
		}
	})
}

// gatedFactory blocks every NewSession after the first open calls until
// release is closed.
type gatedFactory struct {
	inner   *testutil.FakeServer
	open    int
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedFactory(server *testutil.FakeServer, open int) *gatedFactory {
	return &gatedFactory{
		inner:   server,
		open:    open,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (f *gatedFactory) NewSession(ctx context.Context) (integrity.Session, error) {
	f.mu.Lock()
	f.calls++
	gated := f.calls > f.open
	f.mu.Unlock()
	if gated {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.inner.NewSession(ctx)
}

func TestSessionPool_CloseDuringConnect(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		// warm is the number of Do calls that finish before the gated one.
		warm int
	}{
		{"first session", 0, 0},
		{"refresh", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
			factory := newGatedFactory(server, tt.warm)
			pool := integrity.NewSessionPool(factory, 1, tt.threshold, integrity.NewNopLogger())

			noop := func(integrity.Session) error { return nil }
			for i := 0; i < tt.warm; i++ {
				if err := pool.Do(context.Background(), noop); err != nil {
					t.Fatalf("warm Do() error = %v", err)
				}
			}

			ran := false
			done := make(chan error, 1)
			go func() {
				done <- pool.Do(context.Background(), func(integrity.Session) error {
					ran = true
					return nil
				})
			}()

			select {
			case <-factory.entered:
			case <-time.After(5 * time.Second):
				t.Fatal("Do() never reached NewSession")
			}
			if err := pool.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			close(factory.release)

			select {
			case err := <-done:
				if err == nil {
					t.Error("Do() after Close should fail")
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Do() did not return after Close")
			}
			if ran {
				t.Error("fn ran on a session opened after Close")
			}
			if created, terminated := server.SessionsCreated(), server.SessionsTerminated(); created != terminated {
				t.Errorf("sessions created = %d, terminated = %d", created, terminated)
			}
		})
	}
}

func TestSessionPool_IdleSessionAfterClose(t *testing.T) {
	server := testutil.NewFakeServer("/repo/app/project.pj", "#/repo/app")
	pool := integrity.NewSessionPool(server, 2, 0, integrity.NewNopLogger())

	noop := func(integrity.Session) error { return nil }
	if err := pool.Do(context.Background(), noop); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	pool.Close()

	ran := false
	err := pool.Do(context.Background(), func(integrity.Session) error {
		ran = true
		return nil
	})
	if err == nil || ran {
		t.Errorf("Do() after Close = %v, ran = %v; want error without running", err, ran)
	}
	if got := server.SessionsCreated(); got != 1 {
		t.Errorf("sessions created = %d, want 1", got)
	}
	if got := server.SessionsTerminated(); got != 1 {
		t.Errorf("sessions terminated = %d, want 1", got)
	}
}
