package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quotagate/quotagate/internal/quota"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	st, err := s.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Fatalf("Load = %+v for unknown identifier, want nil", st)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	in := &quota.State{
		Last:   1_700_000_000_000,
		Bucket: quota.Bucket{Max: 10, Tokens: 4, Active: true},
	}
	if err := s.Save(ctx, "client", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx, "client")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("Load = nil after Save")
	}
	if *out != *in {
		t.Errorf("Load = %+v, want %+v", *out, *in)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := &quota.State{Last: 1, Bucket: quota.Bucket{Max: 5, Tokens: 5, Active: true}}
	second := &quota.State{Last: 2, Bucket: quota.Bucket{Max: 5, Tokens: 3, Active: true}}

	if err := s.Save(ctx, "client", first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "client", second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx, "client")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *out != *second {
		t.Errorf("Load = %+v, want %+v", *out, *second)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := &quota.State{Last: 42_000, Bucket: quota.Bucket{Max: 8, Tokens: 1, Active: true}}
	if err := s.Save(ctx, "client", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	out, err := reopened.Load(ctx, "client")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if out == nil || *out != *in {
		t.Errorf("Load after reopen = %+v, want %+v", out, in)
	}
}

func TestUnknownSchemaVersionFailsLoad(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actor_states (identifier, version, state, updated_at)
		VALUES ('client', 99, '{}', 0)`)
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if _, err := s.Load(ctx, "client"); err == nil {
		t.Fatal("Load of an unknown schema version succeeded, want error")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
