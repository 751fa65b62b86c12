package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zerobranding/orchestrator/internal/session"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStore_ReadMissingSession(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.Read(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Errorf("expected found = false for missing session")
	}
}

func TestFileStore_WriteThenRead_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := session.New("S1", session.UserContext{UserID: "u1"}, "/img cat", 5)
	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, found, err := store.Read(ctx, "S1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatalf("expected found = true")
	}
	if got.Goal != s.Goal || got.SessionID != s.SessionID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestFileStore_Write_NoOpWhenStateUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := session.New("S1", session.UserContext{}, "goal", 1)
	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("first write: %v", err)
	}
	before, err := os.ReadFile(filepath.Join(store.dir, "S1.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}

	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("second write: %v", err)
	}
	after, err := os.ReadFile(filepath.Join(store.dir, "S1.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("expected no new line appended for unchanged state")
	}
}

func TestFileStore_Write_AppendsOnChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := session.New("S1", session.UserContext{}, "goal", 1)
	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("first write: %v", err)
	}
	s.Status = session.StatusExecuting
	s.CurrentStep = 1
	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, found, err := store.Read(ctx, "S1")
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if got.Status != session.StatusExecuting || got.CurrentStep != 1 {
		t.Errorf("expected updated fields after replay, got %+v", got)
	}
}

func TestFileStore_Read_SkipsCorruptLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := session.New("S1", session.UserContext{}, "goal", 1)
	if err := store.Write(ctx, s); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(store.dir, "S1.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	_ = f.Close()

	delete(store.caches, "S1")
	delete(store.seqs, "S1")

	got, found, err := store.Read(ctx, "S1")
	if err != nil {
		t.Fatalf("Read should tolerate corrupt lines, got error: %v", err)
	}
	if !found || got.SessionID != "S1" {
		t.Errorf("expected valid reconstruction despite corrupt line, got %+v found=%v", got, found)
	}
}
