package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// FileStore is a directory of per-session JSON-Lines journals. Each session
// gets one file, `<dir>/<session_id>.jsonl`; writes append a line via
// write-to-tmp + rename so a crash leaves the file either fully containing
// the new line or not at all.
//
// FileStore serializes writes per session with an in-process mutex; it does
// not coordinate across processes (see DESIGN.md's open-question decision:
// concurrent cross-process writers to the same session are unsupported
// here).
type FileStore struct {
	dir     string
	emitter emit.Emitter

	mu      sync.Mutex // guards locks
	locks   map[string]*sync.Mutex
	caches  map[string]map[string]interface{} // last reconstructed state per session
	seqs    map[string]int
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, emitter emit.Emitter) (*FileStore, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		emitter: emitter,
		locks:   make(map[string]*sync.Mutex),
		caches:  make(map[string]map[string]interface{}),
		seqs:    make(map[string]int),
	}, nil
}

func (f *FileStore) sessionLock(sessionID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[sessionID] = l
	}
	return l
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".jsonl")
}

// Read reconstructs the latest state by replaying every delta line in file
// order. Corrupt lines are skipped with a warning event, not treated as
// fatal.
func (f *FileStore) Read(ctx context.Context, sessionID string) (session.State, bool, error) {
	lock := f.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	merged, seq, found, err := f.replay(sessionID)
	if err != nil {
		return session.State{}, false, err
	}
	if !found {
		return session.State{}, false, nil
	}
	f.caches[sessionID] = merged
	f.seqs[sessionID] = seq

	st, err := fromMap(merged)
	if err != nil {
		return session.State{}, false, fmt.Errorf("checkpoint: decode reconstructed state: %w", err)
	}
	return st, true, nil
}

func (f *FileStore) replay(sessionID string) (map[string]interface{}, int, bool, error) {
	file, err := os.Open(f.path(sessionID))
	if os.IsNotExist(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("checkpoint: open journal: %w", err)
	}
	defer func() { _ = file.Close() }()

	var merged map[string]interface{}
	seq := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			f.emitter.Emit(emit.Event{SessionID: sessionID, Msg: "checkpoint_corrupt_line", Meta: map[string]interface{}{"error": err.Error()}})
			continue
		}
		merged = applyDelta(merged, rec.Delta)
		seq++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("checkpoint: scan journal: %w", err)
	}
	if merged == nil {
		return nil, 0, false, nil
	}
	return merged, seq, true, nil
}

// Write computes the shallow diff of newState against the session's cached
// state and, if non-empty, appends it via write-to-tmp + rename.
func (f *FileStore) Write(ctx context.Context, newState session.State) error {
	sessionID := newState.SessionID
	lock := f.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	cached, ok := f.caches[sessionID]
	if !ok {
		merged, seq, found, err := f.replay(sessionID)
		if err != nil {
			return err
		}
		if found {
			cached = merged
			f.seqs[sessionID] = seq
		}
	}

	nextMap, err := toMap(newState)
	if err != nil {
		return fmt.Errorf("checkpoint: encode state: %w", err)
	}
	delta := shallowDiff(cached, nextMap)
	if len(delta) == 0 {
		return nil
	}

	seq := f.seqs[sessionID]
	rec := Record{
		ID:        fmt.Sprintf("%s:%d", sessionID, seq),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Delta:     delta,
	}
	if err := f.appendAtomic(sessionID, rec); err != nil {
		return err
	}

	f.caches[sessionID] = applyDelta(cached, delta)
	f.seqs[sessionID] = seq + 1
	return nil
}

// appendAtomic rewrites the session's journal with the new line appended,
// via a tmp file plus rename, so the write is either fully visible or not
// visible at all.
func (f *FileStore) appendAtomic(sessionID string, rec Record) error {
	target := f.path(sessionID)

	existing, err := os.ReadFile(target)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: read journal: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: encode record: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create tmp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if len(existing) > 0 {
		if _, err := tmp.Write(existing); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("checkpoint: write tmp file: %w", err)
		}
	}
	if _, err := tmp.Write(append(line, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoint: write tmp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoint: sync tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("checkpoint: rename tmp file: %w", err)
	}
	return nil
}
