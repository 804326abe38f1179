package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// FileStore keeps the state as one JSON document. Commits write a temp file
// in the same directory, fsync it and rename it over the document. An
// exclusive lock file keeps a second process from becoming a second writer.
type FileStore struct {
	path string
	lock *flock.Flock
}

var _ interfaces.StateStore = (*FileStore)(nil)

func OpenFile(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("open state dir", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, unavailable("lock state file", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock state file: %w: %s is held by another process", types.ErrStoreUnavailable, path)
	}

	// Leftovers from a commit interrupted before rename.
	if stale, _ := filepath.Glob(path + ".tmp-*"); len(stale) > 0 {
		for _, f := range stale {
			_ = os.Remove(f)
		}
	}

	return &FileStore{path: path, lock: lock}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (types.TickState, error) {
	return ReadFile(s.path)
}

// ReadFile loads the document without taking the writer lock. Commits
// rename over the file, so a reader never sees a partial write.
func ReadFile(path string) (types.TickState, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return types.NewTickState(), nil
	}
	if err != nil {
		return types.TickState{}, unavailable("load", err)
	}
	st, err := decode(b)
	if err != nil {
		return types.TickState{}, unavailable("load", fmt.Errorf("decode %s: %w", path, err))
	}
	return st, nil
}

func (s *FileStore) Commit(ctx context.Context, st types.TickState) error {
	if err := ctx.Err(); err != nil {
		return unavailable("commit", err)
	}
	b, err := encode(st)
	if err != nil {
		return unavailable("commit", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return s.lock.Unlock()
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
