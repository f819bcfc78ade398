// Package store implements the generic, tenant-agnostic atomic file
// persistence that C4 (spec §4.4) and every daily log in the system builds
// on: atomic tmp+rename writes at mode 0600, directories at mode 0700, an
// in-process per-path lock map so concurrent writers to the same file don't
// interleave, and fault-tolerant reads that skip unparseable records instead
// of failing (spec §7: "Read paths are fault-tolerant").
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// PathLocks is a process-wide map of per-absolute-path mutexes, serializing
// read-modify-write sequences against the same file (spec §9's "Per-tenant
// file locking" redesign note). The zero value is ready to use.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Acquire returns the mutex for path, creating it if necessary, and locks it.
// The caller must call the returned unlock func exactly once.
func (p *PathLocks) Acquire(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// JSONStore persists values of type T as single-object JSON files, one file
// per record, guarded by a shared PathLocks map.
type JSONStore[T any] struct {
	locks *PathLocks
}

// NewJSONStore creates a JSONStore sharing the given lock map (typically one
// PathLocks instance per process, shared across every JSONStore).
func NewJSONStore[T any](locks *PathLocks) *JSONStore[T] {
	return &JSONStore[T]{locks: locks}
}

// Write atomically writes v to path: marshal, write to path+".tmp", rename.
// Directories are created mode 0700, the file mode 0600. This is the only
// way any component writes a resource/share/key/automation/integration
// record (spec §4.4 "Writes are atomic").
func (s *JSONStore[T]) Write(path string, v T) error {
	unlock := s.locks.Acquire(path)
	defer unlock()
	return writeAtomic(path, v)
}

// writeAtomic performs the tmp+rename sequence without locking — used both
// by JSONStore.Write and by callers that already hold the lock (read-modify-
// write sequences via Update).
func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "creating directory", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "marshaling record", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "writing temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fabricerr.Wrap(fabricerr.IntegrityError, "renaming into place", err)
	}
	return nil
}

// Read reads and unmarshals the record at path. A missing file is NotFound;
// an unparseable file is IntegrityError (callers on a read path should treat
// this as "skip", not propagate, per spec §7).
func (s *JSONStore[T]) Read(path string) (T, error) {
	var zero T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, fabricerr.New(fabricerr.NotFound, "record not found")
		}
		return zero, fabricerr.Wrap(fabricerr.IntegrityError, "reading record", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fabricerr.Wrap(fabricerr.IntegrityError, "parsing record", err)
	}
	return v, nil
}

// Update performs a locked read-modify-write: it reads the current value (or
// the zero value if NotFound, as told by existed=false), applies fn, and
// atomically writes the result back. fn returning an error aborts the write.
func (s *JSONStore[T]) Update(path string, fn func(current T, existed bool) (T, error)) error {
	unlock := s.locks.Acquire(path)
	defer unlock()

	var zero T
	existed := true
	current, err := func() (T, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				existed = false
				return zero, nil
			}
			return zero, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return zero, err
		}
		return v, nil
	}()
	if err != nil {
		// Unparseable existing record: treat as absent on read per
		// fault-tolerant read policy, but surface to fn via existed=false.
		existed = false
	}

	next, err := fn(current, existed)
	if err != nil {
		return err
	}
	return writeAtomic(path, next)
}

// Delete removes the record at path. Missing files are not an error.
func (s *JSONStore[T]) Delete(path string) error {
	unlock := s.locks.Acquire(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fabricerr.Wrap(fabricerr.IntegrityError, "deleting record", err)
	}
	return nil
}

// ListDir returns the decoded contents of every *.json file directly under
// dir, skipping (not failing on) any file that fails to parse or that is
// itself a .tmp artifact left by a crashed write.
func ListDir[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
