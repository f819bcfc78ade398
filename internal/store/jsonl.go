package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// JSONLAppender synchronously appends JSON-Lines records to daily log files.
// Used where durability must precede a downstream side effect — the event
// bus (spec §5: "Automations matched against event E are dispatched after E
// is durably appended") is the canonical caller.
type JSONLAppender struct {
	locks *PathLocks
}

// NewJSONLAppender creates a JSONLAppender sharing the given lock map.
func NewJSONLAppender(locks *PathLocks) *JSONLAppender {
	return &JSONLAppender{locks: locks}
}

// Append opens path for appending (creating it and its directory if
// necessary) and writes v as one JSON line. The line order observed by this
// call is the canonical order (spec §5's "line order is the canonical
// order"), enforced by the per-path lock serializing concurrent appenders.
func (a *JSONLAppender) Append(path string, v any) error {
	unlock := a.locks.Acquire(path)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "creating log directory", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "opening log file", err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "marshaling log line", err)
	}
	data = append(data, '\n')

	if _, err := f.Write(data); err != nil {
		return fabricerr.Wrap(fabricerr.IntegrityError, "appending log line", err)
	}
	return f.Sync()
}

// ReadLines reads path line by line into dst via unmarshal, skipping any
// line that fails to parse (spec §7: unparseable records are skipped on
// read, never propagated). A missing file yields no lines and no error.
func ReadLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fabricerr.Wrap(fabricerr.IntegrityError, "opening log file", err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
