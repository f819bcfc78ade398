package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	asyncBufferSize    = 256
	asyncFlushInterval = 2 * time.Second
	asyncFlushBatch    = 32
)

// asyncEntry pairs a destination path with the record to append to it.
type asyncEntry struct {
	path   string
	record any
}

// AsyncAppender is a best-effort, non-blocking batched JSONL writer. It is
// grounded on nightowl's internal/audit.Writer: callers enqueue and never
// block; a background goroutine drains the channel on a ticker and flushes
// in batches grouped by destination file. Used for usage and audit logs,
// where spec §4.6/§4.9 call writes "best-effort" and losing an entry under
// extreme load is preferable to blocking the request path.
type AsyncAppender struct {
	appender *JSONLAppender
	logger   *slog.Logger
	entries  chan asyncEntry
	wg       sync.WaitGroup
}

// NewAsyncAppender creates an AsyncAppender. Call Start to begin processing.
func NewAsyncAppender(appender *JSONLAppender, logger *slog.Logger) *AsyncAppender {
	return &AsyncAppender{
		appender: appender,
		logger:   logger,
		entries:  make(chan asyncEntry, asyncBufferSize),
	}
}

// Start launches the background flush loop in its own goroutine and returns
// immediately; Close waits for that loop to finish.
func (a *AsyncAppender) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// Close waits for the background loop to drain and exit.
func (a *AsyncAppender) Close() {
	close(a.entries)
	a.wg.Wait()
}

// Enqueue schedules v to be appended to path. Never blocks; if the buffer is
// full the entry is dropped and a warning logged.
func (a *AsyncAppender) Enqueue(path string, v any) {
	select {
	case a.entries <- asyncEntry{path: path, record: v}:
	default:
		a.logger.Warn("async appender buffer full, dropping entry", "path", path)
	}
}

func (a *AsyncAppender) run(ctx context.Context) {
	ticker := time.NewTicker(asyncFlushInterval)
	defer ticker.Stop()

	batch := make([]asyncEntry, 0, asyncFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-a.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= asyncFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-a.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *AsyncAppender) flush(entries []asyncEntry) {
	for _, e := range entries {
		if err := a.appender.Append(e.path, e.record); err != nil {
			a.logger.Error("flushing async log entry", "path", e.path, "error", err)
		}
	}
}
