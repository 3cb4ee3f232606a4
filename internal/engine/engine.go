package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matryer/try"
	"go.uber.org/zap"

	"github.com/jsonlined/jsonlined/internal/lock"
	"github.com/jsonlined/jsonlined/internal/metrics"
	"github.com/jsonlined/jsonlined/internal/model"
	"github.com/jsonlined/jsonlined/internal/pkg/workpool"
)

// TimestampLayout is ISO-8601 UTC with microsecond precision, the
// format of every entry's timestamp field.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Config holds the append engine settings, built once at startup.
type Config struct {
	// Path of the JSONL log file. Its lock file lives at Path + ".lock".
	Path string
	// MaxRetries is the total number of attempts per append.
	MaxRetries int
	// RetryDelay is slept between failed attempts.
	RetryDelay time.Duration
	// Workers bounds how many appends may be in flight at once.
	Workers int
}

// AppendError is the terminal failure of an append: every attempt
// failed, and Err is the last underlying cause.
type AppendError struct {
	Attempts int
	Err      error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("failed to append after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// Engine serializes and durably persists entries to a single shared
// JSONL file. Exclusivity against concurrent writers, in this process
// and any other on the host, comes from a blocking flock on the log
// file's lock path; every write is fsynced before success is reported.
type Engine struct {
	cfg  Config
	pool *workpool.Pool

	// openLog is swapped out by tests to inject I/O failures.
	openLog func(path string) (*os.File, error)
}

func New(cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries > try.MaxRetries {
		try.MaxRetries = cfg.MaxRetries
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Engine{
		cfg:     cfg,
		pool:    workpool.New(cfg.Workers),
		openLog: openAppend,
	}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Append durably writes record as one timestamped JSONL entry and
// returns the entry's timestamp. The whole lock-write-sync sequence
// runs as a unit of work on the engine's bounded pool, so the caller's
// goroutine only blocks on the result, never on the file lock directly.
//
// On failure the sequence is retried, with a fresh timestamp, up to
// MaxRetries total attempts with RetryDelay in between. A failed
// attempt never leaves a partial line: the line is written with a
// single write call under the lock, and any error before that write
// leaves the file untouched.
func (e *Engine) Append(record model.Record) (string, error) {
	start := time.Now()

	var ts string
	done := e.pool.Submit(func() error {
		return try.Do(func(attempt int) (bool, error) {
			var err error
			ts, err = e.appendOnce(record)
			if err != nil && attempt < e.cfg.MaxRetries {
				zap.S().Warnf("append attempt %d/%d failed: %v", attempt, e.cfg.MaxRetries, err)
				metrics.AppendRetriesTotal.Inc()
				time.Sleep(e.cfg.RetryDelay)
			}
			return attempt < e.cfg.MaxRetries, err
		})
	})

	// No caller-initiated cancellation: an in-flight append always runs
	// to completion so the file and the response agree.
	if err := <-done; err != nil {
		metrics.AppendsTotal.WithLabelValues("failure").Inc()
		return "", &AppendError{Attempts: e.cfg.MaxRetries, Err: err}
	}

	metrics.AppendsTotal.WithLabelValues("success").Inc()
	metrics.AppendDuration.Observe(time.Since(start).Seconds())
	return ts, nil
}

// appendOnce is one full attempt: timestamp, lock, open, write, sync.
// The lock is held across open+write+sync and released unconditionally.
func (e *Engine) appendOnce(record model.Record) (string, error) {
	ts := time.Now().UTC().Format(TimestampLayout)
	line, err := json.Marshal(model.Entry{Timestamp: ts, Data: record})
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}

	fl, err := lock.Acquire(e.cfg.Path + lock.Suffix)
	if err != nil {
		return "", err
	}
	defer fl.Release()

	f, err := e.openLog(e.cfg.Path)
	if err != nil {
		return "", fmt.Errorf("open log %s: %w", e.cfg.Path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync log: %w", err)
	}
	return ts, nil
}

// Close waits for in-flight appends to finish.
func (e *Engine) Close() {
	e.pool.Wait()
}
