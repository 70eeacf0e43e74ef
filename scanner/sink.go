package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// MatchRecord is one confirmed service instance.
type MatchRecord struct {
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Evidence Evidence  `json:"evidence"`
	FoundAt  time.Time `json:"found_at"`
}

// Line returns the record in output file form, "{address}:{port}".
func (m MatchRecord) Line() string {
	return m.Address + ":" + strconv.Itoa(m.Port)
}

// Sink persists match records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, m MatchRecord) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, m MatchRecord) error

// Record calls f(ctx, m).
func (f SinkFunc) Record(ctx context.Context, m MatchRecord) error {
	return f(ctx, m)
}

// SinkWriteError wraps a failure to persist one record.
type SinkWriteError struct {
	Record MatchRecord
	Err    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("failed to record %s: %v", e.Record.Line(), e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// FileSink appends one line per match to a file. The file is opened in
// append mode for every write and never truncated.
type FileSink struct {
	Path string
	mu   sync.Mutex
}

// NewFileSink creates a sink appending to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

// Record appends "{address}:{port}\n" in a single write.
func (s *FileSink) Record(_ context.Context, m MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &SinkWriteError{Record: m, Err: err}
	}
	if _, err := f.WriteString(m.Line() + "\n"); err != nil {
		_ = f.Close()
		return &SinkWriteError{Record: m, Err: err}
	}
	if err := f.Close(); err != nil {
		return &SinkWriteError{Record: m, Err: err}
	}
	return nil
}

// NotifySink calls Notify and then records through Inner, so a match is
// announced even when persisting it fails. A nil Inner only notifies.
type NotifySink struct {
	Inner  Sink
	Notify func(MatchRecord)
}

// Record notifies, then persists m.
func (s *NotifySink) Record(ctx context.Context, m MatchRecord) error {
	if s.Notify != nil {
		s.Notify(m)
	}
	if s.Inner == nil {
		return nil
	}
	return s.Inner.Record(ctx, m)
}

// MultiSink records to every sink, even after one fails.
type MultiSink []Sink

// Record fans m out and joins any errors.
func (ms MultiSink) Record(ctx context.Context, m MatchRecord) error {
	var errs []error
	for _, s := range ms {
		if err := s.Record(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
