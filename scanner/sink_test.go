package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileSinkAppendsWithoutTruncating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "found.txt")
	if err := os.WriteFile(path, []byte("198.51.100.1:3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewFileSink(path)
	if err := s.Record(context.Background(), MatchRecord{Address: "198.51.100.2", Port: 3000}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "198.51.100.1:3000\n198.51.100.2:3000\n" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestFileSinkConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "found.txt")
	s := NewFileSink(path)

	const total = 200
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := MatchRecord{Address: fmt.Sprintf("10.0.%d.%d", i/256, i%256), Port: 3000}
			if err := s.Record(context.Background(), rec); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != total {
		t.Fatalf("got %d lines, want %d", len(lines), total)
	}
	seen := make(map[string]bool)
	for _, line := range lines {
		if !strings.HasPrefix(line, "10.0.") || !strings.HasSuffix(line, ":3000") {
			t.Fatalf("corrupt line %q", line)
		}
		if seen[line] {
			t.Fatalf("duplicate line %q", line)
		}
		seen[line] = true
	}
}

func TestFileSinkWriteError(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "missing-dir", "found.txt"))
	err := s.Record(context.Background(), MatchRecord{Address: "10.0.0.1", Port: 3000})
	var writeErr *SinkWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected SinkWriteError, got %v", err)
	}
	if writeErr.Record.Line() != "10.0.0.1:3000" {
		t.Fatalf("error lost record: %v", writeErr)
	}
}

func TestNotifyAndMultiSink(t *testing.T) {
	var notified []string
	var recorded []string
	failing := SinkFunc(func(context.Context, MatchRecord) error { return errors.New("disk full") })
	memory := SinkFunc(func(_ context.Context, m MatchRecord) error {
		recorded = append(recorded, m.Line())
		return nil
	})

	ns := &NotifySink{Inner: memory, Notify: func(m MatchRecord) { notified = append(notified, m.Line()) }}
	if err := ns.Record(context.Background(), MatchRecord{Address: "10.0.0.1", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	if len(notified) != 1 || len(recorded) != 1 {
		t.Fatalf("notified=%v recorded=%v", notified, recorded)
	}

	unsaved := &NotifySink{Inner: failing, Notify: func(m MatchRecord) { notified = append(notified, m.Line()) }}
	if err := unsaved.Record(context.Background(), MatchRecord{Address: "10.0.0.2", Port: 3000}); err == nil {
		t.Fatal("expected error from failing inner sink")
	}
	if len(notified) != 2 || notified[1] != "10.0.0.2:3000" {
		t.Fatalf("match must be announced even when it cannot be saved, notified=%v", notified)
	}

	multi := MultiSink{failing, memory}
	if err := multi.Record(context.Background(), MatchRecord{Address: "10.0.0.3", Port: 3000}); err == nil {
		t.Fatal("expected joined error")
	}
	if recorded[len(recorded)-1] != "10.0.0.3:3000" {
		t.Fatal("later sinks must still record after an earlier failure")
	}
}
