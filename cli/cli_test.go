package cli

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestParseArgsDefaults(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseArgs([]string{"192.0.2.0/30"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.cfg.Workers != 500 || opts.cfg.Port != 3000 || opts.cfg.Timeout != 2*time.Second {
		t.Errorf("unexpected defaults: %+v", opts.cfg)
	}
	if len(opts.ranges) != 1 || opts.ranges[0] != "192.0.2.0/30" {
		t.Errorf("ranges = %v", opts.ranges)
	}
	if opts.json || opts.quiet {
		t.Errorf("json/quiet should default to false")
	}
}

func TestParseArgsFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	yaml := "ranges:\n  - 198.51.100.0/29\nworkers: 50\nport: 3001\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	opts, err := parseArgs([]string{"-config", path, "-workers", "7", "-json", "203.0.113.5"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.cfg.Workers != 7 {
		t.Errorf("Workers = %d, want flag value 7", opts.cfg.Workers)
	}
	if opts.cfg.Port != 3001 {
		t.Errorf("Port = %d, want file value 3001", opts.cfg.Port)
	}
	want := []string{"198.51.100.0/29", "203.0.113.5"}
	if strings.Join(opts.ranges, ",") != strings.Join(want, ",") {
		t.Errorf("ranges = %v, want %v", opts.ranges, want)
	}
	if !opts.json {
		t.Error("json flag not applied")
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no ranges", nil},
		{"zero workers", []string{"-workers", "0", "192.0.2.1"}},
		{"bad port", []string{"-port", "70000", "192.0.2.1"}},
		{"negative timeout", []string{"-timeout", "-1s", "192.0.2.1"}},
		{"unknown queue", []string{"-queue", "kafka", "192.0.2.1"}},
		{"unknown flag", []string{"-bogus", "192.0.2.1"}},
		{"missing config file", []string{"-config", "/nonexistent/scan.yaml", "192.0.2.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if _, err := parseArgs(tt.args, &stderr); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseArgsNoRangesSentinel(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseArgs(nil, &stderr)
	if !errors.Is(err, errNoRanges) {
		t.Fatalf("err = %v, want errNoRanges", err)
	}
	if !strings.Contains(stderr.String(), "Usage: sessionscan") {
		t.Errorf("usage not printed: %q", stderr.String())
	}
}

func TestRunExitsOneOnConfigError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run(t.Context(), []string{"-workers", "0", "192.0.2.1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "workers must be at least 1") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunRecordsMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"default","status":"WORKING","config":{}}]`))
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "found.txt")

	var stdout, stderr bytes.Buffer
	args := []string{"-port", portStr, "-workers", "2", "-quiet", "-o", out, "127.0.0.1", "not-a-range"}
	if code := Run(t.Context(), args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	if want := "127.0.0.1:" + strconv.Itoa(port) + "\n"; string(data) != want {
		t.Errorf("output file = %q, want %q", data, want)
	}
	if !strings.Contains(stdout.String(), "[+] Found: 127.0.0.1:"+portStr) {
		t.Errorf("match line missing from stdout: %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "Total servers found: 1") {
		t.Errorf("total missing from stdout: %q", stdout.String())
	}
}

func TestRunJSONSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	out := filepath.Join(t.TempDir(), "found.txt")

	var stdout, stderr bytes.Buffer
	args := []string{"-port", portStr, "-json", "-quiet", "-o", out, "127.0.0.1"}
	if code := Run(t.Context(), args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	for _, want := range []string{`"enqueued": 1`, `"processed": 1`, `"matched": 0`} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("summary missing %s: %s", want, stdout.String())
		}
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file should not exist without matches, stat err = %v", err)
	}
}

func TestRunRefusesRangesOverMaxHosts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "found.txt")
	var stdout, stderr bytes.Buffer
	args := []string{"-max-hosts", "4", "-quiet", "-o", out, "192.0.2.0/29"}
	if code := Run(t.Context(), args, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "limit is 4") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
