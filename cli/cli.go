package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"

	"sessionscan/config"
	"sessionscan/logging"
	"sessionscan/scanner"
)

// errNoRanges is returned when neither the arguments nor the config file name a range.
var errNoRanges = errors.New("no ranges given")

// options is the fully resolved invocation.
type options struct {
	cfg    *config.Config
	ranges []string
	json   bool
	quiet  bool
}

// Run is the main entry point for the CLI application.
// It parses flags and arguments, builds the scan pipeline and runs one scan.
// The returned value is the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := opts.cfg

	logger := logging.Configure(stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober, err := scanner.NewProber(scanner.ProberOptions{
		Port:        cfg.Port,
		Path:        cfg.Path,
		Timeout:     cfg.Timeout,
		SynPrecheck: cfg.SynPrecheck,
		Rate:        cfg.Rate,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if cfg.SynPrecheck {
			fmt.Fprintln(stderr, "SYN pre-check requires elevated privileges. Try: sudo sessionscan -syn ...")
		}
		return 1
	}
	defer func() {
		if err := scanner.CloseProber(prober); err != nil {
			logger.Error("failed to close prober", "error", err)
		}
	}()

	queue, cleanup, err := newQueue(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	con := newConsole(stdout, opts.quiet)
	o := &scanner.Orchestrator{
		Workers:  cfg.Workers,
		Port:     cfg.Port,
		MaxHosts: cfg.MaxHosts,
		Queue:    queue,
		Prober:   prober,
		Sink: &scanner.NotifySink{
			Inner:  scanner.NewFileSink(cfg.Output),
			Notify: con.match,
		},
		Logger:     logger,
		OnEnqueued: con.start,
		OnOutcome:  func(scanner.ProbeOutcome) { con.advance() },
	}

	if !opts.json {
		color.New(color.FgCyan).Fprintf(stdout, "--- Scanning %d range(s) on port %d ---\n", len(opts.ranges), cfg.Port)
		color.New(color.FgCyan).Fprintf(stdout, "--- Workers: %d | Timeout: %s | Output: %s ---\n", cfg.Workers, cfg.Timeout, cfg.Output)
	}

	summary, err := o.Run(ctx, opts.ranges)
	con.finish()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.json {
		return printJSON(stdout, stderr, summary)
	}
	printSummary(stdout, summary, cfg.Output)
	return 0
}

// parseArgs resolves the configuration in order: defaults, YAML file, .env
// and environment, then flags that were set explicitly.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	def := config.Default()

	fs := flag.NewFlagSet("sessionscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: sessionscan [flags] CIDR...")
		fmt.Fprintln(stderr, "       sessionscan serve [-config file]")
		fmt.Fprintln(stderr, "Example: sessionscan -workers 200 192.0.2.0/24 198.51.100.0/28")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML config file")
	workers := fs.Int("workers", def.Workers, "Number of concurrent workers")
	timeout := fs.Duration("timeout", def.Timeout, "Per-probe timeout")
	port := fs.Int("port", def.Port, "Port to probe")
	path := fs.String("path", def.Path, "Request path to probe")
	output := fs.String("o", def.Output, "File to append matches to")
	queue := fs.String("queue", def.Queue, "Target queue backend (memory or redis)")
	rate := fs.Float64("rate", def.Rate, "Maximum probes per second (0 = unlimited)")
	maxHosts := fs.Int64("max-hosts", def.MaxHosts, "Refuse to scan ranges covering more addresses than this")
	syn := fs.Bool("syn", def.SynPrecheck, "Skip hosts whose port does not answer a SYN (requires root/admin)")
	jsonOut := fs.Bool("json", false, "Print the summary as JSON")
	quiet := fs.Bool("quiet", false, "Disable the progress bar")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = *workers
		case "timeout":
			cfg.Timeout = *timeout
		case "port":
			cfg.Port = *port
		case "path":
			cfg.Path = *path
		case "o":
			cfg.Output = *output
		case "queue":
			cfg.Queue = *queue
		case "rate":
			cfg.Rate = *rate
		case "max-hosts":
			cfg.MaxHosts = *maxHosts
		case "syn":
			cfg.SynPrecheck = *syn
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ranges := append(append([]string(nil), cfg.Ranges...), fs.Args()...)
	if len(ranges) == 0 {
		fs.Usage()
		return nil, errNoRanges
	}

	return &options{cfg: cfg, ranges: ranges, json: *jsonOut, quiet: *quiet}, nil
}

// newQueue builds the target queue selected by cfg.Queue. The returned
// cleanup drops any Redis state the run created.
func newQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scanner.TargetQueue, func(), error) {
	if cfg.Queue != config.QueueRedis {
		return scanner.NewMemoryQueue(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}

	key := "sessionscan:targets:" + strconv.Itoa(os.Getpid()) + ":" + strconv.FormatInt(time.Now().UnixNano(), 36)
	q := scanner.NewRedisQueue(client, key)
	cleanup := func() {
		if err := q.Clear(context.Background()); err != nil {
			logger.Error("failed to clear target queue", "key", key, "error", err)
		}
		_ = client.Close()
	}
	return q, cleanup, nil
}

// console owns everything written to stdout while workers run, so match
// lines and progress bar redraws never interleave.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
	bar   *progressbar.ProgressBar
	found *color.Color
}

func newConsole(out io.Writer, quiet bool) *console {
	return &console{out: out, quiet: quiet, found: color.New(color.FgGreen)}
}

func (c *console) start(total int64) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[cyan][scanning][reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (c *console) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		_ = c.bar.Add(1)
	}
}

func (c *console) match(m scanner.MatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		_ = c.bar.Clear()
	}
	c.found.Fprintf(c.out, "\r[+] Found: %s (%d sessions)\n", m.Line(), m.Evidence.SessionCount)
}

func (c *console) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		_ = c.bar.Finish()
		fmt.Fprintln(c.out)
	}
}

func printSummary(w io.Writer, s scanner.Summary, output string) {
	fmt.Fprintln(w, "============================")
	for _, bad := range s.InvalidRanges {
		color.New(color.FgRed).Fprintf(w, "[-] %s\n", bad)
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "[+] Scan finished in %s\n", s.Duration.Round(time.Millisecond))
	cyan.Fprintf(w, "[+] Probed %d of %d addresses\n", s.Processed, s.Enqueued)
	if s.Remaining > 0 {
		color.New(color.FgYellow).Fprintf(w, "[!] Interrupted with %d addresses left\n", s.Remaining)
	}
	if s.SinkErrors > 0 {
		color.New(color.FgRed).Fprintf(w, "[-] %d matches could not be written to %s\n", s.SinkErrors, output)
	}
	cyan.Fprintf(w, "[+] Total servers found: %d (saved to %s)\n", s.Matched, output)
}

func printJSON(stdout, stderr io.Writer, s scanner.Summary) int {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error encoding to JSON: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}
