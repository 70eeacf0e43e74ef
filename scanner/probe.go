package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// RawKind tags the transport-level result of a probe.
type RawKind int

const (
	RawHTTPOK RawKind = iota // an HTTP response arrived, whatever its status
	RawNetworkFailure
	RawTimedOut
)

func (k RawKind) String() string {
	switch k {
	case RawHTTPOK:
		return "http_ok"
	case RawNetworkFailure:
		return "network_failure"
	case RawTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// RawOutcome is what a Prober observed for one address.
type RawOutcome struct {
	Kind        RawKind
	StatusCode  int
	ContentType string
	Body        []byte
	Reason      string // short failure reason for NetworkFailure
	Err         error
}

// Prober performs a single probe against an address.
type Prober interface {
	Probe(ctx context.Context, addr string) RawOutcome
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, addr string) RawOutcome

// Probe calls f(ctx, addr).
func (f ProberFunc) Probe(ctx context.Context, addr string) RawOutcome {
	return f(ctx, addr)
}

// HTTPProber issues one GET per address against a fixed port and path.
type HTTPProber struct {
	Port         int
	Path         string
	Timeout      time.Duration
	Header       http.Header
	MaxBodyBytes int64

	client *http.Client
}

// NewHTTPProber builds a prober with the default JSON accept header and a 1 MiB body cap.
func NewHTTPProber(port int, path string, timeout time.Duration) *HTTPProber {
	header := make(http.Header)
	header.Set("Accept", "application/json")

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: -1,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}

	return &HTTPProber{
		Port:         port,
		Path:         path,
		Timeout:      timeout,
		Header:       header,
		MaxBodyBytes: 1 << 20,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// URL returns the probe URL for addr.
func (p *HTTPProber) URL(addr string) string {
	return "http://" + net.JoinHostPort(addr, strconv.Itoa(p.Port)) + p.Path
}

// Probe performs the request. Every transport fault is folded into the
// returned outcome; nothing is retried.
func (p *HTTPProber) Probe(ctx context.Context, addr string) RawOutcome {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(addr), nil)
	if err != nil {
		return RawOutcome{Kind: RawNetworkFailure, Reason: "request", Err: err}
	}
	for key, values := range p.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return failureOutcome(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.MaxBodyBytes))
	if err != nil {
		return failureOutcome(err)
	}

	return RawOutcome{
		Kind:        RawHTTPOK,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
}

func failureOutcome(err error) RawOutcome {
	if isTimeout(err) {
		return RawOutcome{Kind: RawTimedOut, Reason: "timeout", Err: err}
	}
	return RawOutcome{Kind: RawNetworkFailure, Reason: failureReason(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// failureReason buckets transport errors for logging and stats.
func failureReason(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case isConnectionRefused(err):
		return "refused"
	case errors.Is(err, syscall.ECONNRESET), strings.Contains(err.Error(), "connection reset"):
		return "reset"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "unreachable"
	default:
		return "other"
	}
}

// isConnectionRefused checks if the error is a connection refused error.
// On Windows the refusal may only be visible in the message text.
func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "actively refused")
}

// RateLimited wraps a Prober so that probes start no faster than the limiter allows.
type RateLimited struct {
	Inner   Prober
	Limiter *rate.Limiter
}

// NewRateLimited allows perSecond probes per second with a burst of one second's worth.
func NewRateLimited(inner Prober, perSecond float64) *RateLimited {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Inner: inner, Limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Probe waits for a token, then delegates.
func (r *RateLimited) Probe(ctx context.Context, addr string) RawOutcome {
	if err := r.Limiter.Wait(ctx); err != nil {
		return RawOutcome{Kind: RawNetworkFailure, Reason: "canceled", Err: err}
	}
	return r.Inner.Probe(ctx, addr)
}

// Close releases whatever Inner holds.
func (r *RateLimited) Close() error {
	return CloseProber(r.Inner)
}

// CloseProber closes p if it holds resources, such as the SYN pre-check socket.
func CloseProber(p Prober) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ProberOptions selects the probe chain built by NewProber.
type ProberOptions struct {
	Port        int
	Path        string
	Timeout     time.Duration
	SynPrecheck bool
	Rate        float64 // probes per second; 0 disables the limiter
}

// NewProber builds the HTTP prober, optionally behind a SYN pre-check and a
// global rate limiter. SYN prerequisites are checked here so that a missing
// privilege fails at startup. Release the result with CloseProber.
func NewProber(opts ProberOptions) (Prober, error) {
	var prober Prober = NewHTTPProber(opts.Port, opts.Path, opts.Timeout)
	if opts.SynPrecheck {
		syn, err := InitSynPrecheck(prober, opts.Port, opts.Timeout)
		if err != nil {
			return nil, err
		}
		prober = syn
	}
	if opts.Rate > 0 {
		prober = NewRateLimited(prober, opts.Rate)
	}
	return prober, nil
}
