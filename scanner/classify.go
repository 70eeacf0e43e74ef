package scanner

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// OutcomeKind is the verdict for one probed address.
type OutcomeKind int

const (
	Matched OutcomeKind = iota
	NoMatch
	NetworkError
	Timeout
	NonJSONBody
	MalformedJSON
)

var outcomeNames = [...]string{
	Matched:       "matched",
	NoMatch:       "no_match",
	NetworkError:  "network_error",
	Timeout:       "timeout",
	NonJSONBody:   "non_json_body",
	MalformedJSON: "malformed_json",
}

const outcomeKindCount = len(outcomeNames)

func (k OutcomeKind) String() string {
	if k < 0 || int(k) >= outcomeKindCount {
		return "unknown"
	}
	return outcomeNames[k]
}

// MarshalText lets OutcomeKind be used as a JSON map key.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	for kind, name := range outcomeNames {
		if name == string(text) {
			*k = OutcomeKind(kind)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Evidence is what a matching body revealed about the service.
type Evidence struct {
	SessionCount int      `json:"session_count"`
	Sessions     []string `json:"sessions,omitempty"`
}

// ProbeOutcome is the classified result for one address.
type ProbeOutcome struct {
	Kind     OutcomeKind
	Address  string
	Port     int
	Evidence Evidence
	Reason   string
	Err      error
}

// sessionKeys must all be present on the first element of a sessions listing.
var sessionKeys = []string{"name", "status", "config"}

// Classify turns a raw probe result into a verdict.
func Classify(addr string, port int, raw RawOutcome) ProbeOutcome {
	out := ProbeOutcome{Address: addr, Port: port, Reason: raw.Reason, Err: raw.Err}

	switch raw.Kind {
	case RawTimedOut:
		out.Kind = Timeout
		return out
	case RawNetworkFailure:
		out.Kind = NetworkError
		return out
	}

	if raw.StatusCode != http.StatusOK {
		out.Kind = NoMatch
		return out
	}
	if !strings.Contains(strings.ToLower(raw.ContentType), "application/json") {
		out.Kind = NonJSONBody
		return out
	}

	var body any
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		out.Kind = MalformedJSON
		out.Err = err
		return out
	}

	if !IsSessionList(body) {
		out.Kind = NoMatch
		return out
	}

	out.Kind = Matched
	out.Evidence = sessionEvidence(body.([]any))
	return out
}

// IsSessionList reports whether a decoded JSON value looks like a sessions
// listing: an array that is either empty or whose first element is an object
// carrying name, status and config.
//
// An empty array matches, so any service answering [] on this path counts as
// a hit.
func IsSessionList(v any) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	if len(list) == 0 {
		return true
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range sessionKeys {
		if _, ok := first[key]; !ok {
			return false
		}
	}
	return true
}

func sessionEvidence(list []any) Evidence {
	ev := Evidence{SessionCount: len(list)}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := obj["name"].(string); ok && name != "" {
			ev.Sessions = append(ev.Sessions, name)
		}
	}
	return ev
}
