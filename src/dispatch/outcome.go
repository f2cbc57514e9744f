package dispatch

import (
	"fmt"
	"strings"
)

// Kind classifies the result of a dispatch.
type Kind int

const (
	Handled Kind = iota
	Unrecognized
	AuthorizationRequired
	ExecutionFailed
	ExecutionTimeout
	RateLimited
	StoreUnavailable
)

var kindNames = [...]string{
	Handled:               "handled",
	Unrecognized:          "unrecognized",
	AuthorizationRequired: "authorization_required",
	ExecutionFailed:       "execution_failed",
	ExecutionTimeout:      "execution_timeout",
	RateLimited:           "rate_limited",
	StoreUnavailable:      "store_unavailable",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets outcomes be encoded by name in JSON responses.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Request is an inbound command.
type Request struct {
	Principal string
	Text      string
	// Platform carries front-end details (channel id, user name) passed to
	// scripts as MEMEMO_PLATFORM_* variables.
	Platform map[string]string
}

// Outcome is what the front end reports back to the requester.
type Outcome struct {
	Kind    Kind     `json:"kind"`
	Service string   `json:"service,omitempty"`
	Text    string   `json:"text,omitempty"`
	Missing []string `json:"missing,omitempty"`
	Detail  string   `json:"detail,omitempty"`
	Exit    int      `json:"exit,omitempty"`
	Cached  bool     `json:"cached,omitempty"`
}

// Summary renders an outcome as a single human readable message.
func (o Outcome) Summary() string {
	switch o.Kind {
	case Handled:
		if strings.TrimSpace(o.Text) == "" {
			return "(no output)"
		}
		return o.Text
	case Unrecognized:
		return "Sorry, I don't know how to do that. Try `help`."
	case AuthorizationRequired:
		return fmt.Sprintf("%s needs authorization: %s. Request it with `auth <grant>`.",
			o.Service, strings.Join(o.Missing, ", "))
	case ExecutionFailed:
		if o.Detail == "" {
			return fmt.Sprintf("%s failed (exit %d).", o.Service, o.Exit)
		}
		return fmt.Sprintf("%s failed (exit %d): %s", o.Service, o.Exit, o.Detail)
	case ExecutionTimeout:
		return fmt.Sprintf("%s timed out.", o.Service)
	case RateLimited:
		return "Slow down, too many requests. Try again shortly."
	case StoreUnavailable:
		return "Service temporarily unavailable, please try again later."
	}
	return o.Kind.String()
}
