package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is returned when a run exceeds its deadline and was killed.
var ErrTimeout = errors.New("executor: timed out")

// Spec describes how a service is executed. It is opaque to the dispatcher.
type Spec struct {
	Setup   string            // optional step run before Run, in the same shell
	Run     string            // shell template; capture groups arrive as $1..$n
	Env     map[string]string // overrides layered over the agent environment
	WorkDir string
	Secrets []string // values that must never appear in output or diagnostics
}

// Invocation carries the per-request inputs of a run.
type Invocation struct {
	Service   string
	Principal string
	Args      []string
	Platform  map[string]string
}

// Result is the captured output of a successful run.
type Result struct {
	Output   string
	Duration time.Duration
}

// Executor runs a service. Implementations must honour ctx cancellation and
// return ErrTimeout when the context deadline killed the run.
type Executor interface {
	Run(ctx context.Context, spec Spec, inv Invocation) (Result, error)
}

// ExitError reports a run that finished with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("executor: exit status %d", e.Code)
	}
	return fmt.Sprintf("executor: exit status %d: %s", e.Code, e.Stderr)
}

// Func adapts a function into an Executor.
type Func func(ctx context.Context, spec Spec, inv Invocation) (Result, error)

func (f Func) Run(ctx context.Context, spec Spec, inv Invocation) (Result, error) {
	return f(ctx, spec, inv)
}

const redacted = "****"

// Redact replaces every occurrence of each secret in text. Secrets shorter than
// four bytes are ignored so single characters do not blank out the output.
func Redact(text string, secrets []string) string {
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		text = strings.ReplaceAll(text, s, redacted)
	}
	return text
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
