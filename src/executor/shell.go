package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultShell     = "/bin/sh"
	defaultMaxOutput = 1 << 20 // 1 MiB
	stderrTailLines  = 8
	killGrace        = 2 * time.Second
)

// Shell runs services through a POSIX shell. Capture groups are passed as
// positional parameters and MEMEMO_ARG_n variables, never spliced into the
// script text.
type Shell struct {
	Path      string            // shell binary, default /bin/sh
	Env       map[string]string // agent-wide overrides, below the service's own
	Secrets   []string          // agent-wide secret values to redact
	MaxOutput int               // per-stream capture cap in bytes
}

// NewShell returns a Shell with global env overrides.
func NewShell(env map[string]string, secrets []string) *Shell {
	return &Shell{Env: env, Secrets: secrets}
}

func (s *Shell) Run(ctx context.Context, spec Spec, inv Invocation) (Result, error) {
	if strings.TrimSpace(spec.Run) == "" {
		return Result{}, fmt.Errorf("executor: service %s has no run template", inv.Service)
	}

	script := spec.Run
	if setup := strings.TrimSpace(spec.Setup); setup != "" {
		script = "set -e\n" + setup + "\n" + spec.Run
	}

	shell := s.Path
	if shell == "" {
		shell = defaultShell
	}
	argv := append([]string{"-c", script, "mememo-" + inv.Service}, inv.Args...)
	cmd := exec.CommandContext(ctx, shell, argv...)
	cmd.Dir = spec.WorkDir
	cmd.Env = s.environ(spec, inv)
	configureProcess(cmd)
	cmd.WaitDelay = killGrace

	limit := s.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	secrets := append(append([]string(nil), s.Secrets...), spec.Secrets...)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{Duration: elapsed}, ErrTimeout
		}
		return Result{Duration: elapsed}, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Duration: elapsed}, &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: Redact(tail(stderr.String(), stderrTailLines), secrets),
			}
		}
		return Result{Duration: elapsed}, fmt.Errorf("executor: start %s: %w", inv.Service, err)
	}

	return Result{
		Output:   Redact(strings.TrimRight(stdout.String(), "\n"), secrets),
		Duration: elapsed,
	}, nil
}

func (s *Shell) environ(spec Spec, inv Invocation) []string {
	env := os.Environ()
	env = appendSorted(env, s.Env)
	env = appendSorted(env, spec.Env)
	env = append(env,
		"MEMEMO_SERVICE="+inv.Service,
		"MEMEMO_PRINCIPAL="+inv.Principal,
	)
	for i, arg := range inv.Args {
		env = append(env, "MEMEMO_ARG_"+strconv.Itoa(i+1)+"="+arg)
	}
	for k, v := range inv.Platform {
		env = append(env, "MEMEMO_PLATFORM_"+strings.ToUpper(k)+"="+v)
	}
	return env
}

// appendSorted appends k=v pairs in key order; later entries win in exec.
func appendSorted(env []string, vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// cappedBuffer silently drops writes past limit so a chatty script cannot
// exhaust memory.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
