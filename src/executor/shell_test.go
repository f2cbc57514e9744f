//go:build unix

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunPassesArgsPositionally(t *testing.T) {
	sh := NewShell(nil, nil)
	res, err := sh.Run(context.Background(), Spec{
		Run: `echo "hello $1 ($MEMEMO_ARG_2) from $MEMEMO_PRINCIPAL"`,
	}, Invocation{Service: "greet", Principal: "discord-1", Args: []string{"world; rm -rf /", "two"}})

	require.NoError(t, err)
	assert.Equal(t, "hello world; rm -rf / (two) from discord-1", res.Output)
}

func TestShellRunSetupAndEnv(t *testing.T) {
	dir := t.TempDir()
	sh := NewShell(map[string]string{"GREETING": "hi", "TARGET": "agent"}, nil)
	res, err := sh.Run(context.Background(), Spec{
		Setup:   `echo ready > marker`,
		Run:     `cat marker; echo "$GREETING $TARGET"`,
		Env:     map[string]string{"TARGET": "service"},
		WorkDir: dir,
	}, Invocation{Service: "env"})

	require.NoError(t, err)
	assert.Equal(t, "ready\nhi service", res.Output)
}

func TestShellRunFailingSetupStops(t *testing.T) {
	sh := NewShell(nil, nil)
	_, err := sh.Run(context.Background(), Spec{
		Setup: `exit 3`,
		Run:   `echo unreachable`,
	}, Invocation{Service: "setup"})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestShellRunExitErrorRedactsSecrets(t *testing.T) {
	sh := NewShell(nil, []string{"hunter22"})
	_, err := sh.Run(context.Background(), Spec{
		Run:     `echo "login failed for $BANK_USER with $BANK_PASS" >&2; exit 2`,
		Env:     map[string]string{"BANK_USER": "alice", "BANK_PASS": "s3cr3t-pass"},
		Secrets: []string{"s3cr3t-pass"},
	}, Invocation{Service: "bank"})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "login failed for alice with ****", exitErr.Stderr)
	assert.NotContains(t, err.Error(), "s3cr3t-pass")
}

func TestShellRunTimeoutKillsProcess(t *testing.T) {
	sh := NewShell(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sh.Run(ctx, Spec{Run: `sleep 5 & sleep 5; wait`}, Invocation{Service: "slow"})

	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellRunRequiresTemplate(t *testing.T) {
	_, err := NewShell(nil, nil).Run(context.Background(), Spec{}, Invocation{Service: "empty"})
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "token=**** x=ab", Redact("token=abcdef x=ab", []string{"abcdef", "ab", ""}))
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
