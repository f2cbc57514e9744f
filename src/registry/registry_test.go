package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/mememo/src/executor"
)

func def(name, pattern string) Definition {
	return Definition{Name: name, Pattern: pattern, Enabled: true, Exec: executor.Spec{Run: "echo " + name}}
}

func TestResolveFirstEnabledMatchWins(t *testing.T) {
	r, err := New([]Definition{def("thanks", "ty.*"), def("generic", "t.*")})
	require.NoError(t, err)

	m, ok := r.Resolve("ty bot")
	require.True(t, ok)
	assert.Equal(t, "thanks", m.Service.Name)

	m, ok = r.Resolve("tell me")
	require.True(t, ok)
	assert.Equal(t, "generic", m.Service.Name)
}

func TestResolveSkipsDisabled(t *testing.T) {
	disabled := def("thanks", "ty.*")
	disabled.Enabled = false
	r, err := New([]Definition{disabled, def("generic", "t.*")})
	require.NoError(t, err)

	m, ok := r.Resolve("ty bot")
	require.True(t, ok)
	assert.Equal(t, "generic", m.Service.Name)
}

func TestResolveNoMatch(t *testing.T) {
	r, err := New([]Definition{def("weather", `weather(?:\s+(\w+))?`)})
	require.NoError(t, err)

	_, ok := r.Resolve("what is the weather")
	assert.False(t, ok, "patterns are anchored at the start of the command")

	_, ok = r.Resolve("   ")
	assert.False(t, ok)
}

func TestResolveNormalizesArgs(t *testing.T) {
	r, err := New([]Definition{def("weather", `weather\s+(.+)`)})
	require.NoError(t, err)

	m, ok := r.Resolve("  weather   new    york  ")
	require.True(t, ok)
	assert.Equal(t, []string{"new york"}, m.Args)
}

func TestResolveIgnoreCase(t *testing.T) {
	d := def("balance", `balance\??`)
	d.IgnoreCase = true
	r, err := New([]Definition{d})
	require.NoError(t, err)

	_, ok := r.Resolve("Balance?")
	assert.True(t, ok)
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	noRun := def("x", "x")
	noRun.Exec.Run = ""
	negative := def("x", "x")
	negative.CacheTTL = -time.Second

	cases := map[string][]Definition{
		"duplicate":    {def("a", "a"), def("a", "b")},
		"bad regexp":   {def("a", "a(")},
		"no name":      {def(" ", "a")},
		"no pattern":   {def("a", "")},
		"no run":       {noRun},
		"negative ttl": {negative},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(defs)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestByGrantAndGet(t *testing.T) {
	bank := def("balance", "balance")
	bank.RequiredGrants = []string{"bank-balance:bank_account", "bank-balance:bank_account", ""}
	r, err := New([]Definition{bank, def("thanks", "ty")})
	require.NoError(t, err)

	got, ok := r.Get("balance")
	require.True(t, ok)
	assert.Equal(t, []string{"bank-balance:bank_account"}, got.RequiredGrants)

	byGrant := r.ByGrant("bank-balance:bank_account")
	require.Len(t, byGrant, 1)
	assert.Equal(t, "balance", byGrant[0].Name)
	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.All(), 2)
}
