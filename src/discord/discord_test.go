package discord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/grants"
	"github.com/stake-plus/mememo/src/registry"
)

func TestBuildLongMessagesShort(t *testing.T) {
	assert.Equal(t, []string{"<@1> hi"}, BuildLongMessages("hi", "<@1>"))
	assert.Equal(t, []string{"hi"}, BuildLongMessages("hi", ""))
}

func TestBuildLongMessagesSplitsAndReopensFences(t *testing.T) {
	var b strings.Builder
	b.WriteString("```text\n")
	for i := 0; i < 300; i++ {
		b.WriteString("line of script output number ")
		b.WriteString(strings.Repeat("x", 10))
		b.WriteByte('\n')
	}
	b.WriteString("```\ndone")

	chunks := BuildLongMessages(b.String(), "<@42>")
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasPrefix(chunks[0], "<@42> ```text"))
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), MaxDiscordMessageLen, "chunk %d", i)
		assert.Equal(t, 0, strings.Count(c, "```")%2, "chunk %d has balanced fences", i)
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(c, continuedMarker))
		}
	}
	for _, c := range chunks[1:] {
		assert.NotContains(t, c, "<@42>")
	}
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "done"))
}

func TestBuildLongMessagesSplitsLongLines(t *testing.T) {
	chunks := BuildLongMessages(strings.Repeat("é", 3000), "")
	require.Greater(t, len(chunks), 1)
	var joined strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), MaxDiscordMessageLen)
		joined.WriteString(strings.TrimSuffix(c, "\n"+continuedMarker))
	}
	assert.Equal(t, strings.Repeat("é", 3000), joined.String())
}

func TestWrapURLsNoEmbed(t *testing.T) {
	assert.Equal(t, "see <https://example.com/a>.", WrapURLsNoEmbed("see https://example.com/a."))
}

type fakeResolver map[string]string

func (f fakeResolver) UserMention(name string) (string, bool) {
	v, ok := f["@"+name]
	return v, ok
}

func (f fakeResolver) ChannelMention(name string) (string, bool) {
	v, ok := f["#"+name]
	return v, ok
}

func TestDigestResponse(t *testing.T) {
	r := fakeResolver{"@alice": "<@1>", "#ops": "<#9>"}
	assert.Equal(t, "hi <@1>, see <#9>", DigestResponse("hi @<alice>, see #<ops>", r))
	assert.Equal(t, "<no user: bob> <no room: x>", DigestResponse("@<bob> #<x>", r))
	assert.Equal(t, "```\na  b\n```", DigestResponse(CodeMarker+"\na  b\n", r))
}

func TestDigestError(t *testing.T) {
	out := DigestError("fail failed", "exit 2")
	assert.True(t, strings.HasPrefix(out, ":warning: Sorry, something went wrong.\n```\n"))
	assert.Contains(t, out, "exit 2\n```")
}

type fakeDispatcher struct{ got []dispatch.Request }

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) dispatch.Outcome {
	f.got = append(f.got, req)
	if strings.HasPrefix(req.Text, "balance") {
		return dispatch.Outcome{Kind: dispatch.AuthorizationRequired, Service: "balance", Missing: []string{"bank-balance:bank_account"}}
	}
	return dispatch.Outcome{Kind: dispatch.Handled, Service: "echo", Text: "hello @<alice>"}
}

type fakeChallenger struct {
	got []challenge.Request
	err error
}

func (f *fakeChallenger) Begin(_ context.Context, req challenge.Request, _ time.Duration) (challenge.Challenge, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return challenge.Challenge{}, f.err
	}
	return challenge.Challenge{ID: "c-1", ExpiresAt: time.Unix(1700000000, 0)}, nil
}

type fakeGrants []grants.Grant

func (f fakeGrants) List(context.Context, string) ([]grants.Grant, error) { return f, nil }

func newHandler() (*Handler, *fakeDispatcher, *fakeChallenger) {
	d := &fakeDispatcher{}
	c := &fakeChallenger{}
	return &Handler{
		Dispatcher: d,
		Challenges: c,
		Grants:     fakeGrants{{GrantName: "bank-balance:bank_account", ExpiresAt: time.Unix(1800000000, 0)}},
		Services: func() []registry.Definition {
			return []registry.Definition{
				{Name: "weather", Enabled: true, Doc: "weather <city>"},
				{Name: "balance", Enabled: true, Doc: "account balance", RequiredGrants: []string{"bank-balance:bank_account"}},
				{Name: "hidden", Enabled: false, Doc: "nope"},
			}
		},
	}, d, c
}

func incoming(content string) Incoming {
	return Incoming{AuthorID: "123", AuthorName: "alice", ChannelID: "chan", GuildID: "guild", Content: content}
}

func TestHandlerDispatches(t *testing.T) {
	h, d, _ := newHandler()
	reply := h.Handle(context.Background(), incoming("<@999>   echo   this "), fakeResolver{"@alice": "<@123>"})
	assert.Equal(t, "hello <@123>", reply)
	require.Len(t, d.got, 1)
	assert.Equal(t, "discord-123", d.got[0].Principal)
	assert.Equal(t, "echo this", d.got[0].Text)
	assert.Equal(t, "chan", d.got[0].Platform["channel"])

	reply = h.Handle(context.Background(), incoming("balance?"), nil)
	assert.Contains(t, reply, "auth bank-balance:bank_account")
}

func TestHandlerAuthMasksToChallenge(t *testing.T) {
	h, d, c := newHandler()
	reply := h.Handle(context.Background(), incoming("<@999> auth bank-balance:bank_account"), nil)
	assert.Contains(t, reply, "c-1")
	require.Len(t, c.got, 1)
	assert.Equal(t, challenge.Request{Principal: "discord-123", Alias: "alice", Grant: "bank-balance:bank_account", Context: "chan"}, c.got[0])
	assert.Empty(t, d.got)

	assert.Contains(t, h.Handle(context.Background(), incoming("auth"), nil), "Usage")

	c.err = errors.New("boom")
	assert.Contains(t, h.Handle(context.Background(), incoming("auth x"), nil), "could not request authorization")
}

func TestHandlerBuiltins(t *testing.T) {
	h, d, _ := newHandler()
	help := h.Handle(context.Background(), incoming("help"), nil)
	assert.Contains(t, help, "`weather`: weather <city>")
	assert.Contains(t, help, "`balance`: account balance :lock:")
	assert.NotContains(t, help, "hidden")

	assert.Equal(t, "You are alice (`discord-123`).", h.Handle(context.Background(), incoming("whoami"), nil))
	assert.Contains(t, h.Handle(context.Background(), incoming("grants"), nil), "`bank-balance:bank_account` until <t:1800000000:f>")
	assert.Empty(t, d.got)

	h.Handle(context.Background(), incoming("help me out"), nil)
	assert.Len(t, d.got, 1, "builtins only match exactly")
}

func TestResolvedMessage(t *testing.T) {
	ch := challenge.Challenge{PrincipalID: "discord-123", GrantName: "g", Context: "chan", State: challenge.Answered}
	channel, text, ok := ResolvedMessage(ch)
	require.True(t, ok)
	assert.Equal(t, "chan", channel)
	assert.Contains(t, text, "<@123>")
	assert.Contains(t, text, "approved")

	ch.State = challenge.Pending
	_, _, ok = ResolvedMessage(ch)
	assert.False(t, ok)

	ch = challenge.Challenge{PrincipalID: "cli-admin", Context: "x", State: challenge.Rejected}
	_, _, ok = ResolvedMessage(ch)
	assert.False(t, ok)
}

func TestFormatOutcome(t *testing.T) {
	assert.Contains(t, FormatOutcome(dispatch.Outcome{Kind: dispatch.ExecutionFailed, Service: "x", Exit: 2, Detail: "bad input"}, nil), "bad input")
	assert.Contains(t, FormatOutcome(dispatch.Outcome{Kind: dispatch.ExecutionTimeout, Service: "x"}, nil), "timed out")
	assert.Equal(t, "(no output)", FormatOutcome(dispatch.Outcome{Kind: dispatch.Handled}, nil))
}
