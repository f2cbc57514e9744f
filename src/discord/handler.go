package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/grants"
	"github.com/stake-plus/mememo/src/registry"
)

// Dispatcher routes commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// Challenger starts auth3p challenges.
type Challenger interface {
	Begin(ctx context.Context, req challenge.Request, ttl time.Duration) (challenge.Challenge, error)
}

// GrantLister lists a principal's live grants.
type GrantLister interface {
	List(ctx context.Context, principal string) ([]grants.Grant, error)
}

// Incoming is a chat message addressed to the agent.
type Incoming struct {
	AuthorID   string
	AuthorName string
	ChannelID  string
	GuildID    string
	Content    string
}

// Handler turns chat messages into replies. It has no Discord session and
// is shared by every front end that speaks plain text.
type Handler struct {
	Dispatcher Dispatcher
	Challenges Challenger
	Grants     GrantLister
	Services   func() []registry.Definition
}

var mentionRE = regexp.MustCompile(`<@!?\d+>`)

// StripMentions removes user mentions and surrounding whitespace.
func StripMentions(content string) string {
	return strings.TrimSpace(mentionRE.ReplaceAllString(content, " "))
}

// Handle processes one message and returns the reply text.
func (h *Handler) Handle(ctx context.Context, in Incoming, r Resolver) string {
	text := registry.NormalizeCommand(StripMentions(in.Content))
	if text == "" {
		return "Hi! Try `help`."
	}
	principal := Principal(in.AuthorID)

	verb, rest, _ := strings.Cut(text, " ")
	switch strings.ToLower(verb) {
	case "auth", "auth3p":
		return h.auth(ctx, principal, in, strings.TrimSpace(rest))
	case "help":
		if rest == "" {
			return h.help()
		}
	case "whoami":
		if rest == "" {
			return fmt.Sprintf("You are %s (`%s`).", in.AuthorName, principal)
		}
	case "grants":
		if rest == "" {
			return h.grants(ctx, principal)
		}
	}

	out := h.Dispatcher.Dispatch(ctx, dispatch.Request{
		Principal: principal,
		Text:      text,
		Platform: map[string]string{
			"channel": in.ChannelID,
			"guild":   in.GuildID,
			"user":    in.AuthorName,
		},
	})
	return FormatOutcome(out, r)
}

func (h *Handler) auth(ctx context.Context, principal string, in Incoming, grant string) string {
	if grant == "" || strings.ContainsAny(grant, " \t") {
		return "Usage: `auth <grant>`"
	}
	if h.Challenges == nil {
		return DigestError("authorization is not available")
	}
	ch, err := h.Challenges.Begin(ctx, challenge.Request{
		Principal: principal,
		Alias:     in.AuthorName,
		Grant:     grant,
		Context:   in.ChannelID,
	}, 0)
	if err != nil {
		log.Printf("discord: begin challenge for %s/%s: %v", principal, grant, err)
		return DigestError("could not request authorization")
	}
	return fmt.Sprintf(":key: Authorization for `%s` requested. Waiting for approval of challenge `%s` until <t:%d:t>.",
		grant, ch.ID, ch.ExpiresAt.Unix())
}

func (h *Handler) help() string {
	var b strings.Builder
	b.WriteString("**Commands**\n")
	b.WriteString("`auth <grant>`: request authorization\n")
	b.WriteString("`grants`: list your authorizations\n")
	b.WriteString("`whoami`: show your identity\n")
	if h.Services == nil {
		return strings.TrimRight(b.String(), "\n")
	}
	var listed int
	for _, def := range h.Services() {
		if !def.Enabled || def.Doc == "" {
			continue
		}
		if listed == 0 {
			b.WriteString("\n**Services**\n")
		}
		listed++
		b.WriteString("`" + def.Name + "`: " + def.Doc)
		if len(def.RequiredGrants) > 0 {
			b.WriteString(" :lock:")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) grants(ctx context.Context, principal string) string {
	if h.Grants == nil {
		return "No authorizations."
	}
	list, err := h.Grants.List(ctx, principal)
	if err != nil {
		if errors.Is(err, grants.ErrStoreUnavailable) {
			log.Printf("discord: list grants for %s: %v", principal, err)
		}
		return DigestError("could not list authorizations")
	}
	if len(list) == 0 {
		return "No authorizations."
	}
	var b strings.Builder
	b.WriteString("**Authorizations**")
	for _, g := range list {
		fmt.Fprintf(&b, "\n`%s` until <t:%d:f>", g.GrantName, g.ExpiresAt.Unix())
	}
	return b.String()
}

// ResolvedMessage is the channel notice for a finished challenge.
func ResolvedMessage(ch challenge.Challenge) (channelID, text string, ok bool) {
	userID, isDiscord := UserID(ch.PrincipalID)
	if !isDiscord || ch.Context == "" {
		return "", "", false
	}
	mention := "<@" + userID + ">"
	switch ch.State {
	case challenge.Answered:
		text = fmt.Sprintf(":white_check_mark: %s authorization for `%s` approved.", mention, ch.GrantName)
	case challenge.Rejected:
		text = fmt.Sprintf(":no_entry: %s authorization for `%s` denied.", mention, ch.GrantName)
	case challenge.Expired:
		text = fmt.Sprintf(":hourglass: %s authorization request for `%s` expired. Run `auth %s` to try again.", mention, ch.GrantName, ch.GrantName)
	default:
		return "", "", false
	}
	return ch.Context, text, true
}
