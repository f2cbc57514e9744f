package discord

import (
	"regexp"
	"strings"

	"github.com/stake-plus/mememo/src/dispatch"
)

// CodeMarker at the start of service output asks for a code block.
const CodeMarker = "%{{CODE}}%"

var (
	userMentionRE = regexp.MustCompile(`@<([^<>\n]+)>`)
	roomMentionRE = regexp.MustCompile(`#<([^<>\n]+)>`)
)

// Resolver turns names written by scripts into Discord mentions.
type Resolver interface {
	UserMention(name string) (string, bool)
	ChannelMention(name string) (string, bool)
}

// DigestResponse rewrites @<user> and #<room> references in service output
// and applies the code block marker.
func DigestResponse(text string, r Resolver) string {
	text = userMentionRE.ReplaceAllStringFunc(text, func(m string) string {
		name := userMentionRE.FindStringSubmatch(m)[1]
		if r != nil {
			if mention, ok := r.UserMention(name); ok {
				return mention
			}
		}
		return "<no user: " + name + ">"
	})
	text = roomMentionRE.ReplaceAllStringFunc(text, func(m string) string {
		name := roomMentionRE.FindStringSubmatch(m)[1]
		if r != nil {
			if mention, ok := r.ChannelMention(name); ok {
				return mention
			}
		}
		return "<no room: " + name + ">"
	})
	if rest, ok := strings.CutPrefix(text, CodeMarker); ok {
		rest = strings.TrimPrefix(rest, "\n")
		return "```\n" + strings.TrimRight(rest, "\n") + "\n```"
	}
	return text
}

// DigestError formats a failure for the channel.
func DigestError(lines ...string) string {
	var b strings.Builder
	b.WriteString(":warning: Sorry, something went wrong.\n")
	if len(lines) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("```\n")
	for _, l := range lines {
		b.WriteString(strings.ReplaceAll(l, "```", "'''"))
		b.WriteByte('\n')
	}
	b.WriteString("```")
	return b.String()
}

// FormatOutcome renders a dispatch outcome as a chat reply.
func FormatOutcome(o dispatch.Outcome, r Resolver) string {
	switch o.Kind {
	case dispatch.Handled:
		if strings.TrimSpace(o.Text) == "" {
			return o.Summary()
		}
		return DigestResponse(o.Text, r)
	case dispatch.AuthorizationRequired:
		var b strings.Builder
		b.WriteString(":lock: `" + o.Service + "` requires authorization.")
		for _, g := range o.Missing {
			b.WriteString("\nRequest it with `auth " + g + "`.")
		}
		return b.String()
	case dispatch.ExecutionFailed:
		if o.Detail == "" {
			return DigestError(o.Service+" failed", o.Summary())
		}
		return DigestError(o.Service+" failed", o.Detail)
	case dispatch.ExecutionTimeout:
		return DigestError(o.Summary())
	case dispatch.StoreUnavailable:
		return ":hourglass: " + o.Summary()
	}
	return o.Summary()
}
