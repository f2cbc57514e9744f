package discord

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxDiscordMessageLen = 2000
	SafeChunkLen         = 1900

	continuedMarker = "*(continued...)*"
)

var urlRE = regexp.MustCompile(`https?://[^\s\[\]()<>]+`)

// WrapURLsNoEmbed wraps URLs in angle brackets to prevent Discord embeds.
func WrapURLsNoEmbed(text string) string {
	return urlRE.ReplaceAllStringFunc(text, func(u string) string {
		trimmed := strings.TrimRight(u, ".,;:!?")
		return "<" + trimmed + ">" + u[len(trimmed):]
	})
}

// BuildLongMessages splits message into Discord sized chunks. The mention,
// when set, prefixes the first chunk. Code fences cut by a split are closed
// at the end of one chunk and reopened at the start of the next.
func BuildLongMessages(message, mention string) []string {
	prefix := ""
	if mention != "" {
		prefix = mention + " "
	}
	if len(prefix)+len(message) <= MaxDiscordMessageLen {
		return []string{prefix + message}
	}

	var (
		chunks []string
		cur    strings.Builder
		fence  string // opening fence line while inside a code block
		empty  = true
	)
	cur.WriteString(prefix)

	flush := func() {
		body := cur.String()
		if fence != "" {
			body += "\n```"
		}
		chunks = append(chunks, body+"\n"+continuedMarker)
		cur.Reset()
		empty = true
		if fence != "" {
			cur.WriteString(fence)
			empty = false
		}
	}

	for _, line := range strings.Split(message, "\n") {
		width := SafeChunkLen - len(prefix) - len(fence) - 1
		for _, piece := range splitLine(line, width) {
			if !empty && cur.Len()+1+len(piece) > SafeChunkLen {
				flush()
			}
			if !empty {
				cur.WriteByte('\n')
			}
			cur.WriteString(piece)
			empty = false
		}
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "```") {
			if fence == "" {
				fence = t
			} else {
				fence = ""
			}
		}
	}
	if !empty {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitLine cuts a line longer than width on rune boundaries, preferring
// spaces.
func splitLine(line string, width int) []string {
	if len(line) <= width {
		return []string{line}
	}
	var out []string
	for len(line) > width {
		cut := strings.LastIndexByte(line[:width], ' ')
		if cut <= 0 {
			cut = width
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
		}
		out = append(out, line[:cut])
		line = strings.TrimLeft(line[cut:], " ")
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
