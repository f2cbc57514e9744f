package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// PrincipalPrefix namespaces Discord users among agent principals.
const PrincipalPrefix = "discord-"

// Principal returns the agent principal for a Discord user id.
func Principal(userID string) string {
	return PrincipalPrefix + userID
}

// UserID extracts the Discord user id from a principal.
func UserID(principal string) (string, bool) {
	return strings.CutPrefix(principal, PrincipalPrefix)
}

// HasRole checks whether a user has a role in a guild. Empty roleID always
// returns true. The state cache is consulted before the REST API.
func HasRole(s *discordgo.Session, guildID, userID, roleID string) bool {
	if roleID == "" {
		return true
	}
	if guildID == "" {
		return false
	}
	var member *discordgo.Member
	if s.State != nil {
		member, _ = s.State.Member(guildID, userID)
	}
	if member == nil {
		m, err := s.GuildMember(guildID, userID)
		if err != nil {
			return false
		}
		member = m
	}
	for _, role := range member.Roles {
		if role == roleID {
			return true
		}
	}
	return false
}
