package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/logging"
)

// Bridge connects the agent to Discord. It answers direct messages and
// messages that mention the bot.
type Bridge struct {
	cfg     config.DiscordConfig
	session *discordgo.Session
	handler *Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge; the connection opens on Start.
func NewBridge(cfg config.DiscordConfig, h *Handler) (*Bridge, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages

	b := &Bridge{cfg: cfg, session: session, handler: h}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// Name implements core.Module.
func (b *Bridge) Name() string { return "discord" }

func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open connection: %w", err)
	}
	return nil
}

func (b *Bridge) Stop(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("discord: stop: %v with handlers still running", ctx.Err())
	}
	if err := b.session.Close(); err != nil {
		log.Printf("discord: close session: %v", err)
	}
}

func (b *Bridge) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("discord: logged in as %s (%d guilds)", r.User.Username, len(r.Guilds))
}

func (b *Bridge) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || s.State.User == nil || m.Author.ID == s.State.User.ID {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && !mentions(m.Message, s.State.User.ID) {
		return
	}
	if !isDM && !HasRole(s, m.GuildID, m.Author.ID, b.cfg.RoleID) {
		logging.Debugf("discord: ignoring %s without role", m.Author.ID)
		return
	}

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	b.wg.Add(1)
	defer b.wg.Done()

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		logging.Debugf("discord: typing indicator: %v", err)
	}

	in := Incoming{
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		Content:    m.Content,
	}
	reply := b.handler.Handle(ctx, in, &stateResolver{s: s, guildID: m.GuildID, author: m.Author})
	if err := Send(s, m.ChannelID, reply, ""); err != nil {
		log.Printf("discord: reply in %s: %v", m.ChannelID, err)
	}
}

// NotifyResolved tells the requester how their challenge ended. It is
// registered as a challenge manager hook.
func (b *Bridge) NotifyResolved(ch challenge.Challenge) {
	channelID, text, ok := ResolvedMessage(ch)
	if !ok {
		return
	}
	if err := Send(b.session, channelID, text, ""); err != nil {
		log.Printf("discord: notify challenge %s: %v", ch.ID, err)
	}
}

func mentions(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// Send delivers text in as many messages as needed, retrying once after a
// rate limit. Only user mentions are allowed to ping.
func Send(s *discordgo.Session, channelID, text, mention string) error {
	for _, chunk := range BuildLongMessages(text, mention) {
		msg := &discordgo.MessageSend{
			Content: WrapURLsNoEmbed(chunk),
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			},
		}
		_, err := s.ChannelMessageSendComplex(channelID, msg)
		if logging.IsRateLimit(err) {
			time.Sleep(2 * time.Second)
			_, err = s.ChannelMessageSendComplex(channelID, msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// stateResolver resolves names against the session's guild state.
type stateResolver struct {
	s       *discordgo.Session
	guildID string
	author  *discordgo.User
}

func (r *stateResolver) UserMention(name string) (string, bool) {
	if r.author != nil && strings.EqualFold(r.author.Username, name) {
		return r.author.Mention(), true
	}
	g := r.guild()
	if g == nil {
		return "", false
	}
	for _, m := range g.Members {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.User.Username, name) || strings.EqualFold(m.Nick, name) {
			return m.User.Mention(), true
		}
	}
	return "", false
}

func (r *stateResolver) ChannelMention(name string) (string, bool) {
	g := r.guild()
	if g == nil {
		return "", false
	}
	for _, c := range g.Channels {
		if strings.EqualFold(c.Name, name) {
			return c.Mention(), true
		}
	}
	return "", false
}

func (r *stateResolver) guild() *discordgo.Guild {
	if r.guildID == "" || r.s.State == nil {
		return nil
	}
	g, err := r.s.State.Guild(r.guildID)
	if err != nil {
		return nil
	}
	return g
}
