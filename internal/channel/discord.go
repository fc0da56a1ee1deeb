package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord is the Discord gateway channel. Message-create events become bus
// messages; member add/remove events become participant events. Outbound
// delivery implements domain.Transport.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger

	mu         sync.Mutex
	attachRefs map[string]attachmentRef
	attachIDs  []string
}

type attachmentRef struct {
	url  string
	mime string
}

type DiscordChannelConfig struct {
	Config config.DiscordConfig
	Logger *slog.Logger
}

func NewDiscord(cfg DiscordChannelConfig) *Discord {
	return &Discord{
		token:      cfg.Config.Token,
		guildID:    cfg.Config.GuildID,
		logger:     cfg.Logger,
		attachRefs: make(map[string]attachmentRef),
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) SelfID() string {
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// Start connects to Discord using a bot token and listens until ctx is
// cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	d.session = session

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onMemberAdd)
	session.AddHandler(d.onMemberRemove)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	msg := domain.InboundMessage{
		Channel:    "discord",
		ID:         m.ID,
		ChatID:     m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Body:       m.Content,
		IsGroup:    m.GuildID != "",
		Timestamp:  time.Now(),
	}
	for _, u := range m.Mentions {
		msg.MentionIDs = append(msg.MentionIDs, u.ID)
	}
	if r := m.ReferencedMessage; r != nil {
		msg.QuotedID = r.ID
		if r.Author != nil {
			msg.QuotedSender = r.Author.ID
		}
		msg.QuotedText = r.Content
	}
	if len(m.Attachments) > 0 {
		a := m.Attachments[0]
		msg.MimeType = a.ContentType
		if msg.Body != "" && strings.HasPrefix(a.ContentType, "image/") {
			msg.ImageCaption = msg.Body
			msg.Body = ""
		}
		d.rememberAttachment(m.ID, a.URL, a.ContentType)
	}

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(m.Content),
	)
	d.bus.Publish(msg)
}

func (d *Discord) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}
	d.bus.PublishEvent(domain.ParticipantsEvent{
		Channel:        "discord",
		ChatID:         m.GuildID,
		Action:         domain.ParticipantJoin,
		ParticipantIDs: []string{m.User.ID},
		Timestamp:      time.Now(),
	})
}

func (d *Discord) onMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}
	d.bus.PublishEvent(domain.ParticipantsEvent{
		Channel:        "discord",
		ChatID:         m.GuildID,
		Action:         domain.ParticipantLeave,
		ParticipantIDs: []string{m.User.ID},
		Timestamp:      time.Now(),
	})
}

func (d *Discord) rememberAttachment(msgID, url, mime string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attachRefs[msgID]; !ok {
		d.attachIDs = append(d.attachIDs, msgID)
		if len(d.attachIDs) > mediaRefCap {
			delete(d.attachRefs, d.attachIDs[0])
			d.attachIDs = d.attachIDs[1:]
		}
	}
	d.attachRefs[msgID] = attachmentRef{url: url, mime: mime}
}

// --- domain.Transport ---

func (d *Discord) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	chunks := splitMessage(text, discordMaxMsgLen)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && quote != nil {
			send.Reference = &discordgo.MessageReference{
				MessageID: quote.ID,
				ChannelID: chatID,
			}
		}
		if _, err := d.session.ChannelMessageSendComplex(chatID, send); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	name := media.Filename
	if name == "" {
		name = "file"
	}
	send := &discordgo.MessageSend{
		Content: media.Caption,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: media.MimeType,
			Reader:      bytes.NewReader(media.Data),
		}},
	}
	if quote != nil {
		send.Reference = &discordgo.MessageReference{
			MessageID: quote.ID,
			ChannelID: chatID,
		}
	}
	if _, err := d.session.ChannelMessageSendComplex(chatID, send); err != nil {
		return fmt.Errorf("discord send media: %w", err)
	}
	return nil
}

func (d *Discord) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	return d.SendMedia(ctx, chatID, domain.Media{
		Kind:     domain.KindAudio,
		MimeType: "audio/mpeg",
		Data:     audio,
		Filename: "voice.mp3",
	}, quote)
}

func (d *Discord) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	if p == domain.PresencePaused {
		return nil
	}
	return d.session.ChannelTyping(chatID)
}

// GroupInfo resolves the guild behind a channel and reports members with
// admin or manage-server permissions as admins.
func (d *Discord) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	ch, err := d.session.Channel(chatID)
	if err != nil {
		return nil, fmt.Errorf("discord channel: %w", err)
	}
	if ch.GuildID == "" {
		return &domain.GroupInfo{}, nil
	}
	guild, err := d.session.Guild(ch.GuildID)
	if err != nil {
		return nil, fmt.Errorf("discord guild: %w", err)
	}
	members, err := d.session.GuildMembers(ch.GuildID, "", 1000)
	if err != nil {
		return nil, fmt.Errorf("discord members: %w", err)
	}
	info := &domain.GroupInfo{Name: guild.Name}
	for _, m := range members {
		if m.User == nil {
			continue
		}
		perms, err := d.session.UserChannelPermissions(m.User.ID, chatID)
		isAdmin := err == nil && perms&discordgo.PermissionAdministrator != 0
		info.Participants = append(info.Participants, domain.Participant{
			ID:      m.User.ID,
			IsAdmin: isAdmin || m.User.ID == guild.OwnerID,
		})
	}
	return info, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return d.session.ChannelMessageDelete(chatID, messageID)
}

// Download fetches a previously seen attachment by message ID.
func (d *Discord) Download(ctx context.Context, msg *domain.InboundMessage) ([]byte, string, error) {
	d.mu.Lock()
	ref, ok := d.attachRefs[msg.ID]
	d.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no attachment reference for message %s", msg.ID)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", ref.url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, ref.mime, nil
}

// splitMessage splits text into chunks under maxLen, preferring newline
// boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
