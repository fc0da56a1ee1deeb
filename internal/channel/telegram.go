package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram is the Telegram bot channel. Long-polling updates are published to
// the bus; outbound delivery implements domain.Transport.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs, empty allows all
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	// fileRefs maps message IDs to Telegram file IDs for media download.
	mu       sync.Mutex
	fileRefs map[string]string
	fileIDs  []string
}

type TelegramChannelConfig struct {
	Config config.TelegramConfig
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.Config.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	parseMode := cfg.Config.ParseMode
	if parseMode == "" {
		parseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Config.Token,
		allowFrom: allowed,
		parseMode: parseMode,
		logger:    cfg.Logger,
		fileRefs:  make(map[string]string),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// SelfID is only known after Start connects; empty before that.
func (t *Telegram) SelfID() string {
	if t.bot == nil {
		return ""
	}
	return strconv.FormatInt(t.bot.Self.ID, 10)
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	if len(m.NewChatMembers) > 0 || m.LeftChatMember != nil {
		t.publishMembership(m)
		return
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return
	}

	msg := t.toInbound(m)
	t.logger.Info("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"group", msg.IsGroup,
	)
	t.bus.Publish(msg)
}

func (t *Telegram) toInbound(m *tgbotapi.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		Channel:    "telegram",
		ID:         strconv.Itoa(m.MessageID),
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: m.From.FirstName,
		Body:       m.Text,
		Timestamp:  time.Unix(int64(m.Date), 0),
	}
	if m.Chat.IsGroup() || m.Chat.IsSuperGroup() {
		msg.IsGroup = true
		msg.GroupName = m.Chat.Title
	}
	if m.ForwardFrom != nil || m.ForwardDate != 0 {
		msg.IsForwarded = true
	}
	if r := m.ReplyToMessage; r != nil {
		msg.QuotedID = strconv.Itoa(r.MessageID)
		if r.From != nil {
			msg.QuotedSender = strconv.FormatInt(r.From.ID, 10)
		}
		msg.QuotedText = r.Text
	}
	for _, e := range m.Entities {
		if e.Type == "text_mention" && e.User != nil {
			msg.MentionIDs = append(msg.MentionIDs, strconv.FormatInt(e.User.ID, 10))
		}
	}
	// An @botname entity mention only appears in text, so surface the bot's
	// own ID when its username is present.
	if t.bot != nil && strings.Contains(m.Text, "@"+t.bot.Self.UserName) {
		msg.MentionIDs = append(msg.MentionIDs, strconv.FormatInt(t.bot.Self.ID, 10))
	}

	switch {
	case len(m.Photo) > 0:
		best := m.Photo[len(m.Photo)-1]
		msg.MimeType = "image/jpeg"
		msg.ImageCaption = m.Caption
		t.rememberFile(msg.ID, best.FileID)
	case m.Voice != nil:
		msg.MimeType = m.Voice.MimeType
		if msg.MimeType == "" {
			msg.MimeType = "audio/ogg"
		}
		t.rememberFile(msg.ID, m.Voice.FileID)
	case m.Audio != nil:
		msg.MimeType = m.Audio.MimeType
		t.rememberFile(msg.ID, m.Audio.FileID)
	case m.Video != nil:
		msg.MimeType = m.Video.MimeType
		msg.VideoCaption = m.Caption
		t.rememberFile(msg.ID, m.Video.FileID)
	case m.Sticker != nil:
		msg.IsSticker = true
		msg.MimeType = "image/webp"
		t.rememberFile(msg.ID, m.Sticker.FileID)
	case m.Document != nil:
		msg.MimeType = m.Document.MimeType
		msg.ExtendedBody = m.Caption
		t.rememberFile(msg.ID, m.Document.FileID)
	}
	return msg
}

func (t *Telegram) publishMembership(m *tgbotapi.Message) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if len(m.NewChatMembers) > 0 {
		var ids []string
		for _, u := range m.NewChatMembers {
			ids = append(ids, strconv.FormatInt(u.ID, 10))
		}
		t.bus.PublishEvent(domain.ParticipantsEvent{
			Channel:        "telegram",
			ChatID:         chatID,
			Action:         domain.ParticipantJoin,
			ParticipantIDs: ids,
			Timestamp:      time.Unix(int64(m.Date), 0),
		})
	}
	if m.LeftChatMember != nil {
		t.bus.PublishEvent(domain.ParticipantsEvent{
			Channel:        "telegram",
			ChatID:         chatID,
			Action:         domain.ParticipantLeave,
			ParticipantIDs: []string{strconv.FormatInt(m.LeftChatMember.ID, 10)},
			Timestamp:      time.Unix(int64(m.Date), 0),
		})
	}
}

func (t *Telegram) rememberFile(msgID, fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fileRefs[msgID]; !ok {
		t.fileIDs = append(t.fileIDs, msgID)
		if len(t.fileIDs) > mediaRefCap {
			delete(t.fileRefs, t.fileIDs[0])
			t.fileIDs = t.fileIDs[1:]
		}
	}
	t.fileRefs[msgID] = fileID
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// --- domain.Transport ---

func (t *Telegram) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	replyTo := 0
	if quote != nil {
		replyTo, _ = strconv.Atoi(quote.ID)
	}
	t.sendMessage(id, text, replyTo)
	return nil
}

func (t *Telegram) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	name := media.Filename
	if name == "" {
		name = "file"
	}
	file := tgbotapi.FileBytes{Name: name, Bytes: media.Data}

	var msg tgbotapi.Chattable
	switch media.Kind {
	case domain.KindImage, domain.KindSticker:
		photo := tgbotapi.NewPhoto(id, file)
		photo.Caption = media.Caption
		if quote != nil {
			photo.ReplyToMessageID, _ = strconv.Atoi(quote.ID)
		}
		msg = photo
	case domain.KindAudio:
		audio := tgbotapi.NewAudio(id, file)
		if quote != nil {
			audio.ReplyToMessageID, _ = strconv.Atoi(quote.ID)
		}
		msg = audio
	case domain.KindVideo:
		video := tgbotapi.NewVideo(id, file)
		video.Caption = media.Caption
		if quote != nil {
			video.ReplyToMessageID, _ = strconv.Atoi(quote.ID)
		}
		msg = video
	default:
		doc := tgbotapi.NewDocument(id, file)
		doc.Caption = media.Caption
		if quote != nil {
			doc.ReplyToMessageID, _ = strconv.Atoi(quote.ID)
		}
		msg = doc
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send media: %w", err)
	}
	return nil
}

func (t *Telegram) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	voice := tgbotapi.NewVoice(id, tgbotapi.FileBytes{Name: "voice.ogg", Bytes: audio})
	if quote != nil {
		voice.ReplyToMessageID, _ = strconv.Atoi(quote.ID)
	}
	if _, err := t.bot.Send(voice); err != nil {
		return fmt.Errorf("telegram send voice: %w", err)
	}
	return nil
}

func (t *Telegram) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	action := tgbotapi.ChatTyping
	switch p {
	case domain.PresenceRecording:
		action = tgbotapi.ChatRecordVoice
	case domain.PresencePaused:
		return nil
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(id, action))
	return err
}

func (t *Telegram) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	admins, err := t.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram administrators: %w", err)
	}
	info := &domain.GroupInfo{}
	for _, a := range admins {
		if a.User == nil {
			continue
		}
		info.Participants = append(info.Participants, domain.Participant{
			ID:      strconv.FormatInt(a.User.ID, 10),
			IsAdmin: true,
		})
	}
	return info, nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %w", err)
	}
	_, err = t.bot.Request(tgbotapi.NewDeleteMessage(id, msgID))
	return err
}

// Download fetches the media payload of a previously seen message.
func (t *Telegram) Download(ctx context.Context, msg *domain.InboundMessage) ([]byte, string, error) {
	t.mu.Lock()
	fileID, ok := t.fileRefs[msg.ID]
	t.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no file reference for message %s", msg.ID)
	}

	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, msg.MimeType, nil
}

// sendMessage splits long text on newline boundaries before sending.
// Telegram caps messages at 4096 chars.
func (t *Telegram) sendMessage(chatID int64, text string, replyTo int) {
	const maxLen = telegramMaxMsgLen
	first := true
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		quoteID := 0
		if first {
			quoteID = replyTo
			first = false
		}
		t.sendChunk(chatID, chunk, quoteID)
	}
}

// sendChunk sends one chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, fall back to plain text on
// parse errors, back off on 429s.
func (t *Telegram) sendChunk(chatID int64, text string, replyTo int) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Parse error on first attempt, immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			plainMsg.ReplyToMessageID = replyTo
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
