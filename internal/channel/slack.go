package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

var slackMentionRe = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// Slack is the Slack channel over Socket Mode. Events API messages are
// published to the bus; outbound delivery implements domain.Transport.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string

	mu       sync.Mutex
	fileRefs map[string]slackFileRef
	fileIDs  []string
}

type slackFileRef struct {
	url  string
	mime string
}

type SlackChannelConfig struct {
	Config config.SlackConfig
	Logger *slog.Logger
}

func NewSlack(cfg SlackChannelConfig) *Slack {
	return &Slack{
		botToken: cfg.Config.BotToken,
		appToken: cfg.Config.AppToken,
		logger:   cfg.Logger,
		fileRefs: make(map[string]slackFileRef),
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) SelfID() string { return s.botUID }

// Start connects via Socket Mode and listens for events until ctx is
// cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Ack unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip the bot's own messages. file_share carries an upload; any
		// other subtype is an edit or delete the pipeline ignores.
		if ev.User == s.botUID || ev.User == "" {
			return
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return
		}

		msg := s.toInbound(ev.TimeStamp, ev.Channel, ev.ChannelType, ev.User, ev.Text, ev.ThreadTimeStamp)
		if ev.Message != nil && len(ev.Message.Files) > 0 {
			f := ev.Message.Files[0]
			msg.MimeType = f.Mimetype
			if msg.Body != "" && strings.HasPrefix(f.Mimetype, "image/") {
				msg.ImageCaption = msg.Body
				msg.Body = ""
			}
			url := f.URLPrivateDownload
			if url == "" {
				url = f.URLPrivate
			}
			s.rememberFile(ev.TimeStamp, url, f.Mimetype)
		}

		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"content_len", len(ev.Text),
		)
		s.bus.Publish(msg)

	case *slackevents.MemberJoinedChannelEvent:
		s.bus.PublishEvent(domain.ParticipantsEvent{
			Channel:        "slack",
			ChatID:         ev.Channel,
			Action:         domain.ParticipantJoin,
			ParticipantIDs: []string{ev.User},
			Timestamp:      time.Now(),
		})

	case *slackevents.MemberLeftChannelEvent:
		s.bus.PublishEvent(domain.ParticipantsEvent{
			Channel:        "slack",
			ChatID:         ev.Channel,
			Action:         domain.ParticipantLeave,
			ParticipantIDs: []string{ev.User},
			Timestamp:      time.Now(),
		})
	}
}

func (s *Slack) toInbound(ts, channel, channelType, user, text, threadTS string) domain.InboundMessage {
	msg := domain.InboundMessage{
		Channel:   "slack",
		ID:        ts,
		ChatID:    channel,
		SenderID:  user,
		IsGroup:   channelType != "im",
		QuotedID:  threadTS,
		Timestamp: time.Now(),
	}
	// <@U123> markup carries the mentions; strip a leading one from the body.
	for _, m := range slackMentionRe.FindAllStringSubmatch(text, -1) {
		msg.MentionIDs = append(msg.MentionIDs, m[1])
	}
	msg.Body = trimSlackMention(text)
	return msg
}

func (s *Slack) rememberFile(msgID, url, mime string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fileRefs[msgID]; !ok {
		s.fileIDs = append(s.fileIDs, msgID)
		if len(s.fileIDs) > mediaRefCap {
			delete(s.fileRefs, s.fileIDs[0])
			s.fileIDs = s.fileIDs[1:]
		}
	}
	s.fileRefs[msgID] = slackFileRef{url: url, mime: mime}
}

// Download fetches a shared file's bytes. url_private requires the bot
// token, which GetFileContext sends for us.
func (s *Slack) Download(ctx context.Context, msg *domain.InboundMessage) ([]byte, string, error) {
	s.mu.Lock()
	ref, ok := s.fileRefs[msg.ID]
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no file reference for message %s", msg.ID)
	}

	var buf bytes.Buffer
	if err := s.client.GetFileContext(ctx, ref.url, &buf); err != nil {
		return nil, "", fmt.Errorf("fetch slack file: %w", err)
	}
	return buf.Bytes(), ref.mime, nil
}

// --- domain.Transport ---

func (s *Slack) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	chunks := splitMessage(text, slackMaxMsgLen)
	for i, chunk := range chunks {
		opts := []slack.MsgOption{
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		}
		if i == 0 && quote != nil && quote.ID != "" {
			opts = append(opts, slack.MsgOptionTS(quote.ID))
		}
		if _, _, err := s.client.PostMessageContext(ctx, chatID, opts...); err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

func (s *Slack) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	name := media.Filename
	if name == "" {
		name = "file"
	}
	params := slack.UploadFileV2Parameters{
		Filename:       name,
		FileSize:       len(media.Data),
		Reader:         bytes.NewReader(media.Data),
		Channel:        chatID,
		InitialComment: media.Caption,
	}
	if quote != nil && quote.ID != "" {
		params.ThreadTimestamp = quote.ID
	}
	if _, err := s.client.UploadFileV2Context(ctx, params); err != nil {
		return fmt.Errorf("slack upload: %w", err)
	}
	return nil
}

func (s *Slack) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	return s.SendMedia(ctx, chatID, domain.Media{
		Kind:     domain.KindAudio,
		MimeType: "audio/mpeg",
		Data:     audio,
		Filename: "voice.mp3",
	}, quote)
}

// SetPresence is a no-op: Slack has no per-channel typing API for bots.
func (s *Slack) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	return nil
}

func (s *Slack) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	ch, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: chatID,
	})
	if err != nil {
		return nil, fmt.Errorf("slack conversation info: %w", err)
	}

	info := &domain.GroupInfo{Name: ch.Name}
	cursor := ""
	for {
		members, next, err := s.client.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
			ChannelID: chatID,
			Cursor:    cursor,
			Limit:     200,
		})
		if err != nil {
			return nil, fmt.Errorf("slack conversation members: %w", err)
		}
		for _, id := range members {
			info.Participants = append(info.Participants, domain.Participant{
				ID:      id,
				IsAdmin: id == ch.Creator,
			})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return info, nil
}

func (s *Slack) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, _, err := s.client.DeleteMessageContext(ctx, chatID, messageID)
	return err
}

func trimSlackMention(text string) string {
	if idx := strings.Index(text, ">"); strings.HasPrefix(text, "<@") && idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
