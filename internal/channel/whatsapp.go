package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

const (
	whatsappAPIBase = "https://graph.facebook.com/v21.0"
	mediaRefCap     = 1024
)

// WhatsApp is the WhatsApp Business Cloud webhook channel. Incoming webhook
// batches are handed to OnBatch when set (the engine's batch entry point),
// otherwise published to the bus one by one. It also implements
// domain.Transport for outbound sends and media download for the vision,
// transcription, and sticker capabilities.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
	mux    *http.ServeMux

	// OnBatch, when non-nil, receives each webhook delivery as one batch.
	OnBatch func(ctx context.Context, msgs []domain.InboundMessage)

	// mediaRefs maps message IDs to Cloud API media IDs so Download can
	// resolve an InboundMessage back to its payload.
	mu        sync.Mutex
	mediaRefs map[string]string
	mediaIDs  []string // insertion order, for eviction

	// groups caches participant metadata observed in webhook payloads.
	groups map[string]*domain.GroupInfo
}

type WhatsAppChannelConfig struct {
	Config config.WhatsAppConfig
	Logger *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	return &WhatsApp{
		cfg:       cfg.Config,
		logger:    cfg.Logger,
		client:    &http.Client{Timeout: 30 * time.Second},
		mediaRefs: make(map[string]string),
		groups:    make(map[string]*domain.GroupInfo),
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// SelfID returns the bot's own sender identifier for self-message detection.
func (w *WhatsApp) SelfID() string { return w.cfg.BotJID }

// Start mounts the webhook handlers and, when a listen address is
// configured, serves them until ctx is cancelled.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	w.mux = http.NewServeMux()
	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}
	w.mux.HandleFunc("GET "+webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+webhookPath, w.handleIncoming)

	w.logger.Info("whatsapp channel ready", "webhook", webhookPath)

	if w.cfg.ListenAddr == "" {
		return nil
	}
	srv := &http.Server{Addr: w.cfg.ListenAddr, Handler: w.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("whatsapp webhook server: %w", err)
	}
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

// Handler returns the webhook handler for mounting on a shared mux.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// --- Webhook handlers ---

func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	batch := w.collect(payload)
	if len(batch) > 0 {
		if w.OnBatch != nil {
			w.OnBatch(r.Context(), batch)
		} else if w.bus != nil {
			for _, msg := range batch {
				w.bus.Publish(msg)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// collect flattens one webhook payload into inbound messages and records
// group membership changes and media references along the way.
func (w *WhatsApp) collect(payload waPayload) []domain.InboundMessage {
	var batch []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := contactNames(change.Value.Contacts)
			if change.Value.Group != nil {
				w.observeGroup(change.Value.Group)
			}
			for _, ev := range change.Value.Participants {
				w.publishParticipants(ev)
			}
			for _, waMsg := range change.Value.Messages {
				msg := w.toInbound(waMsg, change.Value.Group, names)
				w.logger.Info("whatsapp message received",
					"from", msg.SenderID, "chat", msg.ChatID, "type", waMsg.Type)
				batch = append(batch, msg)
			}
		}
	}
	return batch
}

func (w *WhatsApp) toInbound(m waMessage, group *waGroup, names map[string]string) domain.InboundMessage {
	msg := domain.InboundMessage{
		Channel:    "whatsapp",
		ID:         m.ID,
		ChatID:     m.From,
		SenderID:   m.From,
		SenderName: names[m.From],
		Timestamp:  time.Now(),
	}
	if group != nil {
		msg.ChatID = group.ID
		msg.IsGroup = true
		msg.GroupName = group.Subject
	} else if strings.HasSuffix(msg.ChatID, "@g.us") {
		msg.IsGroup = true
	}

	if m.Context != nil {
		msg.QuotedID = m.Context.ID
		msg.QuotedSender = m.Context.From
		msg.QuotedText = m.Context.Text
		msg.MentionIDs = m.Context.MentionedJIDs
		msg.IsForwarded = m.Context.Forwarded
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			msg.Body = m.Text.Body
		}
	case "image":
		if m.Image != nil {
			msg.MimeType = m.Image.MimeType
			msg.ImageCaption = m.Image.Caption
			w.rememberMedia(m.ID, m.Image.ID)
		}
	case "audio":
		if m.Audio != nil {
			msg.MimeType = m.Audio.MimeType
			w.rememberMedia(m.ID, m.Audio.ID)
		}
	case "video":
		if m.Video != nil {
			msg.MimeType = m.Video.MimeType
			msg.VideoCaption = m.Video.Caption
			w.rememberMedia(m.ID, m.Video.ID)
		}
	case "document":
		if m.Document != nil {
			msg.MimeType = m.Document.MimeType
			msg.ExtendedBody = m.Document.Caption
			w.rememberMedia(m.ID, m.Document.ID)
		}
	case "sticker":
		if m.Sticker != nil {
			msg.MimeType = m.Sticker.MimeType
			msg.IsSticker = true
			w.rememberMedia(m.ID, m.Sticker.ID)
		}
	}
	return msg
}

func (w *WhatsApp) observeGroup(g *waGroup) {
	info := &domain.GroupInfo{Name: g.Subject}
	for _, p := range g.Participants {
		info.Participants = append(info.Participants, domain.Participant{
			ID:      p.JID,
			IsAdmin: p.Admin,
		})
	}
	w.mu.Lock()
	w.groups[g.ID] = info
	w.mu.Unlock()
}

func (w *WhatsApp) publishParticipants(ev waParticipantsEvent) {
	if w.bus == nil {
		return
	}
	action := domain.ParticipantAction(ev.Action)
	switch action {
	case domain.ParticipantJoin, domain.ParticipantLeave,
		domain.ParticipantPromote, domain.ParticipantDemote:
	default:
		return
	}
	w.bus.PublishEvent(domain.ParticipantsEvent{
		Channel:        "whatsapp",
		ChatID:         ev.GroupID,
		Action:         action,
		ParticipantIDs: ev.JIDs,
		Timestamp:      time.Now(),
	})
}

func (w *WhatsApp) rememberMedia(msgID, mediaID string) {
	if msgID == "" || mediaID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.mediaRefs[msgID]; !ok {
		w.mediaIDs = append(w.mediaIDs, msgID)
		if len(w.mediaIDs) > mediaRefCap {
			delete(w.mediaRefs, w.mediaIDs[0])
			w.mediaIDs = w.mediaIDs[1:]
		}
	}
	w.mediaRefs[msgID] = mediaID
}

func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- domain.Transport ---

func (w *WhatsApp) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	if quote != nil {
		payload["context"] = map[string]string{"message_id": quote.ID}
	}
	return w.post(ctx, payload)
}

func (w *WhatsApp) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	mediaID, err := w.upload(ctx, media.Data, media.MimeType, media.Filename)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	kind := "document"
	switch media.Kind {
	case domain.KindImage:
		kind = "image"
	case domain.KindAudio:
		kind = "audio"
	case domain.KindVideo:
		kind = "video"
	case domain.KindSticker:
		kind = "sticker"
	}

	part := map[string]any{"id": mediaID}
	if media.Caption != "" && kind != "audio" && kind != "sticker" {
		part["caption"] = media.Caption
	}
	if kind == "document" && media.Filename != "" {
		part["filename"] = media.Filename
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              kind,
		kind:                part,
	}
	if quote != nil {
		payload["context"] = map[string]string{"message_id": quote.ID}
	}
	return w.post(ctx, payload)
}

func (w *WhatsApp) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	return w.SendMedia(ctx, chatID, domain.Media{
		Kind:     domain.KindAudio,
		MimeType: "audio/mpeg",
		Data:     audio,
		Filename: "voice.mp3",
	}, quote)
}

// SetPresence is a no-op: the Cloud API has no typing indicator endpoint.
func (w *WhatsApp) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	return nil
}

// GroupInfo serves from the cache built out of webhook payloads. An unknown
// group yields an empty info, which moderation treats as "nobody is admin".
func (w *WhatsApp) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if info, ok := w.groups[chatID]; ok {
		return info, nil
	}
	return &domain.GroupInfo{}, nil
}

func (w *WhatsApp) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return w.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"status":            "deleted",
		"message_id":        messageID,
	})
}

// Download implements the media download side: resolve the media ID, ask the
// API for its URL, then fetch the payload with the access token.
func (w *WhatsApp) Download(ctx context.Context, msg *domain.InboundMessage) ([]byte, string, error) {
	w.mu.Lock()
	mediaID, ok := w.mediaRefs[msg.ID]
	w.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no media reference for message %s", msg.ID)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := w.get(ctx, whatsappAPIBase+"/"+mediaID, &meta); err != nil {
		return nil, "", fmt.Errorf("resolve media %s: %w", mediaID, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", meta.URL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mime := meta.MimeType
	if mime == "" {
		mime = msg.MimeType
	}
	return data, mime, nil
}

// --- Cloud API plumbing ---

func (w *WhatsApp) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", whatsappAPIBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (w *WhatsApp) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (w *WhatsApp) upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if filename == "" {
		filename = "upload"
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("messaging_product", "whatsapp")
	writer.WriteField("type", mimeType)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	writer.Close()

	url := fmt.Sprintf("%s/%s/media", whatsappAPIBase, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whatsapp media upload %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func contactNames(contacts []waContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[c.WaID] = c.Profile.Name
	}
	return names
}

// --- Webhook payload shapes ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string                `json:"messaging_product"`
	Contacts         []waContact           `json:"contacts"`
	Messages         []waMessage           `json:"messages"`
	Group            *waGroup              `json:"group,omitempty"`
	Participants     []waParticipantsEvent `json:"participants,omitempty"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waGroup struct {
	ID           string          `json:"id"`
	Subject      string          `json:"subject"`
	Participants []waParticipant `json:"participants"`
}

type waParticipant struct {
	JID   string `json:"jid"`
	Admin bool   `json:"admin"`
}

type waParticipantsEvent struct {
	GroupID string   `json:"group_id"`
	Action  string   `json:"action"` // join | leave | promote | demote
	JIDs    []string `json:"jids"`
}

type waMessage struct {
	From     string     `json:"from"`
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Text     *waText    `json:"text,omitempty"`
	Image    *waMedia   `json:"image,omitempty"`
	Audio    *waMedia   `json:"audio,omitempty"`
	Video    *waMedia   `json:"video,omitempty"`
	Document *waMedia   `json:"document,omitempty"`
	Sticker  *waMedia   `json:"sticker,omitempty"`
	Context  *waContext `json:"context,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type waContext struct {
	From          string   `json:"from"`
	ID            string   `json:"id"`
	Text          string   `json:"text,omitempty"`
	MentionedJIDs []string `json:"mentioned_jid,omitempty"`
	Forwarded     bool     `json:"forwarded,omitempty"`
}
