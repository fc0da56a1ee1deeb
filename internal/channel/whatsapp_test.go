package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

func testWhatsApp(t *testing.T) *WhatsApp {
	t.Helper()
	w := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{
			AppSecret:     "secret",
			VerifyToken:   "verify-me",
			PhoneNumberID: "12345",
			BotJID:        "bot@s.whatsapp.net",
			WebhookPath:   "/webhook/whatsapp",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWhatsApp_Verification(t *testing.T) {
	w := testWhatsApp(t)

	req := httptest.NewRequest("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12321", nil)
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "12321" {
		t.Fatalf("challenge = %q, want %q", got, "12321")
	}
}

func TestWhatsApp_VerificationBadToken(t *testing.T) {
	w := testWhatsApp(t)

	req := httptest.NewRequest("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil)
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWhatsApp_IncomingTextBatch(t *testing.T) {
	w := testWhatsApp(t)

	var batch []domain.InboundMessage
	w.OnBatch = func(ctx context.Context, msgs []domain.InboundMessage) {
		batch = msgs
	}

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"contacts": [{"wa_id": "alice@s.whatsapp.net", "profile": {"name": "Alice"}}],
			"messages": [
				{"from": "alice@s.whatsapp.net", "id": "m1", "type": "text", "text": {"body": "hello there"}},
				{"from": "alice@s.whatsapp.net", "id": "m2", "type": "text", "text": {"body": "second"},
				 "context": {"from": "bot@s.whatsapp.net", "id": "m0", "text": "earlier reply"}}
			]
		}}]}]
	}`)

	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	first := batch[0]
	if first.Body != "hello there" || first.SenderID != "alice@s.whatsapp.net" {
		t.Errorf("unexpected first message: %+v", first)
	}
	if first.SenderName != "Alice" {
		t.Errorf("SenderName = %q, want Alice", first.SenderName)
	}
	second := batch[1]
	if second.QuotedSender != "bot@s.whatsapp.net" || second.QuotedID != "m0" {
		t.Errorf("quoted context not mapped: %+v", second)
	}
}

func TestWhatsApp_IncomingRejectsBadSignature(t *testing.T) {
	w := testWhatsApp(t)

	called := false
	w.OnBatch = func(ctx context.Context, msgs []domain.InboundMessage) { called = true }

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if called {
		t.Error("batch callback fired on unsigned payload")
	}
}

func TestWhatsApp_GroupMessageAndMedia(t *testing.T) {
	w := testWhatsApp(t)

	var batch []domain.InboundMessage
	w.OnBatch = func(ctx context.Context, msgs []domain.InboundMessage) {
		batch = msgs
	}

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"group": {"id": "g1@g.us", "subject": "Book Club", "participants": [
				{"jid": "admin@s.whatsapp.net", "admin": true},
				{"jid": "alice@s.whatsapp.net", "admin": false}
			]},
			"messages": [
				{"from": "alice@s.whatsapp.net", "id": "m3", "type": "image",
				 "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "look at this"}}
			]
		}}]}]
	}`)

	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	msg := batch[0]
	if !msg.IsGroup || msg.ChatID != "g1@g.us" || msg.GroupName != "Book Club" {
		t.Errorf("group fields not mapped: %+v", msg)
	}
	if msg.ImageCaption != "look at this" || msg.MimeType != "image/jpeg" {
		t.Errorf("image fields not mapped: %+v", msg)
	}

	info, err := w.GroupInfo(context.Background(), "g1@g.us")
	if err != nil {
		t.Fatalf("GroupInfo: %v", err)
	}
	if !info.IsAdmin("admin@s.whatsapp.net") {
		t.Error("admin@s.whatsapp.net should be admin")
	}
	if info.IsAdmin("alice@s.whatsapp.net") {
		t.Error("alice@s.whatsapp.net should not be admin")
	}

	// The image should have left a media reference behind for Download.
	w.mu.Lock()
	ref := w.mediaRefs["m3"]
	w.mu.Unlock()
	if ref != "media-9" {
		t.Errorf("media ref = %q, want media-9", ref)
	}
}

func TestSplitMessage(t *testing.T) {
	chunks := splitMessage("short", 100)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("short message split: %v", chunks)
	}

	long := ""
	for i := 0; i < 50; i++ {
		long += "line of reasonable length for the test\n"
	}
	chunks = splitMessage(long, 400)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	joined := ""
	for _, c := range chunks {
		if len(c) > 400 {
			t.Errorf("chunk exceeds limit: %d", len(c))
		}
		joined += c
	}
	if joined != long {
		t.Error("chunks do not reassemble the original message")
	}
}
