package classify

import (
	"testing"

	"chaperone/internal/domain"
)

func TestKind_Text(t *testing.T) {
	m := &domain.InboundMessage{Body: "hello"}
	if k := Kind(m); k != domain.KindText {
		t.Fatalf("expected text, got %s", k)
	}
}

func TestKind_MediaKinds(t *testing.T) {
	cases := []struct {
		mime string
		want domain.ContentKind
	}{
		{"image/jpeg", domain.KindImage},
		{"image/png", domain.KindImage},
		{"audio/ogg; codecs=opus", domain.KindAudio},
		{"video/mp4", domain.KindVideo},
		{"application/pdf", domain.KindDocument},
		{"text/csv", domain.KindDocument},
	}
	for _, tc := range cases {
		m := &domain.InboundMessage{MimeType: tc.mime}
		if k := Kind(m); k != tc.want {
			t.Fatalf("mime %q: expected %s, got %s", tc.mime, tc.want, k)
		}
	}
}

func TestKind_StickerWinsOverMime(t *testing.T) {
	m := &domain.InboundMessage{MimeType: "image/webp", IsSticker: true}
	if k := Kind(m); k != domain.KindSticker {
		t.Fatalf("expected sticker, got %s", k)
	}
}

func TestKind_Unknown(t *testing.T) {
	if k := Kind(&domain.InboundMessage{}); k != domain.KindUnknown {
		t.Fatalf("expected unknown, got %s", k)
	}
}

func TestText_Precedence(t *testing.T) {
	m := &domain.InboundMessage{
		Body:         "body",
		ExtendedBody: "extended",
		ImageCaption: "img",
		VideoCaption: "vid",
	}
	if got := Text(m); got != "body" {
		t.Fatalf("plain body must win, got %q", got)
	}

	m.Body = ""
	if got := Text(m); got != "extended" {
		t.Fatalf("extended body next, got %q", got)
	}

	m.ExtendedBody = ""
	if got := Text(m); got != "img" {
		t.Fatalf("image caption next, got %q", got)
	}

	m.ImageCaption = ""
	if got := Text(m); got != "vid" {
		t.Fatalf("video caption last, got %q", got)
	}

	m.VideoCaption = ""
	if got := Text(m); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestKind_ImageWithCaptionIsImage(t *testing.T) {
	m := &domain.InboundMessage{MimeType: "image/jpeg", ImageCaption: "look at this"}
	if k := Kind(m); k != domain.KindImage {
		t.Fatalf("caption does not make an image text, got %s", k)
	}
	if Text(m) != "look at this" {
		t.Fatal("caption should still be extractable")
	}
}
