package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SpeechConfig configures the text-to-speech provider.
type SpeechConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g. "tts-1" (OpenAI) or a model ID (ElevenLabs)
	Voice    string // e.g. "alloy", "nova" (OpenAI) or a voice ID (ElevenLabs)
	Logger   *slog.Logger
}

// Speech synthesizes voice replies. The returned audio is MP3.
type Speech struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

func NewSpeech(cfg SpeechConfig) *Speech {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &Speech{
		provider: cfg.Provider,
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   cfg.Logger,
	}
}

// Synthesize converts text to speech audio.
func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	switch s.provider {
	case "openai":
		return s.synthesizeOpenAI(ctx, text)
	case "elevenlabs":
		return s.synthesizeElevenLabs(ctx, text)
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", s.provider)
	}
}

func (s *Speech) synthesizeOpenAI(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"model": s.model,
		"input": text,
		"voice": s.voice,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("TTS error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}

func (s *Speech) synthesizeElevenLabs(ctx context.Context, text string) ([]byte, error) {
	voiceID := s.voice
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM"
	}

	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}
