package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"chaperone/internal/domain"
)

// CLI is an interactive terminal channel for local testing. Lines typed at
// the prompt become direct messages; replies print to the terminal. Media
// sends are written to the working directory.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	seq int
}

type CLIChannelConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIChannelConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

func (c *CLI) SelfID() string { return "chaperone" }

// Start runs the REPL until EOF, /quit, or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	fmt.Fprintln(c.out, "Chaperone CLI. Type your message and press Enter. Type /quit to exit.")
	fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.seq++
		c.startThinking()
		c.bus.Publish(domain.InboundMessage{
			Channel:   "cli",
			ID:        strconv.Itoa(c.seq),
			ChatID:    "direct",
			SenderID:  "user",
			Body:      line,
			Timestamp: time.Now(),
		})
	}
}

func (c *CLI) Stop() error { return nil }

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// --- domain.Transport ---

func (c *CLI) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	c.stopThinking()
	fmt.Fprint(c.out, "\r\033[K")
	fmt.Fprintln(c.out, "--- Chaperone ---")
	fmt.Fprintln(c.out, text)
	fmt.Fprintln(c.out, "-----------------")
	fmt.Fprint(c.out, "You> ")
	return nil
}

// SendMedia writes the payload to a local file and prints its path.
func (c *CLI) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	c.stopThinking()
	name := media.Filename
	if name == "" {
		name = fmt.Sprintf("chaperone-%d%s", time.Now().Unix(), extForMime(media.MimeType))
	}
	path := filepath.Join(os.TempDir(), name)
	if err := os.WriteFile(path, media.Data, 0o644); err != nil {
		return fmt.Errorf("write media: %w", err)
	}
	fmt.Fprint(c.out, "\r\033[K")
	fmt.Fprintf(c.out, "[media saved to %s]\n", path)
	if media.Caption != "" {
		fmt.Fprintln(c.out, media.Caption)
	}
	fmt.Fprint(c.out, "You> ")
	return nil
}

func (c *CLI) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	return c.SendMedia(ctx, chatID, domain.Media{
		Kind:     domain.KindAudio,
		MimeType: "audio/mpeg",
		Data:     audio,
	}, quote)
}

func (c *CLI) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	return nil
}

func (c *CLI) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	return &domain.GroupInfo{}, nil
}

func (c *CLI) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return nil
}

func extForMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/png"):
		return ".png"
	case strings.HasPrefix(mime, "image/"):
		return ".jpg"
	case strings.HasPrefix(mime, "audio/"):
		return ".mp3"
	case strings.HasPrefix(mime, "video/"):
		return ".mp4"
	default:
		return ".bin"
	}
}
