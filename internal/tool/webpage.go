package tool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultPageTimeout = 30 * time.Second
	pageMaxOutput      = 20_000
)

// PageFetchTool renders a web page in headless Chrome and returns its
// readable text. Rendering through a real browser keeps script-heavy pages
// readable where a plain GET would return an empty shell.
type PageFetchTool struct {
	timeout time.Duration
}

func NewPageFetchTool(timeout time.Duration) *PageFetchTool {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	return &PageFetchTool{timeout: timeout}
}

func (t *PageFetchTool) Name() string { return "web_fetch" }
func (t *PageFetchTool) Description() string {
	return "Fetch and read a web page by URL. Returns the page title and its text content. Useful for reading articles, documentation, or anything linked in chat."
}
func (t *PageFetchTool) GroupOnly() bool { return false }

func (t *PageFetchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to fetch (must start with http:// or https://)"},
		},
		[]string{"url"},
	)
}

func (t *PageFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	title, text, err := t.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("# %s\n\n%s", title, text), nil
}

// Fetch implements the capability handlers' PageFetcher interface.
func (t *PageFetchTool) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, t.timeout)
	defer cancelRun()

	var title, text string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("rendering %s: %w", rawURL, err)
	}

	text = collapseWhitespace(text)
	if len(text) > pageMaxOutput {
		text = text[:pageMaxOutput] + "\n… (truncated)"
	}
	return title, text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
