package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var (
	codeIntentRe = regexp.MustCompile(`(?i)\b(?:run|execute|eval)\b.*\bcode\b|\brun this\b`)
	fenceRe      = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)\n(.*?)```")
)

const (
	codeTimeout   = 10 * time.Second
	maxCodeOutput = 4000
)

// CodeExec runs a fenced code block from the message, in the Docker sandbox
// when one is configured and in a short-lived subprocess otherwise. Only
// python and shell snippets are supported; anything else gets a polite
// refusal rather than a decline, since the intent was clear.
type CodeExec struct {
	deps *Deps
}

func NewCodeExec(deps *Deps) *CodeExec { return &CodeExec{deps: deps} }

func (h *CodeExec) Name() string { return "code_execution" }

func (h *CodeExec) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagCodeExecution) {
		return decline()
	}
	fence := fenceRe.FindStringSubmatch(text)
	if fence == nil || !codeIntentRe.MatchString(text) {
		return decline()
	}

	lang := strings.ToLower(fence[1])
	code := fence[2]

	var argv []string
	switch lang {
	case "python", "python3", "py", "":
		argv = []string{"python3", "-c", code}
	case "sh", "bash", "shell":
		argv = []string{"sh", "-c", code}
	default:
		return domain.TextResult(fmt.Sprintf("I can only run python or shell snippets, not %s.", lang)), nil
	}

	if h.deps.Sandbox != nil {
		return h.runSandboxed(ctx, argv)
	}

	runCtx, cancel := context.WithTimeout(ctx, codeTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	output := strings.TrimSpace(out.String())
	if len(output) > maxCodeOutput {
		output = output[:maxCodeOutput] + "\n… (truncated)"
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return domain.TextResult("⏱ Execution timed out after 10s.\n" + output), nil
	}
	if err != nil {
		if output == "" {
			output = err.Error()
		}
		return domain.TextResult("❌ Exited with an error:\n```\n" + output + "\n```"), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return domain.TextResult("```\n" + output + "\n```"), nil
}

func (h *CodeExec) runSandboxed(ctx context.Context, argv []string) (*domain.CapabilityResult, error) {
	output, err := h.deps.Sandbox.Run(ctx, argv...)
	if len(output) > maxCodeOutput {
		output = output[:maxCodeOutput] + "\n… (truncated)"
	}
	if err != nil {
		if output == "" {
			output = err.Error()
		}
		return domain.TextResult("❌ Exited with an error:\n```\n" + output + "\n```"), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return domain.TextResult("```\n" + output + "\n```"), nil
}
