package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"chaperone/internal/domain"
	"chaperone/internal/sandbox"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// ShellTool lets the loop run shell commands. With a sandbox configured the
// command runs in an isolated container; otherwise it runs as a plain
// subprocess in the workspace directory.
type ShellTool struct {
	workingDir     string
	timeoutSeconds int
	maxOutputBytes int
	sandbox        *sandbox.Docker
}

type ShellConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	MaxOutputBytes int
	Sandbox        *sandbox.Docker
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ShellTool{
		workingDir:     cfg.WorkingDir,
		timeoutSeconds: cfg.TimeoutSeconds,
		maxOutputBytes: cfg.MaxOutputBytes,
		sandbox:        cfg.Sandbox,
	}
}

func (s *ShellTool) Name() string    { return "run_command" }
func (s *ShellTool) GroupOnly() bool { return false }

func (s *ShellTool) Description() string {
	return "Run a shell command and return its combined stdout and stderr."
}

func (s *ShellTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command": {Type: "string", Description: "The shell command line to run"},
		},
		[]string{"command"},
	)
}

func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}

	if s.sandbox != nil {
		return s.sandbox.RunShell(ctx, command)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSeconds)*time.Second)
	defer cancel()

	// sh -c so pipes, redirects, and quoting behave as the model expects.
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	output, err := cmd.CombinedOutput()
	result := string(output)
	if len(result) > s.maxOutputBytes {
		result = result[:s.maxOutputBytes] + "\n... (output truncated)"
	}
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("timed out after %ds", s.timeoutSeconds)
		}
		return result, fmt.Errorf("exit: %w", err)
	}
	return result, nil
}

var _ domain.Tool = (*ShellTool)(nil)
