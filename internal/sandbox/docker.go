// Package sandbox isolates untrusted code execution in short-lived Docker
// containers with no network and tight resource limits.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const maxSandboxOutput = 100000

type Docker struct {
	image     string
	timeout   time.Duration
	maxMemory string
	maxCPU    string
	logger    *slog.Logger
}

type DockerConfig struct {
	Image     string // default python:3.12-alpine
	Timeout   time.Duration
	MaxMemory string // e.g. "256m"
	MaxCPU    string // e.g. "0.5"
	Logger    *slog.Logger
}

func NewDocker(cfg DockerConfig) *Docker {
	if cfg.Image == "" {
		cfg.Image = "python:3.12-alpine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "256m"
	}
	if cfg.MaxCPU == "" {
		cfg.MaxCPU = "0.5"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Docker{
		image:     cfg.Image,
		timeout:   cfg.Timeout,
		maxMemory: cfg.MaxMemory,
		maxCPU:    cfg.MaxCPU,
		logger:    cfg.Logger,
	}
}

// Available reports whether a Docker daemon is reachable.
func (d *Docker) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// Run executes argv inside a fresh container and returns combined output.
// The container gets no network, a read-only root, and a small tmpfs.
func (d *Docker) Run(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := d.runArgs(argv)
	d.logger.Info("sandbox run", "image", d.image, "argv0", argv[0])

	cmd := exec.CommandContext(ctx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	output := out.String()
	if len(output) > maxSandboxOutput {
		output = output[:maxSandboxOutput] + "\n... (output truncated)"
	}
	output = strings.TrimSpace(output)

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("timed out after %s", d.timeout)
	}
	if err != nil {
		return output, fmt.Errorf("sandbox run: %w", err)
	}
	return output, nil
}

// RunShell executes a shell command line inside the container.
func (d *Docker) RunShell(ctx context.Context, command string) (string, error) {
	return d.Run(ctx, "sh", "-c", command)
}

func (d *Docker) runArgs(argv []string) []string {
	args := []string{
		"run", "--rm",
		"--network", "none",
		"--memory", d.maxMemory,
		"--cpus", d.maxCPU,
		"--pids-limit", "100",
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
		d.image,
	}
	return append(args, argv...)
}
