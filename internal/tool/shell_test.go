package tool

import (
	"context"
	"strings"
	"testing"
)

func TestShellTool_Defaults(t *testing.T) {
	s := NewShellTool(ShellConfig{})
	if s.Name() != "run_command" {
		t.Errorf("Name = %q", s.Name())
	}
	if s.GroupOnly() {
		t.Error("run_command must be available in direct chats")
	}
	if s.timeoutSeconds != defaultShellTimeout || s.maxOutputBytes != defaultMaxOutputBytes {
		t.Errorf("defaults not applied: %d / %d", s.timeoutSeconds, s.maxOutputBytes)
	}
}

func TestShellTool_MissingCommand(t *testing.T) {
	s := NewShellTool(ShellConfig{TimeoutSeconds: 5})
	for _, args := range []map[string]any{{}, {"command": "   "}} {
		out, err := s.Execute(context.Background(), args)
		if err == nil {
			t.Fatalf("args %v: expected error", args)
		}
		if out != "" {
			t.Errorf("args %v: expected empty output, got %q", args, out)
		}
	}
}

func TestShellTool_Echo(t *testing.T) {
	s := NewShellTool(ShellConfig{TimeoutSeconds: 5})
	out, err := s.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
}

func TestShellTool_NonZeroExit(t *testing.T) {
	s := NewShellTool(ShellConfig{TimeoutSeconds: 5})
	if _, err := s.Execute(context.Background(), map[string]any{"command": "exit 1"}); err == nil {
		t.Fatal("expected error for exit 1")
	}
}

func TestShellTool_TruncatesOutput(t *testing.T) {
	s := NewShellTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 16})
	out, err := s.Execute(context.Background(), map[string]any{"command": "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "truncated") {
		t.Errorf("expected truncation marker, got %q", out)
	}
}
