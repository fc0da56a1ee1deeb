package sandbox

import (
	"log/slog"
	"testing"
	"time"
)

func TestNewDocker_Defaults(t *testing.T) {
	d := NewDocker(DockerConfig{})
	if d.image != "python:3.12-alpine" {
		t.Errorf("image = %q", d.image)
	}
	if d.timeout != 30*time.Second {
		t.Errorf("timeout = %v", d.timeout)
	}
	if d.maxMemory != "256m" || d.maxCPU != "0.5" {
		t.Errorf("limits = %s / %s", d.maxMemory, d.maxCPU)
	}
}

func TestRunArgs_IsolationFlags(t *testing.T) {
	d := NewDocker(DockerConfig{Image: "alpine:3", MaxMemory: "128m", Logger: slog.Default()})
	args := d.runArgs([]string{"python3", "-c", "print(1)"})

	want := map[string]bool{"--network": false, "--read-only": false, "--rm": false, "--pids-limit": false}
	for _, a := range args {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for flag, seen := range want {
		if !seen {
			t.Errorf("missing %s in docker args %v", flag, args)
		}
	}
	if args[len(args)-1] != "print(1)" {
		t.Errorf("argv not appended last: %v", args)
	}
	if args[len(args)-4] != "alpine:3" {
		t.Errorf("image not placed before argv: %v", args)
	}
}
