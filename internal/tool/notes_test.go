package tool

import (
	"context"
	"strings"
	"testing"
)

func TestNoteTools_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	save := NewSaveNoteTool(dir)
	out, err := save.Execute(ctx, map[string]any{"name": "wifi", "content": "password: hunter2"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(out, "wifi.md") {
		t.Errorf("save output = %q, want the .md name", out)
	}

	read := NewReadNoteTool(dir)
	got, err := read.Execute(ctx, map[string]any{"name": "wifi"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "password: hunter2" {
		t.Errorf("read = %q", got)
	}

	list := NewListNotesTool(dir)
	listing, err := list.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(listing, "wifi.md") {
		t.Errorf("listing = %q", listing)
	}
}

func TestNoteTools_RejectTraversal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := NewReadNoteTool(dir).Execute(ctx, map[string]any{"name": "../../etc/passwd"}); err == nil {
		t.Fatal("read accepted a traversal path")
	}
	if _, err := NewSaveNoteTool(dir).Execute(ctx, map[string]any{"name": "../outside", "content": "x"}); err == nil {
		t.Fatal("save accepted a traversal path")
	}
}

func TestListNotes_EmptyDirectory(t *testing.T) {
	out, err := NewListNotesTool(t.TempDir() + "/missing").Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "no notes") {
		t.Errorf("out = %q", out)
	}
}
