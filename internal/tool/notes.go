package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chaperone/internal/domain"
)

// The note tools manage the markdown files under the knowledge directory,
// the same files the "kb <query>" handler retrieves from. Paths are confined
// to that directory; traversal outside it is rejected.

func resolveNotePath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("missing note name")
	}
	if filepath.Ext(name) == "" {
		name += ".md"
	}
	resolved, err := filepath.Abs(filepath.Clean(filepath.Join(dir, name)))
	if err != nil {
		return "", fmt.Errorf("resolve note path: %w", err)
	}
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve notes directory: %w", err)
	}
	if resolved != dirAbs && !strings.HasPrefix(resolved, dirAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("note %q escapes the knowledge directory", name)
	}
	return resolved, nil
}

type ReadNoteTool struct {
	dir string
}

func NewReadNoteTool(dir string) *ReadNoteTool { return &ReadNoteTool{dir: dir} }

func (t *ReadNoteTool) Name() string    { return "read_note" }
func (t *ReadNoteTool) GroupOnly() bool { return false }
func (t *ReadNoteTool) Description() string {
	return "Read a note from the knowledge base by name."
}
func (t *ReadNoteTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"name": {Type: "string", Description: "Note name, e.g. 'house-rules' or 'wifi.md'"},
		},
		[]string{"name"},
	)
}

func (t *ReadNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := resolveNotePath(t.dir, ArgsString(args, "name"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}
	return string(data), nil
}

type SaveNoteTool struct {
	dir string
}

func NewSaveNoteTool(dir string) *SaveNoteTool { return &SaveNoteTool{dir: dir} }

func (t *SaveNoteTool) Name() string    { return "save_note" }
func (t *SaveNoteTool) GroupOnly() bool { return false }
func (t *SaveNoteTool) Description() string {
	return "Save a note to the knowledge base. Overwrites an existing note of the same name."
}
func (t *SaveNoteTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"name":    {Type: "string", Description: "Note name, e.g. 'house-rules'"},
			"content": {Type: "string", Description: "Markdown content of the note"},
		},
		[]string{"name", "content"},
	)
}

func (t *SaveNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := resolveNotePath(t.dir, ArgsString(args, "name"))
	if err != nil {
		return "", err
	}
	content := ArgsString(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create knowledge directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("save note: %w", err)
	}
	return fmt.Sprintf("Saved %s (%d bytes)", filepath.Base(path), len(content)), nil
}

type ListNotesTool struct {
	dir string
}

func NewListNotesTool(dir string) *ListNotesTool { return &ListNotesTool{dir: dir} }

func (t *ListNotesTool) Name() string    { return "list_notes" }
func (t *ListNotesTool) GroupOnly() bool { return false }
func (t *ListNotesTool) Description() string {
	return "List the notes in the knowledge base."
}
func (t *ListNotesTool) Parameters() map[string]any {
	return ToolParameters(nil, nil)
}

func (t *ListNotesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	entries, err := os.ReadDir(t.dir)
	if os.IsNotExist(err) {
		return "(no notes yet)", nil
	}
	if err != nil {
		return "", fmt.Errorf("list notes: %w", err)
	}
	var lines []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			lines = append(lines, e.Name())
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d bytes)", e.Name(), info.Size()))
	}
	if len(lines) == 0 {
		return "(no notes yet)", nil
	}
	return strings.Join(lines, "\n"), nil
}

var (
	_ domain.Tool = (*ReadNoteTool)(nil)
	_ domain.Tool = (*SaveNoteTool)(nil)
	_ domain.Tool = (*ListNotesTool)(nil)
)
