package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var kbRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:kb|knowledge)\s+(.+)$`)

const (
	kbMaxFiles   = 200
	kbMaxExcerpt = 2000
)

// Knowledge answers "kb <query>" from the markdown and text files under the
// workspace knowledge directory. Retrieval is plain keyword overlap; the
// model turns the best excerpts into an answer.
type Knowledge struct {
	deps *Deps
	dir  string
}

func NewKnowledge(deps *Deps, dir string) *Knowledge {
	return &Knowledge{deps: deps, dir: dir}
}

func (h *Knowledge) Name() string { return "knowledge" }

func (h *Knowledge) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagKnowledge) || h.dir == "" {
		return decline()
	}
	m := kbRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}
	query := strings.TrimSpace(m[1])

	excerpts, err := h.retrieve(query)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}
	if len(excerpts) == 0 {
		return domain.TextResult(fmt.Sprintf("Nothing in the knowledge base matches %q.", query)), nil
	}

	answer, err := h.deps.chat(ctx,
		"Answer the question strictly from the knowledge base excerpts below. Say so when they don't cover it.",
		fmt.Sprintf("Question: %s\n\nExcerpts:\n%s", query, strings.Join(excerpts, "\n---\n")))
	if err != nil {
		return nil, fmt.Errorf("answering from knowledge base: %w", err)
	}
	return domain.TextResult(answer), nil
}

func (h *Knowledge) retrieve(query string) ([]string, error) {
	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		score   int
		excerpt string
	}
	var hits []scored

	seen := 0
	err := filepath.WalkDir(h.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		if seen++; seen > kbMaxFiles {
			return filepath.SkipAll
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		lower := strings.ToLower(string(data))
		score := 0
		for _, t := range terms {
			score += strings.Count(lower, t)
		}
		if score > 0 {
			excerpt := string(data)
			if len(excerpt) > kbMaxExcerpt {
				excerpt = excerpt[:kbMaxExcerpt]
			}
			hits = append(hits, scored{score, fmt.Sprintf("[%s]\n%s", filepath.Base(path), excerpt)})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > 3 {
		hits = hits[:3]
	}
	out := make([]string, len(hits))
	for i, hit := range hits {
		out[i] = hit.excerpt
	}
	return out, nil
}
