package oracle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Prompts holds the system prompt for each oracle purpose. Operators can
// override them from a directory without rebuilding.
type Prompts struct {
	Plan     string
	Analyze  string
	Classify string
}

// DefaultPrompts returns the built-in system prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Plan:     planSystemPrompt,
		Analyze:  analyzeSystemPrompt,
		Classify: classifySystemPrompt,
	}
}

// purpose-specific override files; anything else ending in .md becomes a
// shared preamble prepended to all three prompts
var promptFiles = map[string]func(*Prompts) *string{
	"plan.md":     func(p *Prompts) *string { return &p.Plan },
	"analyze.md":  func(p *Prompts) *string { return &p.Analyze },
	"classify.md": func(p *Prompts) *string { return &p.Classify },
}

// LoadPrompts reads prompt overrides from dir. A missing purpose file keeps
// its default. Other .md files in the directory are joined in name order and
// prepended to every prompt, so shared identity or tone guidance lives in
// one place.
func LoadPrompts(dir string) (Prompts, error) {
	prompts := DefaultPrompts()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts directory: %w", err)
	}

	var preamble []string
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Prompts{}, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if field, ok := promptFiles[name]; ok {
			*field(&prompts) = text
		} else {
			preamble = append(preamble, text)
		}
	}

	if len(preamble) > 0 {
		prefix := strings.Join(preamble, "\n\n") + "\n\n"
		prompts.Plan = prefix + prompts.Plan
		prompts.Analyze = prefix + prompts.Analyze
		prompts.Classify = prefix + prompts.Classify
	}
	return prompts, nil
}
