package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors holds the ordered CSS selector lists used to find things on the
// hosted page. Earlier entries win.
type Selectors struct {
	Containers  []string `yaml:"containers"`  // response container (eligibility)
	CopyButtons []string `yaml:"copyButtons"` // "copy to clipboard" controls
	TextViews   []string `yaml:"textViews"`   // rendered editor lines / preformatted blocks
	Candidates  []string `yaml:"candidates"`  // broad scan for the heuristic strategy
}

// DefaultSelectors returns the selectors for the Postman web response viewer.
func DefaultSelectors() Selectors {
	return Selectors{
		Containers: []string{
			".response-viewer-tab-content",
			`[data-testid="response-pane"]`,
			`div[class*="response"]`,
			".monaco-editor",
		},
		CopyButtons: []string{
			`[data-testid="text-editor-copy-button-response-body"]`,
			`[aria-label="Copy to Clipboard"]`,
			".copy-response-button",
			`button[class*="copy"]`,
		},
		TextViews: []string{
			".monaco-editor .view-line",
			`[data-testid="response-pane"] pre`,
			`div[class*="response"] pre`,
			"pre",
		},
		Candidates: []string{
			"pre",
			"code",
			"textarea",
			`[class*="response"]`,
			`[data-testid*="response"]`,
			`[role*="response"]`,
			`[aria-label*="response" i]`,
		},
	}
}

// LoadProfile reads a YAML selector profile. Lists missing from the file keep
// their defaults; lists present in the file replace them.
func LoadProfile(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("read selector profile: %w", err)
	}

	var override Selectors
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sel, fmt.Errorf("parse selector profile %s: %w", path, err)
	}

	if len(override.Containers) > 0 {
		sel.Containers = override.Containers
	}
	if len(override.CopyButtons) > 0 {
		sel.CopyButtons = override.CopyButtons
	}
	if len(override.TextViews) > 0 {
		sel.TextViews = override.TextViews
	}
	if len(override.Candidates) > 0 {
		sel.Candidates = override.Candidates
	}
	return sel, nil
}
