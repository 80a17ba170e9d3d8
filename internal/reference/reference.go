// Package reference loads the tool documentation and validated usage
// examples both agents are grounded on.
package reference

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/metalagman/duet/internal/contract"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/tileworld.md
var defaultDocs string

//go:embed defaults/examples.yaml
var defaultExamples []byte

// Set is the immutable reference data of one engine.
type Set struct {
	Docs     string
	Examples []string
}

// Example is one validated demonstration in an examples file.
type Example struct {
	Title   string    `yaml:"title"`
	Request string    `yaml:"request"`
	Plan    yaml.Node `yaml:"plan"`
}

type examplesFile struct {
	Examples []Example `yaml:"examples"`
}

// Default returns the embedded TileWorldCreator catalog.
func Default() (Set, error) {
	examples, err := ParseExamples(defaultExamples)
	if err != nil {
		return Set{}, fmt.Errorf("embedded examples: %w", err)
	}
	return Set{Docs: defaultDocs, Examples: examples}, nil
}

// Load reads documentation and examples from disk. An empty path selects the
// embedded default for that part.
func Load(docsPath, examplesPath string) (Set, error) {
	set, err := Default()
	if err != nil {
		return Set{}, err
	}

	if docsPath != "" {
		data, err := os.ReadFile(docsPath)
		if err != nil {
			return Set{}, fmt.Errorf("read docs: %w", err)
		}
		set.Docs = string(data)
	}
	if examplesPath != "" {
		data, err := os.ReadFile(examplesPath)
		if err != nil {
			return Set{}, fmt.Errorf("read examples: %w", err)
		}
		if set.Examples, err = ParseExamples(data); err != nil {
			return Set{}, fmt.Errorf("parse examples %s: %w", examplesPath, err)
		}
	}

	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Validate checks that documentation is present.
func (s Set) Validate() error {
	if strings.TrimSpace(s.Docs) == "" {
		return errors.New("reference documentation is empty")
	}
	return nil
}

// ParseExamples decodes an examples YAML file and renders each entry as
// prompt text. Every embedded plan must satisfy the plan contract. A plan
// may be a YAML mapping or a JSON string.
func ParseExamples(data []byte) ([]string, error) {
	var f examplesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	out := make([]string, 0, len(f.Examples))
	for i, ex := range f.Examples {
		text, err := ex.render()
		if err != nil {
			return nil, fmt.Errorf("example %d (%s): %w", i+1, ex.Title, err)
		}
		out = append(out, text)
	}
	return out, nil
}

func (e Example) render() (string, error) {
	planText, err := e.planJSON()
	if err != nil {
		return "", err
	}
	plan, err := contract.ParsePlan(planText)
	if err != nil {
		return "", err
	}
	pretty, err := contract.SerializeIndent(plan)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if e.Title != "" {
		fmt.Fprintf(&sb, "### Example: %s\n\n", e.Title)
	}
	if e.Request != "" {
		fmt.Fprintf(&sb, "User Request: %q\n\n", e.Request)
	}
	sb.WriteString("```json\n")
	sb.WriteString(pretty)
	sb.WriteString("\n```")
	return sb.String(), nil
}

func (e Example) planJSON() (string, error) {
	switch e.Plan.Kind {
	case 0:
		return "", errors.New("plan is missing")
	case yaml.ScalarNode:
		return e.Plan.Value, nil
	}
	var v any
	if err := e.Plan.Decode(&v); err != nil {
		return "", fmt.Errorf("decode plan: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(b), nil
}
