package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const fence = "```"

// StripFence removes an optional markdown code fence around the document: a
// leading ``` with an optional language tag and a trailing ```.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, fence) {
		s = s[len(fence):]
		s = strings.TrimLeftFunc(s, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		})
	}
	if strings.HasSuffix(s, fence) {
		s = s[:len(s)-len(fence)]
	}
	return strings.TrimSpace(s)
}

// ParsePlan decodes and validates Actor output text into a Plan.
func ParsePlan(text string) (*Plan, error) {
	body := StripFence(text)
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, malformed(docPlan, text, err)
	}
	if v := schemaViolations(planSchema, doc); len(v) > 0 {
		return nil, violation(docPlan, text, v)
	}

	var wire planDoc
	if err := decodeInto(body, &wire); err != nil {
		return nil, violation(docPlan, text, []string{err.Error()})
	}
	p, err := wire.normalize()
	if err != nil {
		return nil, violation(docPlan, text, []string{err.Error()})
	}
	if v := p.validate(); len(v) > 0 {
		return nil, violation(docPlan, text, v)
	}
	return p, nil
}

// ParseCritique decodes and validates Critic output text into a Critique.
// Decision and severity values are accepted in any letter case; an approve
// decision with blocking issues, or a revise decision without any, is a
// SchemaViolation.
func ParseCritique(text string) (*Critique, error) {
	body := StripFence(text)
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, malformed(docCritique, text, err)
	}
	lowerEnums(doc)
	if v := schemaViolations(critiqueSchema, doc); len(v) > 0 {
		return nil, violation(docCritique, text, v)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, malformed(docCritique, text, err)
	}
	var wire Critique
	if err := decodeInto(string(normalized), &wire); err != nil {
		return nil, violation(docCritique, text, []string{err.Error()})
	}
	c, err := NewCritique(wire.Decision, wire.BlockingIssues, wire.MissingInformation, wire.ReviewNotes)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Excerpt = excerpt(text)
		}
		return nil, err
	}
	return c, nil
}

// decodeDocument decodes exactly one JSON value, keeping numbers as json.Number.
func decodeDocument(body string) (any, error) {
	if body == "" {
		return nil, errors.New("empty document")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected content after JSON document")
	}
	return doc, nil
}

func decodeInto(body string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}

func lowerEnums(doc any) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return
	}
	if d, ok := obj["decision"].(string); ok {
		obj["decision"] = strings.ToLower(strings.TrimSpace(d))
	}
	issues, ok := obj["blocking_issues"].([]any)
	if !ok {
		return
	}
	for _, item := range issues {
		if issue, ok := item.(map[string]any); ok {
			if s, ok := issue["severity"].(string); ok {
				issue["severity"] = strings.ToLower(strings.TrimSpace(s))
			}
		}
	}
}
