package contract

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorKind tags a ParseError.
type ErrorKind string

const (
	// MalformedOutput means the text could not be decoded as a JSON document.
	MalformedOutput ErrorKind = "malformed_output"
	// SchemaViolation means the document decoded but broke a field or cross-field rule.
	SchemaViolation ErrorKind = "schema_violation"
)

// Sentinels matched by errors.Is against a *ParseError of the same kind.
var (
	ErrMalformedOutput = errors.New("malformed output")
	ErrSchemaViolation = errors.New("schema violation")
)

// maxExcerpt bounds how much of the offending text is kept in a ParseError.
const maxExcerpt = 500

// ParseError is returned by every parse and construction function in this package.
type ParseError struct {
	Kind       ErrorKind
	Document   string   // "plan" or "critique"
	Violations []string // populated for SchemaViolation
	Excerpt    string   // leading part of the offending text, if any
	Err        error    // underlying decode error for MalformedOutput
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case MalformedOutput:
		if e.Err != nil {
			return fmt.Sprintf("%s: malformed output: %v", e.Document, e.Err)
		}
		return fmt.Sprintf("%s: malformed output", e.Document)
	default:
		return fmt.Sprintf("%s: schema violation: %s", e.Document, strings.Join(e.Violations, "; "))
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports kind equality with the package sentinels.
func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrMalformedOutput:
		return e.Kind == MalformedOutput
	case ErrSchemaViolation:
		return e.Kind == SchemaViolation
	}
	return false
}

// IsParseError reports whether err carries a *ParseError of any kind.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func malformed(doc, text string, err error) *ParseError {
	return &ParseError{Kind: MalformedOutput, Document: doc, Excerpt: excerpt(text), Err: err}
}

func violation(doc, text string, violations []string) *ParseError {
	return &ParseError{Kind: SchemaViolation, Document: doc, Excerpt: excerpt(text), Violations: violations}
}

func excerpt(text string) string {
	if len(text) <= maxExcerpt {
		return text
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
