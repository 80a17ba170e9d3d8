package contract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Serialize returns the canonical text form of a Plan or Critique: compact
// JSON, fields in declaration order, map keys sorted, no HTML escaping.
func Serialize(v any) (string, error) {
	switch t := v.(type) {
	case *Plan:
		b, err := t.Canonical()
		return string(b), err
	case *Critique:
		b, err := marshalCanonical(t)
		return string(b), err
	default:
		return "", fmt.Errorf("serialize: unsupported type %T", v)
	}
}

// SerializeIndent is Serialize with two-space indentation, used when a
// document is embedded in a prompt.
func SerializeIndent(v any) (string, error) {
	compact, err := Serialize(v)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(compact), "", "  "); err != nil {
		return "", fmt.Errorf("indent: %w", err)
	}
	return out.String(), nil
}

// Canonical returns the canonical byte form of the plan.
func (p *Plan) Canonical() ([]byte, error) {
	return marshalCanonical(p.doc())
}

// Fingerprint is the hex SHA-256 digest of the plan's canonical form. It is
// stable across calls and differs for plans that differ in any field.
func Fingerprint(p *Plan) (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
