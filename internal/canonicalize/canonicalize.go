// Package canonicalize turns an arbitrary JSON-like parameter value into a
// canonical byte string and a content hash, so that two requests carrying
// the same logical parameters — regardless of key order or whitespace —
// produce identical output.
//
// Canonical form is minified JSON with lexicographic key order at every
// nesting level. Go's encoding/json already serializes map[string]any keys
// in sorted order at every depth, so canonicalization reduces to: decode
// with number-preserving semantics, then re-encode compactly without HTML
// escaping.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ErrNotSerializable is returned when the input cannot be round-tripped
// through the canonical JSON model.
type ErrNotSerializable struct {
	Cause error
}

func (e *ErrNotSerializable) Error() string {
	return fmt.Sprintf("canonicalize: value is not JSON-serializable: %v", e.Cause)
}

func (e *ErrNotSerializable) Unwrap() error {
	return e.Cause
}

// Result holds the canonical byte string and its content hash.
type Result struct {
	Canonical []byte
	Hash      string // lowercase hex SHA-256 of Canonical
}

// Parameters canonicalizes an already-decoded value (typically the result
// of decoding a JSON request body with json.Number preserved). Map keys at
// every depth are sorted lexicographically; arrays preserve order.
func Parameters(value any) (Result, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return Result{}, &ErrNotSerializable{Cause: err}
	}

	// json.Encoder.Encode appends a trailing newline; canonical form has
	// no insignificant whitespace.
	canonical := bytes.TrimRight(buf.Bytes(), "\n")

	sum := sha256.Sum256(canonical)
	return Result{
		Canonical: canonical,
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}

// DecodePreservingNumbers parses raw JSON text the way the admission path
// must: numbers are kept as json.Number so that canonicalization never
// silently reformats a value (e.g. collapsing "1.50" to "1.5").
func DecodePreservingNumbers(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
