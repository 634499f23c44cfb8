// Package jsonutil provides a high-performance JSON encoding/decoding wrapper.
// It uses github.com/go-json-experiment/json which is 2-3x faster than
// encoding/json, and adds a canonical marshalling mode used for cache
// fingerprints.
//
// This is a drop-in replacement for encoding/json in hot paths.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, _, indent string) ([]byte, error) {
	return json.Marshal(v, jsontext.WithIndent(indent))
}

// MarshalCanonical returns a deterministic encoding of v: map keys are
// sorted so that semantically equal values always produce identical
// bytes. Validation fingerprints depend on this property.
func MarshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true))
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}

// MarshalWrite writes the JSON encoding of v to w.
func MarshalWrite(w io.Writer, v any) error {
	return json.MarshalWrite(w, v)
}

// UnmarshalRead reads a single JSON value from r into v.
func UnmarshalRead(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}
