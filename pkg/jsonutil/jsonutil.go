// Package jsonutil wraps github.com/go-json-experiment/json behind the
// familiar encoding/json surface. Findings and statistics are serialized
// on every report write and statistics poll, so the faster encoder pays
// for itself; callers never touch the experiment API directly.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent returns the JSON encoding of v indented with indent.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.Marshal(v, jsontext.WithIndent(indent))
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}

// Encoder streams newline-delimited JSON values to a writer. Used by
// the NDJSON report writer where each finding is one line.
type Encoder struct {
	w      io.Writer
	indent string
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// SetIndent switches the encoder to indented output.
func (e *Encoder) SetIndent(indent string) {
	e.indent = indent
}

// Encode writes v followed by a newline.
func (e *Encoder) Encode(v any) error {
	var err error
	if e.indent != "" {
		err = json.MarshalWrite(e.w, v, jsontext.WithIndent(e.indent))
	} else {
		err = json.MarshalWrite(e.w, v)
	}
	if err != nil {
		return err
	}
	_, err = e.w.Write([]byte{'\n'})
	return err
}

// Decode reads one JSON value from r into v.
func Decode(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}
