// Package snippets stores provisioning snippet fixtures: named template
// fragments with an informal two line header followed by a verbatim body.
// Bodies are opaque data. Any markup inside them belongs to whatever consumes
// the snippet and is never evaluated here.
package snippets

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoHeader        = errors.New("snippet missing header")
	ErrBadHeader       = errors.New("snippet header invalid")
	ErrSnippetNotFound = errors.New("snippet not found")
)

type Header struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

// Snippet is a parsed fixture. Body holds every byte after the second
// header line, untouched: escape sequences and line endings survive a
// load/store round trip exactly.
type Snippet struct {
	Kind string
	Name string
	Body []byte

	// raw is the exact on disk form when the snippet was parsed from one.
	raw []byte
}

// Parse splits the two header lines off raw and keeps the rest verbatim.
func Parse(raw []byte) (*Snippet, error) {
	first := bytes.IndexByte(raw, '\n')
	if first < 0 {
		return nil, ErrNoHeader
	}
	second := bytes.IndexByte(raw[first+1:], '\n')
	if second < 0 {
		return nil, ErrNoHeader
	}
	headerEnd := first + 1 + second + 1
	var h Header
	if err := yaml.Unmarshal(raw[:headerEnd], &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrBadHeader)
	}
	if h.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrBadHeader)
	}
	body := make([]byte, len(raw)-headerEnd)
	copy(body, raw[headerEnd:])
	saved := make([]byte, len(raw))
	copy(saved, raw)
	return &Snippet{
		Kind: h.Kind,
		Name: h.Name,
		Body: body,
		raw:  saved,
	}, nil
}

// Encode renders the snippet back to its on disk form. A snippet that came
// from Parse encodes to the exact bytes it was parsed from, header spacing
// and all. Freshly authored snippets get a canonical two line header.
func (s *Snippet) Encode() []byte {
	if s.raw != nil {
		out := make([]byte, len(s.raw))
		copy(out, s.raw)
		return out
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "kind: %v\n", s.Kind)
	fmt.Fprintf(&buf, "name: %v\n", s.Name)
	buf.Write(s.Body)
	return buf.Bytes()
}

func (s *Snippet) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrBadHeader)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrBadHeader)
	}
	return nil
}
