package post

import (
	"bytes"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/kr/internal/apperr"
)

// Headers is the YAML front matter of a post. Keys the model does not know
// about are kept in Extra and written back unchanged.
type Headers struct {
	Title     string         `yaml:"title" json:"title"`
	Authors   []string       `yaml:"authors" json:"authors"`
	CreatedAt time.Time      `yaml:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at,omitempty" json:"updated_at"`
	TLDR      string         `yaml:"tldr,omitempty" json:"tldr,omitempty"`
	Tags      []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Path      string         `yaml:"path,omitempty" json:"path,omitempty"`
	Extra     map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Normalize fills derived defaults: updated_at falls back to created_at.
func (h *Headers) Normalize() {
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = h.CreatedAt
	}
}

// Validate checks the headers required before a post can be added.
func (h Headers) Validate() error {
	err := validation.ValidateStruct(&h,
		validation.Field(&h.Title, validation.Required),
		validation.Field(&h.Authors, validation.Required, validation.Each(validation.Required)),
		validation.Field(&h.CreatedAt, validation.Required),
		validation.Field(&h.UpdatedAt, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidHeaders, err)
	}
	return nil
}

const fmDelim = "---"

// splitFrontMatter separates YAML front matter (between leading --- lines)
// from the Markdown body. Content without front matter is all body; front
// matter that is not valid YAML is an error.
func splitFrontMatter(data []byte) (Headers, string, error) {
	var h Headers
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(fmDelim)) {
		return h, string(data), nil
	}

	rest := trimmed[len(fmDelim):]
	idx := bytes.Index(rest, []byte("\n"+fmDelim))
	if idx < 0 {
		return h, "", fmt.Errorf("%w: front matter is not terminated", apperr.ErrInvalidHeaders)
	}
	block := rest[:idx]
	after := rest[idx+1+len(fmDelim):]
	// Drop the remainder of the closing delimiter line.
	if nl := bytes.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
	} else {
		after = nil
	}

	if err := yaml.Unmarshal(block, &h); err != nil {
		return Headers{}, "", fmt.Errorf("%w: front matter: %v", apperr.ErrInvalidHeaders, err)
	}
	return h, string(after), nil
}

// joinFrontMatter renders headers and body as a Markdown document.
func joinFrontMatter(h Headers, body string) ([]byte, error) {
	fm, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("post: marshal headers: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(fm) + len(body) + 8)
	buf.WriteString(fmDelim + "\n")
	buf.Write(fm)
	buf.WriteString(fmDelim + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
