// Package post models a knowledge post: YAML headers, a Markdown body and
// an ordered set of named references, with converters to and from the
// external document formats.
package post

import (
	"errors"
	"fmt"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/kparchive"
	"github.com/starford/kr/internal/refstore"
)

// Well-known reference names and directories inside a post.
const (
	PrimaryRef = "knowledge.md"
	ImagesDir  = "images"
	SourcesDir = "orig_src"
)

// Ref is a named blob attached to a post.
type Ref struct {
	Name string
	Data []byte
}

// Post is an in-memory knowledge post. Repositories own the identity fields
// (Path, UUID, Revision); callers build the content.
type Post struct {
	Path     string
	UUID     string
	Revision int
	Headers  Headers
	Body     string

	refs []Ref
}

// New returns a post with the given headers and Markdown body.
func New(h Headers, body string) *Post {
	return &Post{Headers: h, Body: body}
}

// SetRef adds or replaces a reference. The primary document and the
// reserved bookkeeping names cannot be set this way.
func (p *Post) SetRef(name string, data []byte) error {
	clean, err := kparchive.CleanName(name)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidPath, err)
	}
	if clean == PrimaryRef || refstore.IsReserved(clean) {
		return fmt.Errorf("post: reference name %q is reserved: %w", clean, apperr.ErrInvalidPath)
	}
	for i := range p.refs {
		if p.refs[i].Name == clean {
			p.refs[i].Data = data
			return nil
		}
	}
	names := []string{PrimaryRef, clean}
	for _, r := range p.refs {
		names = append(names, r.Name)
	}
	if err := kparchive.CheckLayout(names); err != nil {
		return fmt.Errorf("post: reference %q: %w: %v", clean, apperr.ErrInvalidPath, err)
	}
	p.refs = append(p.refs, Ref{Name: clean, Data: data})
	return nil
}

// Ref returns the content of a reference other than the primary document.
func (p *Post) Ref(name string) ([]byte, bool) {
	for _, r := range p.refs {
		if r.Name == name {
			return r.Data, true
		}
	}
	return nil, false
}

// Refs returns the attached references in insertion order.
func (p *Post) Refs() []Ref {
	out := make([]Ref, len(p.refs))
	copy(out, p.refs)
	return out
}

// Document renders the primary knowledge.md reference.
func (p *Post) Document() ([]byte, error) {
	return joinFrontMatter(p.Headers, p.Body)
}

// entries returns every content reference, primary document first.
func (p *Post) entries() ([]kparchive.Entry, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	out := make([]kparchive.Entry, 0, len(p.refs)+1)
	out = append(out, kparchive.Entry{Name: PrimaryRef, Data: doc})
	for _, r := range p.refs {
		out = append(out, kparchive.Entry{Name: r.Name, Data: r.Data})
	}
	return out, nil
}

// Save writes the primary document and every reference into s. The
// bookkeeping references are left to refstore.Bump.
func (p *Post) Save(s refstore.Store) error {
	entries, err := p.entries()
	if err != nil {
		return err
	}
	if bw, ok := s.(refstore.BatchWriter); ok {
		return bw.WriteAll(entries)
	}
	for _, e := range entries {
		if err := s.Write(e.Name, e.Data); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a post back from its references.
func Load(s refstore.Store) (*Post, error) {
	doc, err := s.Read(PrimaryRef)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("post: missing %s: %w", PrimaryRef, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	h, body, err := splitFrontMatter(doc)
	if err != nil {
		return nil, err
	}
	p := New(h, body)
	for name, err := range s.List("") {
		if err != nil {
			return nil, err
		}
		if name == PrimaryRef {
			continue
		}
		data, err := s.Read(name)
		if err != nil {
			return nil, err
		}
		p.refs = append(p.refs, Ref{Name: name, Data: data})
	}
	if p.UUID, err = refstore.UUID(s); err != nil {
		return nil, err
	}
	if p.Revision, err = refstore.Revision(s); err != nil {
		return nil, err
	}
	return p, nil
}
