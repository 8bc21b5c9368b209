package post

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/kparchive"
	"github.com/starford/kr/internal/refstore"
)

// Format names an external document format.
type Format string

const (
	FormatKP        Format = "kp"
	FormatMarkdown  Format = "md"
	FormatRMarkdown Format = "Rmd"
)

var formats = map[string]Format{
	"kp":  FormatKP,
	"md":  FormatMarkdown,
	"rmd": FormatRMarkdown,
}

// ParseFormat maps a declared format name to a Format. The empty string is
// returned as is and means "infer from the path".
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	f, ok := formats[strings.ToLower(strings.TrimPrefix(s, "."))]
	if !ok {
		return "", fmt.Errorf("post: format %q: %w", s, apperr.ErrUnsupportedFormat)
	}
	return f, nil
}

// InferFormat derives the format from a path's extension.
func InferFormat(path string) (Format, error) {
	ext := filepath.Ext(strings.TrimRight(path, `/\`))
	if ext == "" {
		return "", fmt.Errorf("post: cannot infer format of %q: %w", path, apperr.ErrUnsupportedFormat)
	}
	return ParseFormat(ext)
}

type parseOptions struct {
	sources []string
}

// ParseOption customizes Parse.
type ParseOption func(*parseOptions)

// WithSources attaches the given files under orig_src/.
func WithSources(paths ...string) ParseOption {
	return func(o *parseOptions) { o.sources = append(o.sources, paths...) }
}

// Parse reads the document at src. An empty format is inferred from the
// extension.
func Parse(src string, format Format, opts ...ParseOption) (*Post, error) {
	var o parseOptions
	for _, fn := range opts {
		fn(&o)
	}
	if format == "" {
		var err error
		if format, err = InferFormat(src); err != nil {
			return nil, err
		}
	}

	var (
		p   *Post
		err error
	)
	switch format {
	case FormatKP:
		p, err = parseKP(src)
	case FormatMarkdown, FormatRMarkdown:
		var data []byte
		data, err = os.ReadFile(src)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("post: %s: %w", src, apperr.ErrNotFound)
		}
		if err != nil {
			return nil, apperr.IO("post: read "+src, err)
		}
		p, err = parseMarkdown(data, filepath.Dir(src))
	default:
		return nil, fmt.Errorf("post: format %q: %w", format, apperr.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	if err := attachSources(p, o.sources); err != nil {
		return nil, err
	}
	p.Headers.Normalize()
	return p, nil
}

// ParseBytes parses an in-memory document. Markdown images are not
// imported since there is no directory to resolve them against.
func ParseBytes(data []byte, format Format) (*Post, error) {
	var (
		p   *Post
		err error
	)
	switch format {
	case FormatKP:
		p, err = Load(refstore.NewPacked(refstore.BytesArchive(data)))
	case FormatMarkdown, FormatRMarkdown:
		p, err = parseMarkdown(data, "")
	default:
		return nil, fmt.Errorf("post: format %q: %w", format, apperr.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	p.Headers.Normalize()
	return p, nil
}

func parseKP(src string) (*Post, error) {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("post: %s: %w", src, apperr.ErrNotFound)
		}
		return nil, apperr.IO("post: stat "+src, err)
	}
	s, err := refstore.Open(src, refstore.Packed)
	if err != nil {
		return nil, err
	}
	return Load(s)
}

func attachSources(p *Post, paths []string) error {
	for _, src := range paths {
		data, err := os.ReadFile(src)
		if err != nil {
			return apperr.IO("post: read source "+src, err)
		}
		if err := p.SetRef(SourcesDir+"/"+filepath.Base(src), data); err != nil {
			return err
		}
	}
	return nil
}

type serializeOptions struct {
	form refstore.Form
}

// SerializeOption customizes Serialize.
type SerializeOption func(*serializeOptions)

// Expanded makes Serialize write a kp post as a directory instead of a
// single archive file.
func Expanded() SerializeOption {
	return func(o *serializeOptions) { o.form = refstore.Expanded }
}

// Serialize writes p to target in the given format, inferred from the
// target when empty. A kp target must not exist yet; Markdown targets are
// overwritten and their references are written next to them.
func Serialize(p *Post, target string, format Format, opts ...SerializeOption) error {
	o := serializeOptions{form: refstore.Packed}
	for _, fn := range opts {
		fn(&o)
	}
	if format == "" {
		var err error
		if format, err = InferFormat(target); err != nil {
			return err
		}
	}

	switch format {
	case FormatKP:
		return serializeKP(p, target, o.form)
	case FormatMarkdown, FormatRMarkdown:
		return serializeMarkdown(p, target)
	default:
		return fmt.Errorf("post: format %q: %w", format, apperr.ErrUnsupportedFormat)
	}
}

func serializeKP(p *Post, target string, form refstore.Form) error {
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("post: %s already exists: %w", target, apperr.ErrConflict)
	}
	s, err := refstore.Open(target, form)
	if err != nil {
		return err
	}
	entries, err := p.entries()
	if err != nil {
		return err
	}
	// Carry the bookkeeping references so a round trip keeps identity.
	if p.UUID != "" {
		entries = append(entries, kparchive.Entry{Name: refstore.UUIDRef, Data: []byte(p.UUID)})
	}
	if p.Revision > 0 {
		entries = append(entries, kparchive.Entry{Name: refstore.RevisionRef, Data: []byte(strconv.Itoa(p.Revision))})
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

func serializeMarkdown(p *Post, target string) error {
	doc, err := p.Document()
	if err != nil {
		return err
	}
	if err := refstore.WriteFileAtomic(target, doc); err != nil {
		return apperr.IO("post: write "+target, err)
	}
	dir := filepath.Dir(target)
	for _, r := range p.refs {
		dst := filepath.Join(dir, filepath.FromSlash(r.Name))
		if err := refstore.WriteFileAtomic(dst, r.Data); err != nil {
			return apperr.IO("post: write "+dst, err)
		}
	}
	return nil
}
