package post

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/checksum"
)

var markdownParser = goldmark.New()

// parseMarkdown splits front matter from the body and, when baseDir is set,
// imports local images referenced by the body as images/<name> references,
// rewriting the links to match.
func parseMarkdown(data []byte, baseDir string) (*Post, error) {
	h, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	p := New(h, body)
	if baseDir == "" {
		return p, nil
	}
	for _, dest := range imageDestinations([]byte(body)) {
		local, ok := localImagePath(dest, baseDir)
		if !ok {
			continue
		}
		img, err := os.ReadFile(local)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("post: image %q: %w", dest, apperr.ErrNotFound)
		}
		if err != nil {
			return nil, apperr.IO("post: read image "+local, err)
		}
		name := p.imageName(filepath.Base(local), img)
		if err := p.SetRef(name, img); err != nil {
			return nil, err
		}
		p.Body = rewriteLink(p.Body, dest, name)
	}
	return p, nil
}

// imageDestinations returns the distinct image link targets in document order.
func imageDestinations(src []byte) []string {
	doc := markdownParser.Parser().Parse(text.NewReader(src))
	seen := make(map[string]struct{})
	var out []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if _, dup := seen[dest]; !dup && dest != "" {
			seen[dest] = struct{}{}
			out = append(out, dest)
		}
		return ast.WalkContinue, nil
	})
	return out
}

// localImagePath resolves dest against baseDir when it points at a local
// file rather than a URL.
func localImagePath(dest, baseDir string) (string, bool) {
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", false
	}
	if filepath.IsAbs(p) {
		return p, true
	}
	return filepath.Join(baseDir, filepath.FromSlash(p)), true
}

// imageName picks a free images/ reference name for data, reusing a name
// already holding identical bytes.
func (p *Post) imageName(base string, data []byte) string {
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := ImagesDir + "/" + base
	for i := 2; ; i++ {
		existing, ok := p.Ref(name)
		if !ok || checksum.Equal(existing, data) {
			return name
		}
		name = ImagesDir + "/" + stem + "-" + strconv.Itoa(i) + ext
	}
}

func rewriteLink(body, from, to string) string {
	body = strings.ReplaceAll(body, "](<"+from+">", "]("+to)
	return strings.ReplaceAll(body, "]("+from, "]("+to)
}
