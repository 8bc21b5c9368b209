// Package kparchive encodes and decodes the packed ".kp" post container.
//
// A packed post is a zip archive whose entries are the post references, in
// insertion order. Timestamps are pinned so that encoding the same entries
// always yields the same bytes.
package kparchive

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry is a single named reference inside an archive.
type Entry struct {
	Name string
	Data []byte
}

// epoch is the earliest timestamp representable in a zip header.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Encode writes entries into a new archive.
func Encode(entries []Entry) ([]byte, error) {
	names := make([]string, len(entries))
	for i, e := range entries {
		name, err := CleanName(e.Name)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	if err := CheckLayout(names); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, e := range entries {
		name := names[i]
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: epoch,
		})
		if err != nil {
			return nil, fmt.Errorf("kparchive: create %s: %w", name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("kparchive: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("kparchive: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads every entry of an archive, preserving order.
func Decode(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("kparchive: open: %w", err)
	}
	out := make([]Entry, 0, len(zr.File))
	var names []string
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name, err := CleanName(f.Name)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("kparchive: open %s: %w", name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("kparchive: read %s: %w", name, err)
		}
		out = append(out, Entry{Name: name, Data: b})
	}
	if err := CheckLayout(names); err != nil {
		return nil, err
	}
	return out, nil
}

// CleanName normalizes a reference name to a slash-separated relative path
// and rejects names that escape the post.
func CleanName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	n = strings.TrimPrefix(n, "./")
	if n == "" || strings.HasPrefix(n, "/") {
		return "", fmt.Errorf("kparchive: invalid reference name %q", name)
	}
	n = path.Clean(n)
	if n == "." || n == ".." || strings.HasPrefix(n, "../") {
		return "", fmt.Errorf("kparchive: reference name escapes post: %q", name)
	}
	return n, nil
}

// CheckLayout rejects a set of cleaned names that could not be laid out as
// files: duplicates, and a name that is also the directory of another.
func CheckLayout(names []string) error {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := set[n]; dup {
			return fmt.Errorf("kparchive: duplicate entry %q", n)
		}
		set[n] = struct{}{}
	}
	for _, n := range names {
		for d := path.Dir(n); d != "."; d = path.Dir(d) {
			if _, ok := set[d]; ok {
				return fmt.Errorf("kparchive: entry %q is also the directory of %q", d, n)
			}
		}
	}
	return nil
}
