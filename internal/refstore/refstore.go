// Package refstore implements reference I/O for a single post.
//
// A post lives on disk either expanded (a directory whose files are the
// references) or packed (one archive file). Open inspects the path once and
// returns the matching capability; every caller then works against Store and
// never sees which form is in use.
package refstore

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/kparchive"
)

// Reserved reference names. They carry post bookkeeping and are never listed.
const (
	RevisionRef = "REVISION"
	UUIDRef     = "UUID"
)

// IsReserved reports whether name is one of the bookkeeping references.
func IsReserved(name string) bool {
	return name == RevisionRef || name == UUIDRef
}

// Form identifies the physical shape of a post.
type Form int

const (
	Expanded Form = iota
	Packed
)

func (f Form) String() string {
	if f == Packed {
		return "packed"
	}
	return "expanded"
}

// Store is the set of reference operations every physical form supports.
type Store interface {
	// Read returns the content of name, or apperr.ErrNotFound.
	Read(name string) ([]byte, error)
	// Write creates or replaces name.
	Write(name string, data []byte) error
	// Exists reports whether name is present. A missing post is not an error.
	Exists(name string) (bool, error)
	// List yields reference names under the given prefix (all when empty),
	// skipping the reserved names at the post root.
	List(under string) iter.Seq2[string, error]
	// Remove deletes name, or returns apperr.ErrNotFound.
	Remove(name string) error
	// Form returns the physical shape backing the store.
	Form() Form
}

// BatchWriter is implemented by stores that can apply several writes as one
// atomic mutation.
type BatchWriter interface {
	WriteAll(entries []kparchive.Entry) error
}

// Open resolves the post at path to its capability. Existing directories are
// expanded posts, existing files are packed posts; a missing path yields a
// store of form create so the first write materializes it.
func Open(path string, create Form) (Store, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if create == Packed {
			return NewPacked(FileArchive{Path: path}), nil
		}
		return NewTree(path), nil
	case err != nil:
		return nil, apperr.IO("refstore: stat "+path, err)
	case info.IsDir():
		return NewTree(path), nil
	default:
		return NewPacked(FileArchive{Path: path}), nil
	}
}

// Revision returns the stored revision counter, 0 when never bumped.
func Revision(s Store) (int, error) {
	raw, err := s.Read(RevisionRef)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("refstore: malformed %s %q: %w", RevisionRef, raw, err)
	}
	return n, nil
}

// UUID returns the stored identifier, empty when none was assigned.
func UUID(s Store) (string, error) {
	raw, err := s.Read(UUIDRef)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Bump increments the revision counter by one and, when id is non-empty,
// writes the UUID reference. It returns the new revision.
func Bump(s Store, id string) (int, error) {
	cur, err := Revision(s)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	entries := make([]kparchive.Entry, 0, 2)
	if id != "" {
		entries = append(entries, kparchive.Entry{Name: UUIDRef, Data: []byte(id)})
	}
	// REVISION goes last so a reader never sees a new counter without its UUID.
	entries = append(entries, kparchive.Entry{Name: RevisionRef, Data: []byte(strconv.Itoa(next))})

	if bw, ok := s.(BatchWriter); ok {
		if err := bw.WriteAll(entries); err != nil {
			return 0, err
		}
		return next, nil
	}
	for _, e := range entries {
		if err := s.Write(e.Name, e.Data); err != nil {
			return 0, err
		}
	}
	return next, nil
}

// Names collects every name yielded by List.
func Names(s Store, under string) ([]string, error) {
	var out []string
	for name, err := range s.List(under) {
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// underPrefix normalizes a List prefix to "" or "dir/".
func underPrefix(under string) (string, error) {
	if under == "" || under == "." {
		return "", nil
	}
	clean, err := kparchive.CleanName(under)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidPath, err)
	}
	return clean + "/", nil
}

func cleanName(name string) (string, error) {
	clean, err := kparchive.CleanName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidPath, err)
	}
	return clean, nil
}
