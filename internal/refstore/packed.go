package refstore

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/kparchive"
)

// Archive holds the raw bytes of a packed post. Load returns an error
// wrapping apperr.ErrNotFound when the post does not exist yet.
type Archive interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileArchive is a packed post stored as a single file.
type FileArchive struct {
	Path string
}

func (a FileArchive) Load() ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("refstore: %s: %w", a.Path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.IO("refstore: load "+a.Path, err)
	}
	return data, nil
}

func (a FileArchive) Save(data []byte) error {
	if err := WriteFileAtomic(a.Path, data); err != nil {
		return apperr.IO("refstore: save "+a.Path, err)
	}
	return nil
}

// BytesArchive is a read-only archive over bytes already in memory, such as
// a packed post read from a historical revision.
type BytesArchive []byte

func (a BytesArchive) Load() ([]byte, error) { return a, nil }

func (BytesArchive) Save([]byte) error {
	return fmt.Errorf("refstore: historical archive is read-only: %w", apperr.ErrNotSupported)
}

// PackedStore is a packed post. Every mutation rewrites the whole archive.
type PackedStore struct {
	archive Archive
}

// NewPacked returns a store over archive.
func NewPacked(archive Archive) *PackedStore {
	return &PackedStore{archive: archive}
}

func (p *PackedStore) Form() Form { return Packed }

// load returns the current entries; a missing archive is empty.
func (p *PackedStore) load() ([]kparchive.Entry, error) {
	raw, err := p.archive.Load()
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries, err := kparchive.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrIO, err)
	}
	return entries, nil
}

func (p *PackedStore) save(entries []kparchive.Entry) error {
	raw, err := kparchive.Encode(entries)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidPath, err)
	}
	return p.archive.Save(raw)
}

func (p *PackedStore) Read(name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	entries, err := p.load()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == clean {
			return e.Data, nil
		}
	}
	return nil, fmt.Errorf("refstore: read %s: %w", clean, apperr.ErrNotFound)
}

func (p *PackedStore) Write(name string, data []byte) error {
	return p.WriteAll([]kparchive.Entry{{Name: name, Data: data}})
}

// WriteAll replaces or appends every entry and saves the archive once.
func (p *PackedStore) WriteAll(updates []kparchive.Entry) error {
	entries, err := p.load()
	if err != nil {
		return err
	}
	for _, u := range updates {
		clean, err := cleanName(u.Name)
		if err != nil {
			return err
		}
		replaced := false
		for i := range entries {
			if entries[i].Name == clean {
				entries[i].Data = u.Data
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, kparchive.Entry{Name: clean, Data: u.Data})
		}
	}
	return p.save(entries)
}

func (p *PackedStore) Exists(name string) (bool, error) {
	clean, err := cleanName(name)
	if err != nil {
		return false, err
	}
	entries, err := p.load()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == clean {
			return true, nil
		}
	}
	return false, nil
}

// List yields entries in archive order. The archive is decoded once when
// iteration starts.
func (p *PackedStore) List(under string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := underPrefix(under)
		if err != nil {
			yield("", err)
			return
		}
		entries, err := p.load()
		if err != nil {
			yield("", err)
			return
		}
		for _, e := range entries {
			if IsReserved(e.Name) || !strings.HasPrefix(e.Name, prefix) {
				continue
			}
			if !yield(e.Name, nil) {
				return
			}
		}
	}
}

func (p *PackedStore) Remove(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	entries, err := p.load()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name == clean {
			return p.save(append(entries[:i:i], entries[i+1:]...))
		}
	}
	return fmt.Errorf("refstore: remove %s: %w", clean, apperr.ErrNotFound)
}
