package refstore

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/starford/kr/internal/apperr"
)

// forms opens a fresh, missing post in each physical form.
func forms(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	expanded, err := Open(filepath.Join(dir, "a.kp"), Expanded)
	if err != nil {
		t.Fatalf("Open expanded: %v", err)
	}
	packed, err := Open(filepath.Join(dir, "b.kp"), Packed)
	if err != nil {
		t.Fatalf("Open packed: %v", err)
	}
	return map[string]Store{"expanded": expanded, "packed": packed}
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Write("knowledge.md", []byte("hello")); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := s.Write("images/a.png", []byte{1, 2, 3}); err != nil {
				t.Fatalf("Write nested: %v", err)
			}
			got, err := s.Read("knowledge.md")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if string(got) != "hello" {
				t.Errorf("Read = %q, want hello", got)
			}
			if err := s.Write("knowledge.md", []byte("again")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _ = s.Read("knowledge.md")
			if string(got) != "again" {
				t.Errorf("after overwrite = %q", got)
			}
		})
	}
}

func TestStore_MissingPost(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Exists("knowledge.md")
			if err != nil {
				t.Fatalf("Exists on missing post: %v", err)
			}
			if ok {
				t.Error("Exists = true on missing post")
			}
			if _, err := s.Read("knowledge.md"); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("Read err = %v, want ErrNotFound", err)
			}
			names, err := Names(s, "")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(names) != 0 {
				t.Errorf("List = %v, want empty", names)
			}
			if err := s.Remove("knowledge.md"); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("Remove err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ListSkipsReservedAndFiltersPrefix(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			for _, ref := range []string{"knowledge.md", "images/a.png", "images/b.png", "orig_src/x.py"} {
				if err := s.Write(ref, []byte(ref)); err != nil {
					t.Fatalf("Write %s: %v", ref, err)
				}
			}
			if _, err := Bump(s, "id-1"); err != nil {
				t.Fatalf("Bump: %v", err)
			}

			all, err := Names(s, "")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			slices.Sort(all)
			want := []string{"images/a.png", "images/b.png", "knowledge.md", "orig_src/x.py"}
			if !slices.Equal(all, want) {
				t.Errorf("List = %v, want %v", all, want)
			}

			imgs, err := Names(s, "images")
			if err != nil {
				t.Fatalf("List images: %v", err)
			}
			slices.Sort(imgs)
			if !slices.Equal(imgs, []string{"images/a.png", "images/b.png"}) {
				t.Errorf("List images = %v", imgs)
			}
		})
	}
}

func TestStore_ListStopsEarly(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			for _, ref := range []string{"a", "b", "c"} {
				if err := s.Write(ref, nil); err != nil {
					t.Fatal(err)
				}
			}
			n := 0
			for _, err := range s.List("") {
				if err != nil {
					t.Fatal(err)
				}
				n++
				break
			}
			if n != 1 {
				t.Errorf("iterated %d, want 1", n)
			}
		})
	}
}

func TestBump_IncrementsAndKeepsUUID(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			rev, err := Revision(s)
			if err != nil || rev != 0 {
				t.Fatalf("initial Revision = %d, %v", rev, err)
			}
			if rev, err = Bump(s, "uuid-1"); err != nil || rev != 1 {
				t.Fatalf("Bump = %d, %v; want 1", rev, err)
			}
			if rev, err = Bump(s, ""); err != nil || rev != 2 {
				t.Fatalf("second Bump = %d, %v; want 2", rev, err)
			}
			id, err := UUID(s)
			if err != nil {
				t.Fatal(err)
			}
			if id != "uuid-1" {
				t.Errorf("UUID = %q, want uuid-1", id)
			}
		})
	}
}

func TestRevision_Malformed(t *testing.T) {
	s := NewTree(t.TempDir())
	if err := s.Write(RevisionRef, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := Revision(s); err == nil {
		t.Error("expected error for malformed revision")
	}
}

func TestStore_RejectsEscapingNames(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Write("../outside", []byte("x")); !errors.Is(err, apperr.ErrInvalidPath) {
				t.Errorf("Write err = %v, want ErrInvalidPath", err)
			}
		})
	}
}

func TestOpen_DetectsExistingForm(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree.kp")
	if err := NewTree(tree).Write("knowledge.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	packed := filepath.Join(dir, "packed.kp")
	if err := NewPacked(FileArchive{Path: packed}).Write("knowledge.md", []byte("y")); err != nil {
		t.Fatal(err)
	}

	// The requested create form is ignored once the post exists.
	s, err := Open(tree, Packed)
	if err != nil {
		t.Fatal(err)
	}
	if s.Form() != Expanded {
		t.Errorf("tree form = %v, want expanded", s.Form())
	}
	s, err = Open(packed, Expanded)
	if err != nil {
		t.Fatal(err)
	}
	if s.Form() != Packed {
		t.Errorf("packed form = %v, want packed", s.Form())
	}
	got, err := s.Read("knowledge.md")
	if err != nil || string(got) != "y" {
		t.Errorf("Read = %q, %v", got, err)
	}
}

func TestTree_RemovePrunesEmptyDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "p.kp")
	s := NewTree(dir)
	if err := s.Write("images/deep/a.png", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("images/deep/a.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images")); !os.IsNotExist(err) {
		t.Errorf("images dir should be pruned, stat err = %v", err)
	}
}

func TestWriteFileAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		if err := WriteFileAtomic(filepath.Join(dir, "f"), []byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestBytesArchive_ReadOnly(t *testing.T) {
	src := NewPacked(FileArchive{Path: filepath.Join(t.TempDir(), "x.kp")})
	if err := src.Write("knowledge.md", []byte("hist")); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(src.archive.(FileArchive).Path), "x.kp"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewPacked(BytesArchive(raw))
	got, err := s.Read("knowledge.md")
	if err != nil || string(got) != "hist" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if err := s.Write("knowledge.md", nil); !errors.Is(err, apperr.ErrNotSupported) {
		t.Errorf("Write err = %v, want ErrNotSupported", err)
	}
}

func TestStore_RejectsFileDirectoryCollision(t *testing.T) {
	for name, s := range forms(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Write("a", []byte("file")); err != nil {
				t.Fatal(err)
			}
			if err := s.Write("a/b", []byte("nested")); !errors.Is(err, apperr.ErrInvalidPath) {
				t.Errorf("Write under a file: err = %v, want ErrInvalidPath", err)
			}
			if err := s.Write("d/e", []byte("nested")); err != nil {
				t.Fatal(err)
			}
			if err := s.Write("d", []byte("file")); !errors.Is(err, apperr.ErrInvalidPath) {
				t.Errorf("Write over a directory: err = %v, want ErrInvalidPath", err)
			}
			got, err := s.Read("a")
			if err != nil || string(got) != "file" {
				t.Errorf("Read(a) = %q, %v", got, err)
			}
		})
	}
}

// seedPost writes one reference and a revision into a post of form f.
func seedPost(t *testing.T, path string, f Form) {
	t.Helper()
	s, err := Open(path, f)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write("knowledge.md", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := Bump(s, "id-1"); err != nil {
		t.Fatal(err)
	}
}

func noStagingLeft(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			t.Errorf("staging entry left behind: %s", e.Name())
		}
	}
}

func TestStage_FailureKeepsExistingPost(t *testing.T) {
	for name, f := range map[string]Form{"expanded": Expanded, "packed": Packed} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "p.kp")
			seedPost(t, path, f)

			boom := errors.New("boom")
			err := Stage(path, f, func(s Store) error {
				if err := s.Remove("knowledge.md"); err != nil {
					return err
				}
				if err := s.Write("new.txt", []byte("partial")); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Stage err = %v, want boom", err)
			}

			s, err := Open(path, f)
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.Read("knowledge.md")
			if err != nil || string(got) != "old" {
				t.Errorf("knowledge.md = %q, %v; want old", got, err)
			}
			if ok, _ := s.Exists("new.txt"); ok {
				t.Error("partial write leaked into the post")
			}
			if rev, _ := Revision(s); rev != 1 {
				t.Errorf("revision = %d, want 1", rev)
			}
			noStagingLeft(t, dir)
		})
	}
}

func TestStage_FailureCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.kp")
	err := Stage(path, Expanded, func(s Store) error {
		if err := s.Write("knowledge.md", []byte("x")); err != nil {
			return err
		}
		return errors.New("fail after write")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("post should not exist, stat err = %v", err)
	}
	noStagingLeft(t, dir)
}

func TestStage_SuccessReplacesPost(t *testing.T) {
	for name, f := range map[string]Form{"expanded": Expanded, "packed": Packed} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "p.kp")
			seedPost(t, path, f)

			err := Stage(path, f, func(s Store) error {
				if err := s.Write("knowledge.md", []byte("new")); err != nil {
					return err
				}
				_, err := Bump(s, "")
				return err
			})
			if err != nil {
				t.Fatalf("Stage: %v", err)
			}
			s, err := Open(path, Expanded)
			if err != nil {
				t.Fatal(err)
			}
			if s.Form() != f {
				t.Errorf("form = %v, want %v", s.Form(), f)
			}
			got, _ := s.Read("knowledge.md")
			if string(got) != "new" {
				t.Errorf("knowledge.md = %q, want new", got)
			}
			id, _ := UUID(s)
			rev, _ := Revision(s)
			if id != "id-1" || rev != 2 {
				t.Errorf("identity = %q rev %d, want id-1 rev 2", id, rev)
			}
			noStagingLeft(t, dir)
		})
	}
}
