package kparchive

import (
	"bytes"
	"testing"
)

func TestEncodeDecode_PreservesOrderAndContent(t *testing.T) {
	in := []Entry{
		{Name: "knowledge.md", Data: []byte("---\ntitle: T\n---\nbody\n")},
		{Name: "images/plot.png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2}},
		{Name: "REVISION", Data: []byte("3")},
		{Name: "empty.txt", Data: nil},
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Name != in[i].Name {
			t.Errorf("entry %d name = %q, want %q", i, out[i].Name, in[i].Name)
		}
		if !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("entry %q content mismatch", in[i].Name)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	in := []Entry{{Name: "a", Data: []byte("1")}, {Name: "b/c", Data: []byte("2")}}
	a, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same entries twice should produce identical bytes")
	}
}

func TestEncode_RejectsDuplicatesAndEscapes(t *testing.T) {
	if _, err := Encode([]Entry{{Name: "a"}, {Name: "./a"}}); err == nil {
		t.Error("expected duplicate error")
	}
	for _, name := range []string{"../x", "/abs", "", "a/../../b"} {
		if _, err := Encode([]Entry{{Name: name}}); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}

func TestEncode_RejectsFileDirectoryCollision(t *testing.T) {
	for _, in := range [][]Entry{
		{{Name: "a"}, {Name: "a/b"}},
		{{Name: "x/y/z"}, {Name: "x/y"}},
	} {
		if _, err := Encode(in); err == nil {
			t.Errorf("Encode(%v): expected collision error", in)
		}
	}
	if _, err := Encode([]Entry{{Name: "a/b"}, {Name: "a/c"}, {Name: "ab"}}); err != nil {
		t.Errorf("siblings should encode: %v", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte("not a zip")); err == nil {
		t.Error("expected error decoding garbage")
	}
}
