package internal

import (
	"io"
	"testing"

	"github.com/spf13/afero"
)

func openChunk(t *testing.T, content string) *FileChunk {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "file.txt", []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	fc := NewFileChunk(fs, "file.txt")
	if err := fc.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fc.Close() })
	return fc
}

func TestFileChunkReadPart(t *testing.T) {
	fc := openChunk(t, "abcdefghij")
	if fc.Size() != 10 || fc.Name() != "file.txt" {
		t.Fatalf("size: %v name: %v", fc.Size(), fc.Name())
	}

	var got string
	for off := int64(0); off < fc.Size(); off += 4 {
		b, err := fc.ReadPart(off, off+4)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("part at %d: %s", off, b)
		got += string(b)
	}
	if got != "abcdefghij" {
		t.Fatalf("reassembled: %q", got)
	}
	if fc.Count() != 10 {
		t.Fatalf("count: %v", fc.Count())
	}

	// last part is clamped to the file size
	b, err := fc.ReadPart(8, 100)
	if err != nil || string(b) != "ij" {
		t.Fatalf("clamped part: %q %v", b, err)
	}

	if _, err := fc.ReadPart(11, 12); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestChunkReader(t *testing.T) {
	fc := openChunk(t, "abcdefghij")
	r := fc.Part(2, 6)
	if r.Size() != 4 {
		t.Fatalf("size: %v", r.Size())
	}
	b, _ := io.ReadAll(r)
	if string(b) != "cdef" || fc.Count() != 4 {
		t.Fatalf("read: %q count: %v", b, fc.Count())
	}
	b, _ = io.ReadAll(r)
	if len(b) != 0 || fc.Count() != 4 {
		t.Fatalf("read past range: %q count: %v", b, fc.Count())
	}
	if fc.Filename() != "file.txt" {
		t.Fatalf("filename: %v", fc.Filename())
	}
}

func TestFileChunkEmpty(t *testing.T) {
	fc := openChunk(t, "")
	b, err := fc.ReadPart(0, 0)
	if err != nil || len(b) != 0 {
		t.Fatalf("empty part: %q %v", b, err)
	}
}
