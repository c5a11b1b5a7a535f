package stream

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileInReadsInBoundedSlices(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	content := bytes.Repeat([]byte("abc"), 100) // 300 bytes
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	in, err := OpenFileIn(path, 128)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	if in.Size() != 300 {
		t.Fatalf("size: got %d", in.Size())
	}
	var got []byte
	var reads int
	for !in.Finished() {
		data, err := in.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(data) > 128 {
			t.Fatalf("read exceeded buffer size: %d", len(data))
		}
		got = append(got, data...)
		reads++
	}
	if reads != 3 {
		t.Fatalf("expected 3 reads, got %d", reads)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch")
	}
}

func TestFileInSeekAndRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	in, err := OpenFileIn(path, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	if err := in.Seek(6); err != nil {
		t.Fatalf("seek: %v", err)
	}
	data, err := in.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "6789" {
		t.Fatalf("seek read mismatch: %q", data)
	}
	if !in.Finished() {
		t.Fatalf("expected finished after tail read")
	}
	if err := in.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if in.Position() != 0 || in.Finished() {
		t.Fatalf("restart did not rewind")
	}
}

func TestOpenFileInMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := OpenFileIn(filepath.Join(t.TempDir(), "missing"), 16); err != ErrOpenStream {
		t.Fatalf("expected ErrOpenStream, got %v", err)
	}
}

func TestFileOutWriteAndFinish(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "out.bin")
	w, err := CreateFileOut(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write([]byte("def")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Written() != 6 {
		t.Fatalf("written: got %d", w.Written())
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "abcdef" {
		t.Fatalf("content mismatch: %q", data)
	}
}
