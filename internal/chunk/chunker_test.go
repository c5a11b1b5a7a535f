package chunk

import (
	"bytes"
	"math/rand"
	"os"
	"testing"
)

func pullAll(t *testing.T, out *StreamOut) [][]byte {
	t.Helper()
	var chunks [][]byte
	for {
		staged, outOfChunks, err := out.Pull(false)
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		if outOfChunks {
			return chunks
		}
		chunks = append(chunks, staged.Data)
		staged.Remove()
	}
}

func TestStreamOutChunkCountAcrossFiles(t *testing.T) {
	t.Parallel()

	const chunkSize = 1000
	rng := rand.New(rand.NewSource(7))
	sizes := []int{1500, 700, 2301} // total 4501 -> 5 chunks, tail 501

	out, err := NewStreamOut(chunkSize, t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var all []byte
	var chunks [][]byte
	for _, size := range sizes {
		data := make([]byte, size)
		rng.Read(data)
		all = append(all, data...)
		out.Push(data)
		chunks = append(chunks, pullAll(t, out)...)
	}

	staged, outOfChunks, err := out.Pull(true)
	if err != nil {
		t.Fatalf("tail pull: %v", err)
	}
	if outOfChunks || staged == nil {
		t.Fatalf("expected a tail chunk")
	}
	chunks = append(chunks, staged.Data)
	staged.Remove()

	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:4] {
		if len(c) != chunkSize {
			t.Fatalf("chunk %d has size %d", i, len(c))
		}
	}
	if len(chunks[4]) != 501 {
		t.Fatalf("tail chunk has size %d", len(chunks[4]))
	}

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	if !bytes.Equal(reassembled, all) {
		t.Fatalf("chunk concatenation does not match input")
	}

	if _, outOfChunks, _ := out.Pull(true); !outOfChunks {
		t.Fatalf("expected outOfChunks after drain")
	}
}

func TestStreamOutExactMultipleHasFullTail(t *testing.T) {
	t.Parallel()

	out, err := NewStreamOut(100, t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out.Push(make([]byte, 300))
	chunks := pullAll(t, out)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if _, outOfChunks, _ := out.Pull(true); !outOfChunks {
		t.Fatalf("expected no tail chunk")
	}
}

func TestStreamOutStagesBothArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out, err := NewStreamOut(10, dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out.Push([]byte("0123456789"))
	staged, outOfChunks, err := out.Pull(false)
	if err != nil || outOfChunks {
		t.Fatalf("pull: %v outOfChunks=%v", err, outOfChunks)
	}
	uncompressed, err := os.ReadFile(staged.UncompressedPath)
	if err != nil {
		t.Fatalf("read uncompressed artifact: %v", err)
	}
	if !bytes.Equal(uncompressed, staged.Data) {
		t.Fatalf("uncompressed artifact mismatch")
	}
	compressed, err := os.ReadFile(staged.CompressedPath)
	if err != nil {
		t.Fatalf("read compressed artifact: %v", err)
	}
	if uint64(len(compressed)) != staged.CompressedSize {
		t.Fatalf("compressed size mismatch")
	}
	staged.Remove()
	if _, err := os.Stat(staged.UncompressedPath); !os.IsNotExist(err) {
		t.Fatalf("expected staged artifact removal")
	}
}

func TestNewStreamOutRejectsZeroChunkSize(t *testing.T) {
	t.Parallel()

	if _, err := NewStreamOut(0, t.TempDir()); err != ErrInvalidChunkSize {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
}

func TestStreamInPullRetainsRemainder(t *testing.T) {
	t.Parallel()

	in := NewStreamIn()
	in.Push([]byte("aaaabbbb"))
	in.Push([]byte("cc"))

	first, err := in.PullFile(5)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if string(first) != "aaaab" {
		t.Fatalf("first pull mismatch: %q", first)
	}
	second, err := in.PullFile(5)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if string(second) != "bbbcc" {
		t.Fatalf("second pull mismatch: %q", second)
	}
	if in.CacheSize() != 0 {
		t.Fatalf("cache not drained: %d", in.CacheSize())
	}
}

func TestStreamInPullPastEnd(t *testing.T) {
	t.Parallel()

	in := NewStreamIn()
	in.Push([]byte("abc"))
	if _, err := in.PullFile(4); err != ErrUnexpectedEnd {
		t.Fatalf("expected ErrUnexpectedEnd, got %v", err)
	}
}
