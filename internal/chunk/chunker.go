// Package chunk implements the bundle chunking pipeline: StreamOut slices a
// logical concatenation of resource payloads into fixed-size chunks staged on
// disk, StreamIn reassembles exact-length payloads from a chunk sequence, and
// Index answers where a window of a new file occurs inside a previous file.
package chunk

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cargohold/cargohold/internal/stream"
)

var (
	ErrInvalidChunkSize    = errors.New("chunk: chunk size must be positive")
	ErrUnexpectedEnd       = errors.New("chunk: unexpected end of chunks")
	ErrRetrieveChunkData   = errors.New("chunk: failed to retrieve chunk data")
	ErrStageChunkArtifacts = errors.New("chunk: failed to stage chunk artifacts")
)

// Staged is one emitted chunk: the payload plus the two artifact files staged
// in the work directory. The caller publishes whichever artifact the
// destination kind requires and owns removal of both.
type Staged struct {
	Data             []byte
	UncompressedPath string
	CompressedPath   string
	UncompressedSize uint64
	CompressedSize   uint64
}

// Remove deletes both staged artifact files.
func (s *Staged) Remove() {
	os.Remove(s.UncompressedPath)
	os.Remove(s.CompressedPath)
}

// StreamOut concatenates pushed resource bytes and emits fixed-size chunks.
type StreamOut struct {
	chunkSize uint64
	workDir   string
	cache     []byte
}

// NewStreamOut returns a chunker emitting chunks of exactly chunkSize bytes
// (the final chunk may be shorter), staging artifacts under workDir.
func NewStreamOut(chunkSize uint64, workDir string) (*StreamOut, error) {
	if chunkSize == 0 {
		return nil, ErrInvalidChunkSize
	}
	return &StreamOut{chunkSize: chunkSize, workDir: workDir}, nil
}

// ChunkSize returns the configured chunk size.
func (s *StreamOut) ChunkSize() uint64 { return s.chunkSize }

// Push appends resource bytes to the logical stream.
func (s *StreamOut) Push(data []byte) {
	s.cache = append(s.cache, data...)
}

// Pull emits the next chunk. With clearCache false it emits only full chunks
// and reports outOfChunks when fewer than chunkSize bytes remain; with
// clearCache true it drains the remainder as a final short chunk and reports
// outOfChunks once the cache is empty.
func (s *StreamOut) Pull(clearCache bool) (staged *Staged, outOfChunks bool, err error) {
	n := uint64(len(s.cache))
	if n == 0 || (!clearCache && n < s.chunkSize) {
		return nil, true, nil
	}
	take := s.chunkSize
	if take > n {
		take = n
	}
	data := append([]byte(nil), s.cache[:take]...)
	s.cache = s.cache[take:]

	staged, err = s.stage(data)
	if err != nil {
		return nil, false, err
	}
	return staged, false, nil
}

// stage writes the uncompressed chunk file and its gzip counterpart.
func (s *StreamOut) stage(data []byte) (*Staged, error) {
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, ErrStageChunkArtifacts
	}
	base := uuid.NewString()
	uncompressedPath := filepath.Join(s.workDir, base+".chunk")
	compressedPath := filepath.Join(s.workDir, base+".chunk.gz")

	if err := os.WriteFile(uncompressedPath, data, 0o644); err != nil {
		return nil, ErrStageChunkArtifacts
	}
	compressed, err := stream.GzipCompress(data)
	if err != nil {
		os.Remove(uncompressedPath)
		return nil, err
	}
	if err := os.WriteFile(compressedPath, compressed, 0o644); err != nil {
		os.Remove(uncompressedPath)
		return nil, ErrStageChunkArtifacts
	}
	return &Staged{
		Data:             data,
		UncompressedPath: uncompressedPath,
		CompressedPath:   compressedPath,
		UncompressedSize: uint64(len(data)),
		CompressedSize:   uint64(len(compressed)),
	}, nil
}

// StreamIn reassembles exact-length payloads from a sequence of chunk
// payloads pushed in bundle order.
type StreamIn struct {
	cache []byte
}

// NewStreamIn returns an empty reassembly stream.
func NewStreamIn() *StreamIn {
	return &StreamIn{}
}

// Push appends one chunk payload to the cache.
func (s *StreamIn) Push(data []byte) {
	s.cache = append(s.cache, data...)
}

// CacheSize returns the number of buffered bytes not yet pulled.
func (s *StreamIn) CacheSize() uint64 { return uint64(len(s.cache)) }

// PullFile returns exactly n bytes, retaining any remainder for the next
// file. It fails with ErrUnexpectedEnd when the cache holds fewer than n
// bytes; the caller pushes more chunks and retries, or has genuinely run out.
func (s *StreamIn) PullFile(n uint64) ([]byte, error) {
	if uint64(len(s.cache)) < n {
		return nil, ErrUnexpectedEnd
	}
	out := append([]byte(nil), s.cache[:n]...)
	s.cache = s.cache[n:]
	return out, nil
}
