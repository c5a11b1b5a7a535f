package chunk

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// Index is a content-defined fingerprint index over a "previous" file. It
// records, for every non-overlapping window of chunkSize bytes, a fast
// fingerprint and the window's offset, and answers whether an arbitrary
// window of the "next" file occurs anywhere in previous.
//
// A checksum-filter pass over the next file bounds the index to fingerprints
// that can actually match. Entries are spilled to shard files under dir so
// the index owns a removable on-disk footprint; dir removal after the patch
// build is the caller's responsibility.
type Index struct {
	prevPath  string
	chunkSize uint64
	dir       string

	filter  map[uint64]struct{}
	offsets map[uint64][]int64
}

// NewIndex prepares an index over prevPath with the given window size,
// storing shard files under dir.
func NewIndex(prevPath string, chunkSize uint64, dir string) *Index {
	return &Index{
		prevPath:  prevPath,
		chunkSize: chunkSize,
		dir:       dir,
		offsets:   make(map[uint64][]int64),
	}
}

// fingerprint is FNV-1a 64 over the window bytes.
func fingerprint(window []byte) uint64 {
	h := fnv.New64a()
	h.Write(window)
	return h.Sum64()
}

// GenerateChecksumFilter scans nextPath and records which window fingerprints
// appear there. Generate then retains only those fingerprints.
func (ix *Index) GenerateChecksumFilter(nextPath string) error {
	ix.filter = make(map[uint64]struct{})
	return ix.eachWindow(nextPath, func(window []byte, _ int64) {
		ix.filter[fingerprint(window)] = struct{}{}
	})
}

// Generate builds the index over the previous file.
func (ix *Index) Generate() error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return err
	}
	err := ix.eachWindow(ix.prevPath, func(window []byte, offset int64) {
		fp := fingerprint(window)
		if ix.filter != nil {
			if _, ok := ix.filter[fp]; !ok {
				return
			}
		}
		ix.offsets[fp] = append(ix.offsets[fp], offset)
	})
	if err != nil {
		return err
	}
	return ix.spill()
}

// eachWindow steps through path in non-overlapping chunkSize windows. The
// final short window is included; matching still verifies bytes.
func (ix *Index) eachWindow(path string, fn func(window []byte, offset int64)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, ix.chunkSize)
	var offset int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			fn(buf[:n], offset)
			offset += int64(n)
		}
		if err != nil {
			break
		}
	}
	return nil
}

// spill writes the retained entries to shard files keyed by the fingerprint's
// leading hex byte.
func (ix *Index) spill() error {
	shards := make(map[string][]byte)
	var fpBytes [8]byte
	for fp, offs := range ix.offsets {
		binary.BigEndian.PutUint64(fpBytes[:], fp)
		shard := hex.EncodeToString(fpBytes[:1])
		for _, off := range offs {
			shards[shard] = append(shards[shard], fmt.Sprintf("%016x %d\n", fp, off)...)
		}
	}
	for shard, data := range shards {
		if err := os.WriteFile(filepath.Join(ix.dir, shard+".idx"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// FindMatchingChunk reports whether window occurs in the previous file,
// returning the offset of the first byte-equal occurrence.
func (ix *Index) FindMatchingChunk(window []byte) (offset int64, found bool, err error) {
	if len(window) == 0 {
		return 0, false, nil
	}
	candidates := ix.offsets[fingerprint(window)]
	if len(candidates) == 0 {
		return 0, false, nil
	}
	f, err := os.Open(ix.prevPath)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	buf := make([]byte, len(window))
	for _, off := range candidates {
		// ReadAt may pair a full read at end of file with io.EOF.
		if n, _ := f.ReadAt(buf, off); n != len(window) {
			continue
		}
		if bytes.Equal(buf, window) {
			return off, true, nil
		}
	}
	return 0, false, nil
}

// CountMatchingChunks extends a run of consecutive equal chunks forward from
// nextOffset/prevOffset and returns how many additional whole chunks match.
func CountMatchingChunks(nextPath string, nextOffset int64, prevPath string, prevOffset int64, chunkSize uint64) (uint64, error) {
	next, err := os.Open(nextPath)
	if err != nil {
		return 0, err
	}
	defer next.Close()
	prev, err := os.Open(prevPath)
	if err != nil {
		return 0, err
	}
	defer prev.Close()

	nextBuf := make([]byte, chunkSize)
	prevBuf := make([]byte, chunkSize)
	var count uint64
	for {
		n1, _ := next.ReadAt(nextBuf, nextOffset)
		n2, _ := prev.ReadAt(prevBuf, prevOffset)
		if n1 != int(chunkSize) || n2 != int(chunkSize) {
			return count, nil
		}
		if !bytes.Equal(nextBuf, prevBuf) {
			return count, nil
		}
		count++
		nextOffset += int64(chunkSize)
		prevOffset += int64(chunkSize)
	}
}
