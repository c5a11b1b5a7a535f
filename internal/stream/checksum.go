package stream

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"hash/fnv"
)

var ErrChecksumFinished = errors.New("stream: checksum stream already finished")

// Md5Stream accumulates bytes and yields the hex digest once. Pushes after
// Finish are rejected.
type Md5Stream struct {
	h        hash.Hash
	finished bool
}

// NewMd5Stream returns a ready checksum stream.
func NewMd5Stream() *Md5Stream {
	return &Md5Stream{h: md5.New()}
}

// Push feeds data into the digest.
func (s *Md5Stream) Push(data []byte) error {
	if s.finished {
		return ErrChecksumFinished
	}
	s.h.Write(data)
	return nil
}

// Finish finalizes the digest and returns it as lowercase hex.
func (s *Md5Stream) Finish() (string, error) {
	if s.finished {
		return "", ErrChecksumFinished
	}
	s.finished = true
	return hex.EncodeToString(s.h.Sum(nil)), nil
}

// Md5Hex is the one-shot form of Md5Stream.
func Md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Fnv1a64Hex returns the 64-bit FNV hash of s as 16 hex characters. Bytes
// are folded in FNV-1 order (multiply, then xor), which yields the location
// keys of the storage layout: "res:/intromovie.txt" hashes to
// a9d1721dd5cc6d54.
func Fnv1a64Hex(s string) string {
	h := fnv.New64()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
