package stream

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCompress compresses data in one shot.
func GzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, ErrCompress
	}
	if err := w.Close(); err != nil {
		return nil, ErrCompress
	}
	return buf.Bytes(), nil
}

// GzipDecompress decompresses data in one shot.
func GzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ErrCompress
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCompress
	}
	return out, nil
}

// GzipStream incrementally compresses pushed bytes, appending output to an
// in-memory buffer the caller drains between pushes. Finish must be called or
// the trailing compressed block is lost.
type GzipStream struct {
	buf     bytes.Buffer
	w       *gzip.Writer
	started bool
}

// Start initializes the compressor. Pushes before Start fail.
func (s *GzipStream) Start() error {
	s.w = gzip.NewWriter(&s.buf)
	s.started = true
	return nil
}

// Push compresses data. Output accumulates in the internal buffer.
func (s *GzipStream) Push(data []byte) error {
	if !s.started {
		return ErrCompress
	}
	if _, err := s.w.Write(data); err != nil {
		return ErrCompress
	}
	return nil
}

// Drain returns and clears the compressed bytes produced so far.
func (s *GzipStream) Drain() []byte {
	out := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	return out
}

// Finish flushes the trailing compressed block. Drain afterwards to collect it.
func (s *GzipStream) Finish() error {
	if !s.started {
		return ErrCompress
	}
	s.started = false
	if err := s.w.Close(); err != nil {
		return ErrCompress
	}
	return nil
}

// CompressedFileOut is a FileOut that gzips everything written through it.
// Finish must be called so the gzip trailer reaches the file.
type CompressedFileOut struct {
	out *FileOut
	gz  GzipStream
}

// CreateCompressedFileOut opens path for gzip-compressed writing.
func CreateCompressedFileOut(path string) (*CompressedFileOut, error) {
	out, err := CreateFileOut(path)
	if err != nil {
		return nil, err
	}
	c := &CompressedFileOut{out: out}
	if err := c.gz.Start(); err != nil {
		out.Finish()
		return nil, ErrCompress
	}
	return c, nil
}

// Path returns the destination path.
func (c *CompressedFileOut) Path() string { return c.out.Path() }

// Written returns the number of compressed bytes written so far.
func (c *CompressedFileOut) Written() int64 { return c.out.Written() }

// Write compresses data and flushes whatever output is available.
func (c *CompressedFileOut) Write(data []byte) error {
	if err := c.gz.Push(data); err != nil {
		return err
	}
	if chunk := c.gz.Drain(); len(chunk) > 0 {
		if err := c.out.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes the trailing compressed bytes and closes the file.
func (c *CompressedFileOut) Finish() error {
	if err := c.gz.Finish(); err != nil {
		c.out.Finish()
		return err
	}
	if chunk := c.gz.Drain(); len(chunk) > 0 {
		if err := c.out.Write(chunk); err != nil {
			return err
		}
	}
	return c.out.Finish()
}
