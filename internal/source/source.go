// Package source supplies timestamped byte chunks to the pipeline.
//
// A ByteSource is anything that produces the raw Zniffer byte stream:
// a live serial link to the sniffing device, a saved capture file, or
// a TCP connection to a remote capture server. The pipeline treats all
// of them identically; only the read contract below matters.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Chunk is one batch of bytes with the arrival timestamp the extractor
// stamps command frames with. Arrival is in device clock units:
// microseconds for live sources, the embedded capture timestamp for
// replayed files.
type Chunk struct {
	Data    []byte
	Arrival uint64
}

// ByteSource is the read contract. ReadChunk returns io.EOF at a clean
// end of stream; any other error is a StreamError fatal to this source
// only.
type ByteSource interface {
	// Open acquires the underlying resource. Must be called before the
	// first ReadChunk.
	Open() error
	// ReadChunk blocks for the next batch of bytes.
	ReadChunk() (Chunk, error)
	// Close releases the resource. ReadChunk calls blocked in another
	// goroutine return an error after Close.
	Close() error
}

// StreamError wraps a source I/O failure so the pipeline can tell it
// apart from framing trouble. It terminates the failing source's
// producer only; other sources and stored frames are unaffected.
type StreamError struct {
	Source string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ErrOverflow is reported by a live source when the device signals
// that its capture buffer overflowed and bytes were dropped on the
// device side. It is the only sanctioned drop point in the pipeline
// and must surface as a diagnostic, never vanish.
var ErrOverflow = errors.New("device buffer overflow")

// fileChunkSize is how much of a capture file each ReadChunk returns.
const fileChunkSize = 4096

// FileSource replays a raw capture file.
type FileSource struct {
	Path string

	f      *os.File
	opened time.Time
	buf    [fileChunkSize]byte
}

// NewFileSource returns a source reading raw captured bytes from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Open() error {
	f, err := os.Open(s.Path)
	if err != nil {
		return &StreamError{Source: s.Path, Err: err}
	}
	s.f = f
	s.opened = time.Now()
	return nil
}

func (s *FileSource) ReadChunk() (Chunk, error) {
	if s.f == nil {
		return Chunk{}, &StreamError{Source: s.Path, Err: errors.New("not open")}
	}
	n, err := s.f.Read(s.buf[:])
	if n > 0 {
		data := make([]byte, n)
		copy(data, s.buf[:n])
		return Chunk{Data: data, Arrival: sinceMicros(s.opened)}, nil
	}
	if errors.Is(err, io.EOF) {
		return Chunk{}, io.EOF
	}
	return Chunk{}, &StreamError{Source: s.Path, Err: err}
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func sinceMicros(start time.Time) uint64 {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
