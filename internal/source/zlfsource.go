package source

import (
	"errors"
	"io"
	"os"

	"github.com/zwavetools/zwsniff/internal/zlf"
)

// ZLFSource replays a saved ZLF capture. Each record's payload is one
// chunk, stamped with the capture timestamp so replay preserves the
// original timing relationships.
type ZLFSource struct {
	Path string

	f *os.File
	r *zlf.Reader
}

// NewZLFSource returns a source replaying the ZLF file at path.
func NewZLFSource(path string) *ZLFSource {
	return &ZLFSource{Path: path}
}

func (s *ZLFSource) Open() error {
	f, err := os.Open(s.Path)
	if err != nil {
		return &StreamError{Source: s.Path, Err: err}
	}
	r, err := zlf.NewReader(f)
	if err != nil {
		_ = f.Close()
		return &StreamError{Source: s.Path, Err: err}
	}
	s.f = f
	s.r = r
	return nil
}

func (s *ZLFSource) ReadChunk() (Chunk, error) {
	if s.r == nil {
		return Chunk{}, &StreamError{Source: s.Path, Err: errors.New("not open")}
	}
	for {
		rec, err := s.r.Next()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, &StreamError{Source: s.Path, Err: err}
		}
		if rec.Outgoing {
			// Host->device traffic is not part of the sniffed stream.
			continue
		}
		// Capture timestamps are .NET ticks (100ns); arrival is in
		// microseconds.
		return Chunk{Data: rec.Payload, Arrival: rec.Timestamp / 10}, nil
	}
}

func (s *ZLFSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.r = nil
	return err
}
