package source

import (
	"errors"
	"io"
	"net"
	"time"
)

// TCPSource reads a network-captured stream, the client side of the
// serve mode. The wire carries the same raw Zniffer bytes a serial
// link would.
type TCPSource struct {
	Addr string

	conn   net.Conn
	opened time.Time
	buf    [4096]byte
}

// NewTCPSource returns a source dialing addr on Open.
func NewTCPSource(addr string) *TCPSource {
	return &TCPSource{Addr: addr}
}

func (s *TCPSource) Open() error {
	conn, err := net.Dial("tcp", s.Addr)
	if err != nil {
		return &StreamError{Source: s.Addr, Err: err}
	}
	s.conn = conn
	s.opened = time.Now()
	return nil
}

func (s *TCPSource) ReadChunk() (Chunk, error) {
	if s.conn == nil {
		return Chunk{}, &StreamError{Source: s.Addr, Err: errors.New("not open")}
	}
	n, err := s.conn.Read(s.buf[:])
	if n > 0 {
		data := make([]byte, n)
		copy(data, s.buf[:n])
		return Chunk{Data: data, Arrival: sinceMicros(s.opened)}, nil
	}
	if errors.Is(err, io.EOF) {
		return Chunk{}, io.EOF
	}
	return Chunk{}, &StreamError{Source: s.Addr, Err: err}
}

func (s *TCPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
