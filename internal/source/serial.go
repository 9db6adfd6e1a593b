package source

import (
	"errors"
	"time"

	"go.bug.st/serial"
)

// SerialSource reads the live device link (PTI or Zniffer runtime)
// over a serial port.
type SerialSource struct {
	Port string
	Baud int

	p      serial.Port
	opened time.Time
	buf    [512]byte
}

// NewSerialSource returns a source for the given port. baud <= 0
// selects the device default of 115200.
func NewSerialSource(port string, baud int) *SerialSource {
	if baud <= 0 {
		baud = 115200
	}
	return &SerialSource{Port: port, Baud: baud}
}

func (s *SerialSource) Open() error {
	p, err := serial.Open(s.Port, &serial.Mode{BaudRate: s.Baud})
	if err != nil {
		return &StreamError{Source: s.Port, Err: err}
	}
	s.p = p
	s.opened = time.Now()
	return nil
}

func (s *SerialSource) ReadChunk() (Chunk, error) {
	if s.p == nil {
		return Chunk{}, &StreamError{Source: s.Port, Err: errors.New("not open")}
	}
	n, err := s.p.Read(s.buf[:])
	if err != nil {
		return Chunk{}, &StreamError{Source: s.Port, Err: err}
	}
	if n == 0 {
		// Port closed from the other side.
		return Chunk{}, &StreamError{Source: s.Port, Err: errors.New("port closed")}
	}
	data := make([]byte, n)
	copy(data, s.buf[:n])
	return Chunk{Data: data, Arrival: sinceMicros(s.opened)}, nil
}

func (s *SerialSource) Close() error {
	if s.p == nil {
		return nil
	}
	err := s.p.Close()
	s.p = nil
	return err
}
