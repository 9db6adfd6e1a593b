// Package zlf reads and writes the ZLF capture file format used by
// the vendor tooling.
//
// A ZLF file is a 2048-byte header followed by records. The header
// carries a version byte at offset 0, a text-encoding field, an
// operator comment, and a 0x23 0x12 marker in its last two bytes.
// Each record is:
//
//	timestamp  8 bytes, little-endian .NET ticks (100ns since year 1)
//	properties 1 byte: bit 7 = direction, bits 0..6 = session id
//	length     4 bytes, little-endian payload byte count
//	payload    length bytes of raw Zniffer stream data
//	api type   1 byte trailer: 0xF5 (PTI) or 0xFE (Zniffer)
package zlf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Version is the only ZLF version this package accepts.
const Version = 104

const (
	headerSize = 2048
	markerHi   = 0x23
	markerLo   = 0x12
)

// API type trailer values.
const (
	APIPti     = 0xF5
	APIZniffer = 0xFE
)

var (
	ErrBadVersion = errors.New("zlf: unsupported version")
	ErrBadMarker  = errors.New("zlf: bad header marker")
	ErrBadAPIType = errors.New("zlf: unknown api type")
)

// dotNetEpochTicks is the .NET tick count at the Unix epoch.
const dotNetEpochTicks = 621355968000000000

// Record is one capture record.
type Record struct {
	// Timestamp in .NET ticks.
	Timestamp uint64
	// Outgoing is set for host->device traffic.
	Outgoing bool
	// Session distinguishes capture sessions within one file.
	Session byte
	// API identifies the producing transport (APIPti or APIZniffer).
	API     byte
	Payload []byte
}

// Time converts the record timestamp to wall-clock time.
func (r *Record) Time() time.Time {
	if r.Timestamp < dotNetEpochTicks {
		return time.Unix(0, 0)
	}
	return time.Unix(0, int64(r.Timestamp-dotNetEpochTicks)*100)
}

// TicksNow returns the current time as .NET ticks.
func TicksNow() uint64 {
	return uint64(time.Now().UnixNano()/100) + dotNetEpochTicks
}

// Reader decodes records from a ZLF stream.
type Reader struct {
	r io.Reader
}

// NewReader validates the file header and positions the reader at the
// first record.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("zlf: reading header: %w", err)
	}
	if header[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, header[0])
	}
	if header[headerSize-2] != markerHi || header[headerSize-1] != markerLo {
		return nil, ErrBadMarker
	}
	return &Reader{r: r}, nil
}

// Next reads one record. Returns io.EOF at a clean end of file.
func (z *Reader) Next() (*Record, error) {
	var head [13]byte
	if _, err := io.ReadFull(z.r, head[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("zlf: reading record header: %w", err)
	}

	rec := &Record{
		Timestamp: binary.LittleEndian.Uint64(head[0:8]),
		Outgoing:  head[8]&0x80 != 0,
		Session:   head[8] & 0x7F,
	}

	n := binary.LittleEndian.Uint32(head[9:13])
	rec.Payload = make([]byte, n)
	if _, err := io.ReadFull(z.r, rec.Payload); err != nil {
		return nil, fmt.Errorf("zlf: reading %d payload bytes: %w", n, err)
	}

	var api [1]byte
	if _, err := io.ReadFull(z.r, api[:]); err != nil {
		return nil, fmt.Errorf("zlf: reading api type: %w", err)
	}
	if api[0] != APIPti && api[0] != APIZniffer {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadAPIType, api[0])
	}
	rec.API = api[0]
	return rec, nil
}

// Writer encodes records to a ZLF stream.
type Writer struct {
	w io.Writer
}

// NewWriter writes the 2048-byte header and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	header := make([]byte, headerSize)
	header[0] = Version
	header[headerSize-2] = markerHi
	header[headerSize-1] = markerLo
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("zlf: writing header: %w", err)
	}
	return &Writer{w: w}, nil
}

// Write appends one record.
func (z *Writer) Write(rec *Record) error {
	var head [13]byte
	binary.LittleEndian.PutUint64(head[0:8], rec.Timestamp)
	props := rec.Session & 0x7F
	if rec.Outgoing {
		props |= 0x80
	}
	head[8] = props
	if len(rec.Payload) > int(^uint32(0)) {
		return fmt.Errorf("zlf: payload too large: %d bytes", len(rec.Payload))
	}
	binary.LittleEndian.PutUint32(head[9:13], uint32(len(rec.Payload)))
	if _, err := z.w.Write(head[:]); err != nil {
		return fmt.Errorf("zlf: writing record header: %w", err)
	}
	if _, err := z.w.Write(rec.Payload); err != nil {
		return fmt.Errorf("zlf: writing payload: %w", err)
	}
	api := rec.API
	if api == 0 {
		api = APIZniffer
	}
	if _, err := z.w.Write([]byte{api}); err != nil {
		return fmt.Errorf("zlf: writing api type: %w", err)
	}
	return nil
}
