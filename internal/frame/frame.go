// Package frame defines the Zniffer wire format constants and the Frame
// type shared by the extractor, store, decoders and analyzer.
package frame

import "encoding/binary"

// Start-of-frame markers. A command frame carries host<->device API
// traffic; a radio frame carries sniffed Z-Wave RF traffic.
const (
	SOFCommand = 0x23
	SOFRadio   = 0x21
)

// Radio frame sub-types.
const (
	RadioNormal    = 0x01
	RadioBeam      = 0x02 // documented but apparently unused
	RadioBeamStart = 0x03
	RadioBeamStop  = 0x04
)

// StartOfData is the 16-bit marker (little-endian on the wire) that
// precedes the payload of a Normal radio frame.
const StartOfData = 0x0321

// Known command identifiers.
const (
	CmdGetVersion = 0x01
	CmdSetRegion  = 0x02
)

// Kind distinguishes the two frame shapes sharing the extractor state
// machine.
type Kind uint8

const (
	KindCommand Kind = iota
	KindRadio
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindRadio:
		return "radio"
	}
	return "unknown"
}

// Frame is one discrete unit recovered from the byte stream.
//
// Raw holds the exact byte span consumed off the wire, including the
// SOF marker. Frames are immutable once built: Raw must not be
// modified, and Seq is assigned exactly once by the store on append.
type Frame struct {
	// Seq is the store-assigned sequence index, unique and strictly
	// increasing with insertion order. Zero until appended.
	Seq uint64

	// Timestamp is in device clock units. For command frames it is the
	// arrival timestamp supplied by the byte source; for radio frames
	// it is the embedded 16-bit device tick extended to a monotonic
	// counter by the extractor's clock.
	Timestamp uint64

	Kind Kind

	Raw []byte
}

// New builds a Frame, copying raw so later buffer reuse by the caller
// cannot alias into the stored frame.
func New(kind Kind, raw []byte, timestamp uint64) *Frame {
	data := make([]byte, len(raw))
	copy(data, raw)
	return &Frame{Kind: kind, Timestamp: timestamp, Raw: data}
}

// CommandID returns the command identifier of a command frame.
func (f *Frame) CommandID() (byte, bool) {
	if f.Kind != KindCommand || len(f.Raw) < 2 {
		return 0, false
	}
	return f.Raw[1], true
}

// CommandPayload returns the payload bytes of a command frame.
func (f *Frame) CommandPayload() ([]byte, bool) {
	if f.Kind != KindCommand || len(f.Raw) < 3 {
		return nil, false
	}
	n := int(f.Raw[2])
	if len(f.Raw) < 3+n {
		return nil, false
	}
	return f.Raw[3 : 3+n], true
}

// RadioType returns the sub-type byte of a radio frame.
func (f *Frame) RadioType() (byte, bool) {
	if f.Kind != KindRadio || len(f.Raw) < 2 {
		return 0, false
	}
	return f.Raw[1], true
}

// DeviceTicks returns the raw 16-bit device timestamp embedded in a
// radio frame header, before monotonic extension.
func (f *Frame) DeviceTicks() (uint16, bool) {
	if f.Kind != KindRadio || len(f.Raw) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.Raw[2:4]), true
}

// RadioPayload returns the embedded Z-Wave MPDU of a Normal radio
// frame, or the fixed payload of a BeamStart frame.
func (f *Frame) RadioPayload() ([]byte, bool) {
	typ, ok := f.RadioType()
	if !ok {
		return nil, false
	}
	switch typ {
	case RadioNormal:
		if len(f.Raw) < 10 {
			return nil, false
		}
		n := int(f.Raw[9])
		if len(f.Raw) < 10+n {
			return nil, false
		}
		return f.Raw[10 : 10+n], true
	case RadioBeamStart:
		if len(f.Raw) < 11 {
			return nil, false
		}
		return f.Raw[7:11], true
	}
	return nil, false
}
