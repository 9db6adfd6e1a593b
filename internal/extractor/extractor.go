// Package extractor recovers discrete frames from the raw Zniffer byte
// stream.
//
// The wire carries two frame shapes distinguished by their SOF byte:
// command frames (0x23) and radio frames (0x21). The stream is noisy:
// a corrupt byte desynchronizes framing, so the extractor scans for
// the next plausible SOF after any structural mismatch, discarding one
// byte at a time. Extraction is deterministic and restartable:
// re-feeding identical bytes from the start reproduces the same frame
// sequence, which is what makes saved-capture replay exact.
package extractor

import (
	"fmt"

	"github.com/zwavetools/zwsniff/internal/frame"
	"github.com/zwavetools/zwsniff/internal/timesync"
)

// DiagnosticKind classifies a framing diagnostic.
type DiagnosticKind int

const (
	// DiagBadSOF: a frame boundary held a byte that is neither SOF.
	DiagBadSOF DiagnosticKind = iota
	// DiagBadRadioType: the radio sub-type byte was not a known type.
	DiagBadRadioType
	// DiagBadStartOfData: a Normal radio frame's start-of-data marker
	// did not equal 0x0321.
	DiagBadStartOfData
	// DiagTruncated: end of stream was reached with a partial frame
	// pending. Emitted once per stream, not once per missing byte.
	DiagTruncated
	// DiagClockWrap: the 16-bit device tick counter wrapped around.
	// Informational; the extractor extends the tick monotonically.
	DiagClockWrap
	// DiagSourceOverflow: the byte source reported a device-side
	// buffer overflow. Emitted by the pipeline, never by the
	// extractor itself.
	DiagSourceOverflow
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagBadSOF:
		return "bad SOF"
	case DiagBadRadioType:
		return "bad radio type"
	case DiagBadStartOfData:
		return "bad start-of-data marker"
	case DiagTruncated:
		return "truncated frame at end of stream"
	case DiagClockWrap:
		return "device clock wraparound"
	case DiagSourceOverflow:
		return "device buffer overflow"
	}
	return "unknown"
}

// Diagnostic is a structured framing event: what went wrong and where
// in the stream. It carries no presentation; the consumer renders it.
type Diagnostic struct {
	Kind DiagnosticKind
	// Offset is the absolute stream offset of the byte the diagnostic
	// refers to.
	Offset uint64
	// Byte is the offending byte value for mismatch diagnostics.
	Byte byte
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s at offset %d (byte 0x%02X)", d.Kind, d.Offset, d.Byte)
}

// Extractor is the per-source framing state machine. It buffers
// partial frames across Feed calls and owns the tick clock for its
// source. Not safe for concurrent use; run one per producer.
type Extractor struct {
	clock *timesync.Clock
	buf   []byte
	// base is the absolute stream offset of buf[0].
	base uint64
	// synced is false while scanning forward after a framing error.
	// Only the transition out of sync emits a diagnostic; the bytes
	// skipped while scanning do not, so one corruption yields one
	// diagnostic.
	synced bool
}

// New returns an Extractor ready for its first Feed.
func New() *Extractor {
	return &Extractor{
		clock:  timesync.NewClock(),
		synced: true,
	}
}

// Feed appends incoming bytes and extracts every complete frame now
// available. Command frames are stamped with arrival; radio frames
// carry their embedded device tick, monotonically extended. A trailing
// partial frame stays buffered until the next Feed or Flush.
func (e *Extractor) Feed(data []byte, arrival uint64) ([]*frame.Frame, []Diagnostic) {
	e.buf = append(e.buf, data...)

	var frames []*frame.Frame
	var diags []Diagnostic

	for len(e.buf) > 0 {
		consumed, f, flt, complete := e.parseOne()
		if !complete {
			break
		}
		if f != nil {
			if f.Kind == frame.KindCommand {
				f.Timestamp = arrival
			} else if raw, ok := f.DeviceTicks(); ok {
				ticks, wrapped := e.clock.Extend(raw)
				f.Timestamp = ticks
				if wrapped {
					diags = append(diags, Diagnostic{Kind: DiagClockWrap, Offset: e.base})
				}
			}
			frames = append(frames, f)
			e.advance(consumed)
			e.synced = true
			continue
		}

		// Framing error: report once per desync, then scan silently.
		// The diagnostic points at the byte that diverged, which for a
		// bad marker sits inside the frame, not at its SOF.
		if e.synced {
			diags = append(diags, Diagnostic{
				Kind:   flt.kind,
				Offset: e.base + uint64(flt.at),
				Byte:   e.buf[flt.at],
			})
			e.synced = false
		}
		e.advance(1)
	}

	return frames, diags
}

// Flush signals end of stream. A pending partial frame produces a
// single truncation diagnostic and is discarded.
func (e *Extractor) Flush() []Diagnostic {
	if len(e.buf) == 0 {
		return nil
	}
	d := Diagnostic{Kind: DiagTruncated, Offset: e.base, Byte: e.buf[0]}
	e.advance(len(e.buf))
	return []Diagnostic{d}
}

// Offset returns the absolute stream offset of the next unconsumed
// byte.
func (e *Extractor) Offset() uint64 {
	return e.base
}

func (e *Extractor) advance(n int) {
	e.buf = e.buf[n:]
	e.base += uint64(n)
}

// fault locates a framing mismatch: what diverged and where inside
// the buffered frame.
type fault struct {
	kind DiagnosticKind
	// at is the index into buf of the offending byte.
	at int
}

// parseOne attempts to parse a single frame at buf[0].
//
// Returns (consumed, frame, _, true) on success, (0, nil, fault, true)
// on a framing error, and complete=false when more bytes are needed.
func (e *Extractor) parseOne() (int, *frame.Frame, fault, bool) {
	switch e.buf[0] {
	case frame.SOFCommand:
		return e.parseCommand()
	case frame.SOFRadio:
		return e.parseRadio()
	default:
		return 0, nil, fault{kind: DiagBadSOF}, true
	}
}

// Command frame: SOF | CommandId | Length=N | Payload(N).
func (e *Extractor) parseCommand() (int, *frame.Frame, fault, bool) {
	if len(e.buf) < 3 {
		return 0, nil, fault{}, false
	}
	total := 3 + int(e.buf[2])
	if len(e.buf) < total {
		return 0, nil, fault{}, false
	}
	return total, frame.New(frame.KindCommand, e.buf[:total], 0), fault{}, true
}

// Radio frame: SOF | Type | Timestamp(2) | payload shaped by Type.
func (e *Extractor) parseRadio() (int, *frame.Frame, fault, bool) {
	if len(e.buf) < 2 {
		return 0, nil, fault{}, false
	}

	var total int
	switch e.buf[1] {
	case frame.RadioNormal:
		// ChannelSpeed | Region | RSSI | StartOfData(2) | Length | Data(N)
		if len(e.buf) < 10 {
			return 0, nil, fault{}, false
		}
		if e.buf[7] != 0x21 {
			return 0, nil, fault{kind: DiagBadStartOfData, at: 7}, true
		}
		if e.buf[8] != 0x03 {
			return 0, nil, fault{kind: DiagBadStartOfData, at: 8}, true
		}
		total = 10 + int(e.buf[9])
	case frame.RadioBeamStart:
		// ChannelSpeed | Region | RSSI | Payload(4), fixed size
		total = 11
	case frame.RadioBeamStop:
		// RSSI | Counter
		total = 6
	case frame.RadioBeam:
		// Framing beyond the generic radio header is undefined for
		// this type; consume just the header.
		total = 4
	default:
		return 0, nil, fault{kind: DiagBadRadioType, at: 1}, true
	}

	if len(e.buf) < total {
		return 0, nil, fault{}, false
	}
	return total, frame.New(frame.KindRadio, e.buf[:total], 0), fault{}, true
}
