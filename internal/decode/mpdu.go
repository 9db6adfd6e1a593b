package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// Z-Wave MPDU field labels.
const (
	LabelHomeID       = "home id"
	LabelSource       = "source"
	LabelFrameControl = "frame control"
	LabelDestination  = "destination"
	LabelChecksum     = "checksum"
)

// mpduMinLen is the classic Z-Wave MAC header plus checksum:
// HomeID(4) Src(1) FrameControl(2) Length(1) Dst(1) ... Checksum(1).
const mpduMinLen = 10

// MPDUDecoder interprets the classic Z-Wave MAC layer embedded in a
// Normal radio frame's payload.
type MPDUDecoder struct{}

func (MPDUDecoder) Name() string { return "zwave-mpdu" }

func (MPDUDecoder) Claims(f *frame.Frame, start, stop int) bool {
	return stop-start >= mpduMinLen
}

func (MPDUDecoder) Decode(f *frame.Frame, start, stop int) (*Chunk, error) {
	if stop-start < mpduMinLen {
		return nil, fmt.Errorf("mpdu too short: %d bytes", stop-start)
	}

	root := &Chunk{Start: start, Stop: stop, Label: "zwave mpdu"}
	root.Add(Leaf(start, start+4, LabelHomeID, UintValue(uint64(binary.BigEndian.Uint32(f.Raw[start:start+4])))))
	root.Add(Leaf(start+4, start+5, LabelSource, UintValue(uint64(f.Raw[start+4]))))
	root.Add(Leaf(start+5, start+7, LabelFrameControl, UintValue(uint64(binary.BigEndian.Uint16(f.Raw[start+5:start+7])))))
	root.Add(Leaf(start+7, start+8, LabelLength, UintValue(uint64(f.Raw[start+7]))))
	root.Add(Leaf(start+8, start+9, LabelDestination, UintValue(uint64(f.Raw[start+8]))))

	if stop-start > mpduMinLen {
		root.Add(Leaf(start+9, stop-1, LabelPayload, BytesValue(f.Raw[start+9:stop-1])))
	}
	root.Add(Leaf(stop-1, stop, LabelChecksum, UintValue(uint64(f.Raw[stop-1]))))
	return root, nil
}
