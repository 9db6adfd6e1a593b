package decode

import (
	"fmt"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// Well-known field labels. Consumers (the analyzer, the UI layer,
// correlation expressions) look fields up by these.
const (
	LabelSOF          = "sof"
	LabelCommandID    = "command id"
	LabelLength       = "length"
	LabelPayload      = "payload"
	LabelChipType     = "chip type"
	LabelChipRevision = "chip revision"
	LabelMajor        = "major"
	LabelMinor        = "minor"
	LabelRegion       = "region"
)

// CommandDecoder interprets host<->device command frames:
// SOF | CommandId | Length | Payload.
type CommandDecoder struct{}

func (CommandDecoder) Name() string { return "command" }

func (CommandDecoder) Claims(f *frame.Frame, start, stop int) bool {
	return f.Kind == frame.KindCommand && start == 0 && stop == len(f.Raw)
}

func (CommandDecoder) Decode(f *frame.Frame, start, stop int) (*Chunk, error) {
	if stop-start < 3 {
		return nil, fmt.Errorf("command frame too short: %d bytes", stop-start)
	}
	id := f.Raw[1]
	n := int(f.Raw[2])
	if 3+n > stop {
		return nil, fmt.Errorf("command payload truncated: want %d bytes, have %d", n, stop-3)
	}

	root := &Chunk{Start: start, Stop: stop, Label: commandName(id)}
	root.Add(Leaf(0, 1, LabelSOF, UintValue(uint64(f.Raw[0]))))
	root.Add(Leaf(1, 2, LabelCommandID, UintValue(uint64(id))))
	root.Add(Leaf(2, 3, LabelLength, UintValue(uint64(n))))

	if n > 0 {
		root.Add(decodeCommandPayload(f, id, 3, 3+n))
	}
	return root, nil
}

// decodeCommandPayload interprets the payload of the commands whose
// layout is documented; anything else stays an opaque payload chunk.
func decodeCommandPayload(f *frame.Frame, id byte, start, stop int) *Chunk {
	payload := &Chunk{Start: start, Stop: stop, Label: LabelPayload}

	switch id {
	case frame.CmdGetVersion:
		// Reply: ChipType | ChipRevision | Major | Minor. The request
		// carries no payload, so reaching here means a reply.
		if stop-start == 4 {
			payload.Add(Leaf(start, start+1, LabelChipType, UintValue(uint64(f.Raw[start]))))
			payload.Add(Leaf(start+1, start+2, LabelChipRevision, UintValue(uint64(f.Raw[start+1]))))
			payload.Add(Leaf(start+2, start+3, LabelMajor, UintValue(uint64(f.Raw[start+2]))))
			payload.Add(Leaf(start+3, start+4, LabelMinor, UintValue(uint64(f.Raw[start+3]))))
			return payload
		}
	case frame.CmdSetRegion:
		if stop-start == 1 {
			payload.Add(Leaf(start, start+1, LabelRegion, UintValue(uint64(f.Raw[start]))))
			return payload
		}
	}

	payload.Value = BytesValue(f.Raw[start:stop])
	return payload
}

func commandName(id byte) string {
	switch id {
	case frame.CmdGetVersion:
		return "get version"
	case frame.CmdSetRegion:
		return "set region"
	}
	return fmt.Sprintf("command 0x%02X", id)
}
