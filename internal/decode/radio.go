package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// Radio field labels.
const (
	LabelRadioType    = "type"
	LabelDeviceTicks  = "timestamp"
	LabelChannelSpeed = "channel/speed"
	LabelRSSI         = "rssi"
	LabelStartOfData  = "start of data"
	LabelBeamPayload  = "beam payload"
	LabelCounter      = "counter"
)

// RadioDecoder interprets sniffed radio frames. It decodes the fixed
// header fields itself and delegates the embedded Z-Wave MPDU of a
// Normal frame to its inner registry, which owns the next protocol
// layer.
type RadioDecoder struct {
	// Inner dispatches the radio payload. Nil leaves payloads as raw
	// leaves.
	Inner *Registry
}

// NewRadioDecoder returns a RadioDecoder whose inner registry already
// knows the Z-Wave MPDU layer.
func NewRadioDecoder() *RadioDecoder {
	inner := NewRegistry()
	inner.Register(MPDUDecoder{}, 0)
	return &RadioDecoder{Inner: inner}
}

func (*RadioDecoder) Name() string { return "radio" }

func (*RadioDecoder) Claims(f *frame.Frame, start, stop int) bool {
	return f.Kind == frame.KindRadio && start == 0 && stop == len(f.Raw)
}

func (d *RadioDecoder) Decode(f *frame.Frame, start, stop int) (*Chunk, error) {
	if stop-start < 4 {
		return nil, fmt.Errorf("radio frame too short: %d bytes", stop-start)
	}
	typ := f.Raw[1]

	root := &Chunk{Start: start, Stop: stop, Label: radioName(typ)}
	root.Add(Leaf(0, 1, LabelSOF, UintValue(uint64(f.Raw[0]))))
	root.Add(Leaf(1, 2, LabelRadioType, UintValue(uint64(typ))))
	root.Add(Leaf(2, 4, LabelDeviceTicks, UintValue(uint64(binary.LittleEndian.Uint16(f.Raw[2:4])))))

	switch typ {
	case frame.RadioNormal:
		if stop < 10 {
			return nil, fmt.Errorf("normal radio frame too short: %d bytes", stop)
		}
		n := int(f.Raw[9])
		if 10+n > stop {
			return nil, fmt.Errorf("radio payload truncated: want %d bytes, have %d", n, stop-10)
		}
		root.Add(Leaf(4, 5, LabelChannelSpeed, UintValue(uint64(f.Raw[4]))))
		root.Add(Leaf(5, 6, LabelRegion, UintValue(uint64(f.Raw[5]))))
		root.Add(Leaf(6, 7, LabelRSSI, UintValue(uint64(f.Raw[6]))))
		root.Add(Leaf(7, 9, LabelStartOfData, UintValue(uint64(binary.LittleEndian.Uint16(f.Raw[7:9])))))
		root.Add(Leaf(9, 10, LabelLength, UintValue(uint64(n))))
		if n > 0 {
			root.Add(d.decodePayload(f, 10, 10+n))
		}

	case frame.RadioBeamStart:
		if stop < 11 {
			return nil, fmt.Errorf("beam start frame too short: %d bytes", stop)
		}
		root.Add(Leaf(4, 5, LabelChannelSpeed, UintValue(uint64(f.Raw[4]))))
		root.Add(Leaf(5, 6, LabelRegion, UintValue(uint64(f.Raw[5]))))
		root.Add(Leaf(6, 7, LabelRSSI, UintValue(uint64(f.Raw[6]))))
		root.Add(Leaf(7, 11, LabelBeamPayload, BytesValue(f.Raw[7:11])))

	case frame.RadioBeamStop:
		if stop < 6 {
			return nil, fmt.Errorf("beam stop frame too short: %d bytes", stop)
		}
		root.Add(Leaf(4, 5, LabelRSSI, UintValue(uint64(f.Raw[4]))))
		root.Add(Leaf(5, 6, LabelCounter, UintValue(uint64(f.Raw[5]))))
	}

	// Type 2 (Beam) has no documented payload shape; whatever follows
	// the generic header is left for gap filling.
	return root, nil
}

func (d *RadioDecoder) decodePayload(f *frame.Frame, start, stop int) *Chunk {
	if d.Inner == nil {
		return Leaf(start, stop, LabelRaw, BytesValue(f.Raw[start:stop]))
	}
	return d.Inner.DecodeRange(f, start, stop)
}

func radioName(typ byte) string {
	switch typ {
	case frame.RadioNormal:
		return "radio"
	case frame.RadioBeam:
		return "beam"
	case frame.RadioBeamStart:
		return "beam start"
	case frame.RadioBeamStop:
		return "beam stop"
	}
	return fmt.Sprintf("radio type 0x%02X", typ)
}
