package decode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// Decoder interprets one protocol layer of a frame. Implementations
// must be pure: no shared mutable state, deterministic output for
// identical input, so decoders can run concurrently across frames and
// a frame can be re-decoded at any time.
type Decoder interface {
	// Name identifies the decoder in diagnostics.
	Name() string
	// Claims reports whether this decoder can interpret the byte range
	// [start, stop) of f.
	Claims(f *frame.Frame, start, stop int) bool
	// Decode interprets the range and returns its chunk. An error means
	// the decoder claimed the range but could not parse it; the
	// registry then falls back to a raw leaf for the span.
	Decode(f *frame.Frame, start, stop int) (*Chunk, error)
}

// Registry dispatches byte ranges to decoders in priority order.
// Registration is rare and serialized; dispatch is read-mostly and
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	decoder  Decoder
	priority int
	order    int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a decoder. Lower priority values are tried first;
// equal priorities keep registration order.
//
// The sorted slice is rebuilt in a fresh array and swapped in, never
// sorted in place: dispatchers iterate the previous slice outside the
// lock, so the array they hold must stay untouched.
func (r *Registry) Register(d Decoder, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]entry, len(r.entries), len(r.entries)+1)
	copy(entries, r.entries)
	entries = append(entries, entry{decoder: d, priority: priority, order: len(entries)})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].order < entries[j].order
	})
	r.entries = entries
}

// Decode builds the full chunk tree for a frame. The result always
// covers [0, len(f.Raw)): unclaimed or unparsable content becomes raw
// leaves rather than an error.
func (r *Registry) Decode(f *frame.Frame) *Chunk {
	root := r.DecodeRange(f, 0, len(f.Raw))
	if root.Start != 0 || root.Stop != len(f.Raw) {
		// A decoder narrowed the claimed span; re-root so the tree
		// still covers the whole frame.
		root = (&Chunk{Start: 0, Stop: len(f.Raw), Label: f.Kind.String()}).Add(root)
	}
	fillGaps(root)
	return root
}

// DecodeRange dispatches one byte range to the first claiming decoder.
// Used by outer decoders to delegate an embedded payload to an inner
// registry.
func (r *Registry) DecodeRange(f *frame.Frame, start, stop int) *Chunk {
	if start < 0 || stop > len(f.Raw) || start > stop {
		return Leaf(clampRange(start, stop, len(f.Raw)))
	}

	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.decoder.Claims(f, start, stop) {
			continue
		}
		c, err := e.decoder.Decode(f, start, stop)
		if err != nil || c == nil {
			// DecodeError is non-fatal: the claimed span degrades to a
			// raw leaf and the rest of the tree is unaffected.
			return Leaf(start, stop, LabelRaw, BytesValue(f.Raw[start:stop]))
		}
		return c
	}
	return Leaf(start, stop, LabelRaw, BytesValue(f.Raw[start:stop]))
}

func clampRange(start, stop, n int) (int, int, string, Value) {
	if start < 0 {
		start = 0
	}
	if stop > n {
		stop = n
	}
	if start > stop {
		start, stop = 0, 0
	}
	return start, stop, LabelRaw, NoValue()
}

// DecodeError wraps a decoder failure with the decoder and range it
// occurred in. Decoders return plain errors; this type exists for
// callers that want structured reporting from custom decoders.
type DecodeError struct {
	Decoder     string
	Start, Stop int
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoder %s failed on [%d,%d): %v", e.Decoder, e.Start, e.Stop, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
