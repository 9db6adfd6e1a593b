// Package decode turns a frame's raw bytes into a structured field
// tree.
//
// Decoders are layered: a registry dispatches the top-level frame to
// the first decoder that claims it, and a decoder may hand a contained
// byte range to an inner registry for the next protocol layer. Every
// span a decoder does not account for is filled with a raw leaf, so a
// decoded tree always covers the full frame with no gaps and decoding
// never fails outright.
package decode

import "fmt"

// ValueKind tags the interpreted value carried by a chunk.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueUint
	ValueBytes
	ValueText
)

// Value is a chunk's interpreted value. Leaf field chunks usually
// carry one; structural chunks carry none.
type Value struct {
	Kind  ValueKind
	Uint  uint64
	Bytes []byte
	Text  string
}

func NoValue() Value            { return Value{} }
func UintValue(v uint64) Value  { return Value{Kind: ValueUint, Uint: v} }
func BytesValue(b []byte) Value { return Value{Kind: ValueBytes, Bytes: b} }
func TextValue(s string) Value  { return Value{Kind: ValueText, Text: s} }

func (v Value) String() string {
	switch v.Kind {
	case ValueUint:
		return fmt.Sprintf("%d", v.Uint)
	case ValueBytes:
		return fmt.Sprintf("% X", v.Bytes)
	case ValueText:
		return v.Text
	}
	return ""
}

// Chunk is one node of the decoded field tree. Start/Stop index into
// the frame's raw bytes as a half-open range. Children are exclusively
// owned, ordered by ascending start offset, pairwise non-overlapping,
// and each fully contained in its parent's range.
type Chunk struct {
	Start    int
	Stop     int
	Label    string
	Value    Value
	Children []*Chunk
}

// Leaf builds a childless chunk.
func Leaf(start, stop int, label string, v Value) *Chunk {
	return &Chunk{Start: start, Stop: stop, Label: label, Value: v}
}

// Add appends a child. Callers append in ascending offset order; the
// registry verifies and gap-fills afterwards.
func (c *Chunk) Add(child *Chunk) *Chunk {
	c.Children = append(c.Children, child)
	return c
}

// Len returns the number of bytes the chunk spans.
func (c *Chunk) Len() int {
	return c.Stop - c.Start
}

// Find returns the first chunk labeled label in a depth-first walk, or
// nil.
func (c *Chunk) Find(label string) *Chunk {
	if c.Label == label {
		return c
	}
	for _, child := range c.Children {
		if got := child.Find(label); got != nil {
			return got
		}
	}
	return nil
}

// Walk calls fn for every chunk in the tree, parent first.
func (c *Chunk) Walk(fn func(*Chunk)) {
	fn(c)
	for _, child := range c.Children {
		child.Walk(fn)
	}
}

// Validate checks the tree invariants: each child contained in its
// parent, siblings in ascending start order without overlap.
func (c *Chunk) Validate() error {
	if c.Start < 0 || c.Stop < c.Start {
		return fmt.Errorf("chunk %q: invalid range [%d,%d)", c.Label, c.Start, c.Stop)
	}
	prevStop := c.Start
	for _, child := range c.Children {
		if child.Start < c.Start || child.Stop > c.Stop {
			return fmt.Errorf("chunk %q: child %q range [%d,%d) escapes parent [%d,%d)",
				c.Label, child.Label, child.Start, child.Stop, c.Start, c.Stop)
		}
		if child.Start < prevStop {
			return fmt.Errorf("chunk %q: child %q overlaps or is out of order at %d",
				c.Label, child.Label, child.Start)
		}
		prevStop = child.Stop
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// fillGaps inserts raw leaves wherever the children of any chunk leave
// part of the parent range uncovered. A leaf chunk is left alone: its
// own bytes are its coverage.
func fillGaps(c *Chunk) {
	if len(c.Children) == 0 {
		return
	}
	var filled []*Chunk
	cursor := c.Start
	for _, child := range c.Children {
		if child.Start > cursor {
			filled = append(filled, Leaf(cursor, child.Start, LabelRaw, NoValue()))
		}
		fillGaps(child)
		filled = append(filled, child)
		cursor = child.Stop
	}
	if cursor < c.Stop {
		filled = append(filled, Leaf(cursor, c.Stop, LabelRaw, NoValue()))
	}
	c.Children = filled
}

// LabelRaw marks spans no decoder accounted for.
const LabelRaw = "raw"
