// Package store is the append-only, time-indexed frame repository.
//
// One writer per source appends while any number of readers query.
// Frames become visible atomically: a reader either sees a fully
// formed frame or does not see it at all. Ordering is by timestamp
// with the store-assigned sequence index as tie-breaker, which makes
// the multi-source merge deterministic even though device clocks have
// coarse resolution: equal timestamps sort in arrival order.
package store

import (
	"sort"
	"sync"

	"github.com/zwavetools/zwsniff/internal/frame"
)

// Store holds captured frames for the lifetime of a session.
type Store struct {
	mu      sync.RWMutex
	nextSeq uint64
	// byTime is kept sorted by (Timestamp, Seq). Appends from a live
	// capture land at the tail; out-of-order merges from multiple
	// sources insert at the right spot.
	byTime []*frame.Frame
}

// New returns an empty Store.
func New() *Store {
	return &Store{nextSeq: 1}
}

// Append assigns the next sequence index to f and makes it visible to
// subsequent queries. The frame must be fully built before Append;
// it must not be mutated afterwards.
func (s *Store) Append(f *frame.Frame) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.Seq = s.nextSeq
	s.nextSeq++

	// Common case: in timestamp order already.
	n := len(s.byTime)
	if n == 0 || !less(f, s.byTime[n-1]) {
		s.byTime = append(s.byTime, f)
		return f.Seq
	}
	i := sort.Search(n, func(i int) bool { return less(f, s.byTime[i]) })
	s.byTime = append(s.byTime, nil)
	copy(s.byTime[i+1:], s.byTime[i:])
	s.byTime[i] = f
	return f.Seq
}

func less(a, b *frame.Frame) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

// GetFrames returns every frame with t0 <= Timestamp <= t1 in
// non-decreasing timestamp order. An empty range yields an empty
// result.
func (s *Store) GetFrames(t0, t1 uint64) []*frame.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.byTime), func(i int) bool { return s.byTime[i].Timestamp >= t0 })
	hi := sort.Search(len(s.byTime), func(i int) bool { return s.byTime[i].Timestamp > t1 })
	if lo >= hi {
		return nil
	}
	out := make([]*frame.Frame, hi-lo)
	copy(out, s.byTime[lo:hi])
	return out
}

// StartTime returns the minimum stored timestamp. ok is false on an
// empty store.
func (s *Store) StartTime() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byTime) == 0 {
		return 0, false
	}
	return s.byTime[0].Timestamp, true
}

// EndTime returns the maximum stored timestamp. ok is false on an
// empty store.
func (s *Store) EndTime() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byTime) == 0 {
		return 0, false
	}
	return s.byTime[len(s.byTime)-1].Timestamp, true
}

// Snapshot returns a stable copy of the current frame sequence. A
// writer appending concurrently does not affect a snapshot already
// taken.
func (s *Store) Snapshot() []*frame.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*frame.Frame, len(s.byTime))
	copy(out, s.byTime)
	return out
}

// Len returns the number of stored frames.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTime)
}
