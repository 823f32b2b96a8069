package capture

import (
	"fmt"
	"sync/atomic"
)

// DefaultRingCapacity is sized for roughly the same backlog as the
// 256 KB kernel ring the capture programs would otherwise use.
const DefaultRingCapacity = 4096

// FlowRing is the hand-off queue between hook handlers and the
// consumer: a bounded, lock-free, multi-producer single-consumer ring.
//
// Producers never block. When the ring is full the record is dropped
// and counted; there is no retry. A record becomes visible to the
// consumer as a whole or not at all: the slot sequence is advanced
// only after the record has been fully copied in.
type FlowRing struct {
	mask  uint64
	slots []ringSlot
	head  atomic.Uint64 // next producer position
	tail  uint64        // next consumer position, single consumer only
	drops atomic.Uint64
}

type ringSlot struct {
	// seq == pos:   slot free, ready for the producer at pos
	// seq == pos+1: slot published, ready for the consumer at pos
	seq  atomic.Uint64
	flow Flow
}

// NewFlowRing creates a ring with the given capacity, which must be a
// power of two.
func NewFlowRing(capacity int) (*FlowRing, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two, got %d", capacity)
	}
	r := &FlowRing{
		mask:  uint64(capacity - 1),
		slots: make([]ringSlot, capacity),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Publish reserves a slot, copies the record in, and publishes it.
// Returns false when the ring is full; the record is then dropped and
// counted. Safe for concurrent producers.
func (r *FlowRing) Publish(f *Flow) bool {
	for {
		pos := r.head.Load()
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()

		switch {
		case seq == pos:
			if !r.head.CompareAndSwap(pos, pos+1) {
				continue // another producer claimed pos
			}
			slot.flow = *f
			slot.seq.Store(pos + 1)
			return true
		case seq < pos:
			// Consumer has not freed this slot yet: full.
			r.drops.Add(1)
			return false
		default:
			// Producer at pos already published; reread head.
		}
	}
}

// Consume returns the next published record, or false when the ring is
// empty. Must be called from a single consumer goroutine.
func (r *FlowRing) Consume() (Flow, bool) {
	pos := r.tail
	slot := &r.slots[pos&r.mask]
	if slot.seq.Load() != pos+1 {
		return Flow{}, false
	}
	f := slot.flow
	// Free the slot for the producer one lap ahead.
	slot.seq.Store(pos + r.mask + 1)
	r.tail = pos + 1
	return f, true
}

// Drain consumes up to max records into out and returns them. A max of
// zero or less drains everything currently published.
func (r *FlowRing) Drain(out []Flow, max int) []Flow {
	for max <= 0 || len(out) < max {
		f, ok := r.Consume()
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// Drops returns the number of records dropped on saturation.
func (r *FlowRing) Drops() uint64 {
	return r.drops.Load()
}

// Cap returns the ring capacity.
func (r *FlowRing) Cap() int {
	return len(r.slots)
}
