package capture

import (
	"fmt"
	"sync/atomic"
	"time"
)

// engineEpoch anchors the monotonic clock. The epoch is arbitrary per
// the record contract; only relative ordering matters.
var engineEpoch = time.Now()

func monotonicMicros() uint64 {
	return uint64(time.Since(engineEpoch).Microseconds())
}

// WallTime converts a timestamp produced by the default engine clock
// back to wall-clock time. Only meaningful for engines using the
// default Now.
func WallTime(tsUS uint64) time.Time {
	return engineEpoch.Add(time.Duration(tsUS) * time.Microsecond)
}

// Config parameterizes an Engine. Zero values select the defaults.
type Config struct {
	// RingCapacity is the Flow Emitter capacity; must be a power of
	// two. Defaults to DefaultRingCapacity.
	RingCapacity int

	// Oracle answers bound-port queries for the UDP paths. Defaults
	// to an empty StaticOracle, under which every UDP endpoint
	// classifies as active.
	Oracle PortBindingOracle

	// Diag receives best-effort diagnostics. Defaults to NopDiag.
	Diag Diag

	// Now supplies record timestamps in monotonic microseconds.
	// Defaults to a process-local monotonic clock.
	Now func() uint64
}

// Engine is the event-capture core: the hook handlers, the Correlation
// Store joining connect entry/return pairs, and the Flow Emitter ring
// delivering finished records to the consumer.
//
// All shared state is created at Attach and quiesced at Detach; the
// handlers themselves are safe for concurrent invocation from any
// number of calling threads.
type Engine struct {
	ring     *FlowRing
	connects *ConnectStore
	oracle   PortBindingOracle
	diag     Diag
	now      func() uint64
	attached atomic.Bool
}

// Stats is a snapshot of engine counters.
type Stats struct {
	// Dropped counts records lost to ring saturation.
	Dropped uint64
	// PendingConnects counts connect attempts whose return hook has
	// not fired yet.
	PendingConnects int
}

// NewEngine creates an engine. The engine does not observe anything
// until Attach.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	ring, err := NewFlowRing(cfg.RingCapacity)
	if err != nil {
		return nil, fmt.Errorf("flow ring: %w", err)
	}
	if cfg.Oracle == nil {
		cfg.Oracle = StaticOracle{}
	}
	if cfg.Diag == nil {
		cfg.Diag = NopDiag{}
	}
	if cfg.Now == nil {
		cfg.Now = monotonicMicros
	}
	return &Engine{
		ring:     ring,
		connects: NewConnectStore(),
		oracle:   cfg.Oracle,
		diag:     cfg.Diag,
		now:      cfg.Now,
	}, nil
}

// Attach arms the hook handlers. Until Attach, and after Detach, every
// handler completes as a no-op.
func (e *Engine) Attach() {
	e.attached.Store(true)
}

// Detach disarms the handlers and discards in-flight correlation
// entries. Records already published stay in the ring for the consumer
// to drain; no partial record is ever observable.
func (e *Engine) Detach() {
	e.attached.Store(false)
	e.connects.Reset()
}

// Ring exposes the Flow Emitter for the consumer side.
func (e *Engine) Ring() *FlowRing {
	return e.ring
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Dropped:         e.ring.Drops(),
		PendingConnects: e.connects.Len(),
	}
}

// Probes enumerates the choke points the engine instruments, with the
// handlers a substrate adapter must invoke. The socket/bind lifecycle
// points belong to the oracle's owner and are not listed here.
func (e *Engine) Probes() []Probe {
	return []Probe{
		{Hook: HookTCPConnect, Entry: e.HandleConnectEntry, Return: e.HandleConnectReturn},
		{Hook: HookTCPAccept, Return: e.HandleAcceptReturn},
		{Hook: HookUDPSend, Entry: e.HandleUDPSend},
		{Hook: HookUDPRecv, Entry: e.HandleUDPRecv},
	}
}

// emit builds and publishes one record. A saturated ring drops the
// record; there is no safe retry inside a bounded-time handler.
func (e *Engine) emit(hook HookPoint, task *Task, dir Direction, lport uint16, saddr, daddr uint32, proto uint8) {
	f := Flow{
		TsUS:      e.now(),
		SAddr:     saddr,
		DAddr:     daddr,
		LPort:     lport,
		PID:       task.PID,
		Task:      task.Comm,
		Direction: dir,
		Proto:     proto,
	}
	if !e.ring.Publish(&f) {
		e.diag.Eventf(hook, "ring full, dropped flow pid=%d", task.PID)
	}
}
