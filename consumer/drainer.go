// Package consumer drains the Flow Emitter ring on an interval and
// hands enriched records to the configured sinks. Everything here runs
// in its own goroutines, downstream of the capture engine; a slow sink
// shows up as producer-side drops, never as a blocked hook.
package consumer

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowsnoop/flowsnoop/capture"
	"github.com/flowsnoop/flowsnoop/sink"
)

// DefaultPollInterval matches the ring polling cadence of the kernel
// tracer this replaces.
const DefaultPollInterval = 50 * time.Millisecond

// Config parameterizes a Drainer.
type Config struct {
	Ring     *capture.FlowRing
	Interval time.Duration // defaults to DefaultPollInterval
	Sinks    []sink.Sink
	Names    *ProcessNames // optional; nil disables name enrichment
	// Clock converts record timestamps to wall time. Defaults to
	// capture.WallTime.
	Clock func(tsUS uint64) time.Time
}

// Drainer is the single consumer of a FlowRing.
type Drainer struct {
	ring     *capture.FlowRing
	interval time.Duration
	sinks    []sink.Sink
	names    *ProcessNames
	clock    func(tsUS uint64) time.Time
	batch    []capture.Flow
}

// New creates a Drainer.
func New(cfg Config) (*Drainer, error) {
	if cfg.Ring == nil {
		return nil, fmt.Errorf("drainer needs a flow ring")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = capture.WallTime
	}
	return &Drainer{
		ring:     cfg.Ring,
		interval: cfg.Interval,
		sinks:    cfg.Sinks,
		names:    cfg.Names,
		clock:    cfg.Clock,
		batch:    make([]capture.Flow, 0, 256),
	}, nil
}

// Run polls the ring until the context is canceled, then performs one
// final drain so records published before detach are not lost.
func (d *Drainer) Run(ctx context.Context) error {
	tick := time.NewTicker(d.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := d.drainOnce(context.Background()); err != nil {
				log.Printf("final drain: %v", err)
			}
			return ctx.Err()
		case <-tick.C:
			if err := d.drainOnce(ctx); err != nil {
				log.Printf("drain: %v", err)
			}
		}
	}
}

// drainOnce empties the ring and fans the batch out to all sinks
// concurrently. Sink errors are reported but do not stop the loop.
func (d *Drainer) drainOnce(ctx context.Context) error {
	d.batch = d.ring.Drain(d.batch[:0], 0)
	if len(d.batch) == 0 {
		return nil
	}

	records := make([]sink.Record, len(d.batch))
	for i := range d.batch {
		records[i] = d.toRecord(&d.batch[i])
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range d.sinks {
		s := s
		g.Go(func() error { return s.Write(gctx, records) })
	}
	return g.Wait()
}

func (d *Drainer) toRecord(f *capture.Flow) sink.Record {
	name := f.TaskName()
	if d.names != nil {
		name = d.names.Resolve(f.PID, name)
	}
	return sink.Record{
		Time:        d.clock(f.TsUS),
		Proto:       protoString(f.Proto),
		Direction:   f.Direction.String(),
		SrcAddr:     f.SrcIP().String(),
		DstAddr:     f.DstIP().String(),
		ListenPort:  f.ListenPort(),
		PID:         f.PID,
		ProcessName: name,
		Flow:        *f,
	}
}

func protoString(p uint8) string {
	if p == capture.ProtoUDP {
		return "UDP"
	}
	return "TCP"
}
