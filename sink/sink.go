// Package sink delivers drained flow records to downstream consumers.
// Sinks run strictly outside the capture hot path: they may block,
// allocate, and fail without ever affecting a hook handler.
package sink

import (
	"context"
	"time"

	"github.com/flowsnoop/flowsnoop/capture"
)

// Record is one enriched flow as handed to a sink.
type Record struct {
	Time        time.Time    `json:"time"`
	Proto       string       `json:"proto"`
	Direction   string       `json:"direction"`
	SrcAddr     string       `json:"saddr"`
	DstAddr     string       `json:"daddr"`
	ListenPort  uint16       `json:"lport"`
	PID         uint32       `json:"pid"`
	ProcessName string       `json:"process"`
	Flow        capture.Flow `json:"-"`
}

// Sink consumes batches of records.
type Sink interface {
	Write(ctx context.Context, batch []Record) error
	Close() error
}
