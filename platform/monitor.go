// Package platform attaches the capture engine to a substrate. The
// Linux implementation instruments the kernel choke points with eBPF
// forwarding programs and feeds raw hook events to the engine's
// handlers; other platforms get a stub so the rest of the system still
// compiles and tests there.
package platform

import (
	"context"

	"github.com/flowsnoop/flowsnoop/capture"
	"github.com/flowsnoop/flowsnoop/portstate"
)

// Monitor runs the substrate side of the capture stack.
type Monitor interface {
	// Run attaches the hook points and pumps events into the engine
	// handlers until the context is canceled.
	Run(ctx context.Context) error
	// Close detaches everything and releases kernel resources.
	Close()
}

// Config wires a Monitor to the engine and the port-state table.
type Config struct {
	// ObjectPath locates the compiled BPF object with the forwarding
	// programs.
	ObjectPath string

	// Engine receives the capture hook events.
	Engine *capture.Engine

	// Ports receives the socket/bind lifecycle events.
	Ports *portstate.Table
}
