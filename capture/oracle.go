package capture

// PortBindingOracle answers whether a local port is currently bound by
// a listening-side UDP socket. The oracle is owned by the socket/bind
// lifecycle tracker; the capture paths only ever read it.
//
// Ports are host byte order.
type PortBindingOracle interface {
	IsBound(port uint16) bool
}

// StaticOracle is a fixed bound-port set, used in tests and as a
// fallback when no lifecycle tracker is wired.
type StaticOracle map[uint16]struct{}

func (o StaticOracle) IsBound(port uint16) bool {
	_, ok := o[port]
	return ok
}
