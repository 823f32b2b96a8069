package portstate

import (
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Seed populates the table with UDP ports that were already bound when
// the tracer attached, so that traffic on pre-existing listeners
// classifies as passive from the first observed datagram.
func (t *Table) Seed() (int, error) {
	conns, err := gopsnet.Connections("udp4")
	if err != nil {
		return 0, fmt.Errorf("read udp socket table: %w", err)
	}

	n := 0
	for _, c := range conns {
		// A datagram socket with no remote endpoint is a listener.
		if c.Raddr.Port != 0 || c.Laddr.Port == 0 {
			continue
		}
		port := uint16(c.Laddr.Port)
		if !t.IsBound(port) {
			t.MarkBound(port)
			n++
		}
	}
	return n, nil
}
