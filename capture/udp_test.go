package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSend_DirectionInference(t *testing.T) {
	local := addr("10.0.0.1")
	remote := addr("10.0.0.9")

	tests := []struct {
		name      string
		bound     StaticOracle
		sock      SockInfo
		route     RouteInfo
		wantDir   Direction
		wantLPort uint16 // host order
		wantSrc   uint32
		wantDst   uint32
	}{
		{
			name:      "bound source port means passive, remote reads as source",
			bound:     StaticOracle{53: {}},
			sock:      SockInfo{SPort: 53, DPort: Htons(40000)},
			route:     RouteInfo{SAddr: local, DAddr: remote},
			wantDir:   DirectionPassive,
			wantLPort: 53,
			wantSrc:   remote,
			wantDst:   local,
		},
		{
			name:      "unbound source port means active, natural orientation",
			bound:     StaticOracle{},
			sock:      SockInfo{SPort: 40000, DPort: Htons(53)},
			route:     RouteInfo{SAddr: local, DAddr: remote},
			wantDir:   DirectionActive,
			wantLPort: 53, // the peer's service port
			wantSrc:   local,
			wantDst:   remote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.bound)
			task := testTask(300, 300, "dnsmasq")

			e.HandleUDPSend(&HookContext{Task: task, Sock: &tt.sock, Route: &tt.route})

			f := drainOne(t, e)
			assert.Equal(t, ProtoUDP, f.Proto)
			assert.Equal(t, tt.wantDir, f.Direction)
			assert.Equal(t, tt.wantLPort, f.ListenPort())
			assert.Equal(t, tt.wantSrc, f.SAddr)
			assert.Equal(t, tt.wantDst, f.DAddr)
		})
	}
}

func TestUDPRecv_DirectionInference(t *testing.T) {
	local := addr("10.0.0.1")
	remote := addr("10.0.0.9")

	tests := []struct {
		name      string
		bound     StaticOracle
		pkt       PacketInfo
		wantDir   Direction
		wantLPort uint16 // host order
		wantSrc   uint32
		wantDst   uint32
	}{
		{
			name:  "datagram to bound port 53 is passive with remote-then-local ordering",
			bound: StaticOracle{53: {}},
			pkt: PacketInfo{
				SAddr: remote, DAddr: local,
				SPort: Htons(40000), DPort: Htons(53),
			},
			wantDir:   DirectionPassive,
			wantLPort: 53,
			wantSrc:   remote,
			wantDst:   local,
		},
		{
			name:  "reply to unbound port is active, reoriented local-to-remote",
			bound: StaticOracle{},
			pkt: PacketInfo{
				SAddr: remote, DAddr: local,
				SPort: Htons(53), DPort: Htons(40000),
			},
			wantDir:   DirectionActive,
			wantLPort: 53, // the remote service port
			wantSrc:   local,
			wantDst:   remote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.bound)
			task := testTask(301, 301, "resolver")

			e.HandleUDPRecv(&HookContext{Task: task, Packet: &tt.pkt})

			f := drainOne(t, e)
			assert.Equal(t, ProtoUDP, f.Proto)
			assert.Equal(t, tt.wantDir, f.Direction)
			assert.Equal(t, tt.wantLPort, f.ListenPort())
			assert.Equal(t, tt.wantSrc, f.SAddr)
			assert.Equal(t, tt.wantDst, f.DAddr)
		})
	}
}

func TestUDP_OneRecordPerInvocation(t *testing.T) {
	e := newTestEngine(t, StaticOracle{53: {}})
	task := testTask(1, 1, "x")

	for i := 0; i < 5; i++ {
		e.HandleUDPRecv(&HookContext{Task: task, Packet: &PacketInfo{DPort: Htons(53)}})
	}

	var flows []Flow
	flows = e.Ring().Drain(flows, 0)
	assert.Len(t, flows, 5)
}

func TestUDP_MalformedContextAbortsInvocation(t *testing.T) {
	e := newTestEngine(t, nil)
	task := testTask(1, 1, "x")

	// Missing raw structures: the invocation completes as a no-op.
	e.HandleUDPSend(&HookContext{Task: task, Sock: &SockInfo{}})
	e.HandleUDPSend(&HookContext{Task: task, Route: &RouteInfo{}})
	e.HandleUDPRecv(&HookContext{Task: task})

	requireEmpty(t, e)
}

func TestUDP_DetachedHandlersAreNoops(t *testing.T) {
	e := newTestEngine(t, StaticOracle{53: {}})
	e.Detach()
	task := testTask(1, 1, "x")

	e.HandleUDPSend(&HookContext{Task: task, Sock: &SockInfo{SPort: 53}, Route: &RouteInfo{}})
	e.HandleUDPRecv(&HookContext{Task: task, Packet: &PacketInfo{DPort: Htons(53)}})

	requireEmpty(t, e)
}

func TestUDPSend_ListeningSocketUsesRouteAddresses(t *testing.T) {
	// A listening datagram socket may carry no addresses itself; the
	// send path must take them from the resolved route.
	e := newTestEngine(t, StaticOracle{123: {}})
	task := testTask(2, 2, "ntpd")

	e.HandleUDPSend(&HookContext{
		Task:  task,
		Sock:  &SockInfo{SPort: 123}, // no addresses on the socket
		Route: &RouteInfo{SAddr: addr("10.0.0.1"), DAddr: addr("10.0.0.9")},
	})

	f := drainOne(t, e)
	require.Equal(t, DirectionPassive, f.Direction)
	assert.Equal(t, "10.0.0.9", f.SrcIP().String())
	assert.Equal(t, "10.0.0.1", f.DstIP().String())
}
