package platform

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flowsnoop/flowsnoop/capture"
)

// Raw hook-event ids, shared with the BPF forwarding programs in
// bpf/flowsnoop.bpf.c. The kernel side does no capture logic of its
// own: it snapshots whatever the choke point exposes and forwards one
// of these per hook fire.
const (
	evConnectEntry  uint32 = 1
	evConnectReturn uint32 = 2
	evAcceptReturn  uint32 = 3
	evUDPSend       uint32 = 4
	evUDPRecv       uint32 = 5
	evSocketEnter   uint32 = 6
	evSocketExit    uint32 = 7
	evBindEnter     uint32 = 8
	evBindExit      uint32 = 9
	evClose         uint32 = 10
)

// rawEvent mirrors struct hook_event in bpf/flowsnoop.bpf.c. Field
// order is chosen so the struct has no implicit padding on either
// side. Fields are populated per hook; the rest stay zero.
type rawEvent struct {
	Hook uint32
	PID  uint32
	TID  uint32
	Ret  int32

	// Socket fields (connect return, accept return, udp send).
	SAddr uint32
	DAddr uint32
	SPort uint16
	DPort uint16

	// Route fields (udp send).
	RSAddr uint32
	RDAddr uint32

	// Packet fields (udp recv).
	PSAddr uint32
	PDAddr uint32
	PSPort uint16
	PDPort uint16

	// Lifecycle fields (socket/bind tracepoints).
	FD       int32
	Family   int32
	SockType int32
	BindPort uint16
	_        uint16

	Comm [capture.TaskCommLen]byte
}

// rawEventSize is the wire size of rawEvent.
const rawEventSize = 80

func decodeEvent(sample []byte) (rawEvent, error) {
	var ev rawEvent
	if len(sample) < rawEventSize {
		return ev, fmt.Errorf("short hook event: %d bytes", len(sample))
	}
	if err := binary.Read(bytes.NewReader(sample), binary.LittleEndian, &ev); err != nil {
		return ev, fmt.Errorf("decode hook event: %w", err)
	}
	return ev, nil
}

// Dispatcher routes decoded hook events to the handlers registered for
// each choke point. It is the substrate-side half of the hook-point
// contract: one synchronous handler invocation per event, in read
// order.
type Dispatcher struct {
	entry map[capture.HookPoint]capture.Handler
	ret   map[capture.HookPoint]capture.Handler
}

// NewDispatcher indexes the given probe sets by hook point. Later
// registrations for the same hook replace earlier ones.
func NewDispatcher(probeSets ...[]capture.Probe) *Dispatcher {
	d := &Dispatcher{
		entry: make(map[capture.HookPoint]capture.Handler),
		ret:   make(map[capture.HookPoint]capture.Handler),
	}
	for _, probes := range probeSets {
		for _, p := range probes {
			if p.Entry != nil {
				d.entry[p.Hook] = p.Entry
			}
			if p.Return != nil {
				d.ret[p.Hook] = p.Return
			}
		}
	}
	return d
}

// Dispatch decodes one ring buffer sample and invokes the matching
// handler. Unknown or unhandled events are dropped silently; a capture
// layer must never destabilize its host over one bad sample.
func (d *Dispatcher) Dispatch(sample []byte) error {
	ev, err := decodeEvent(sample)
	if err != nil {
		return err
	}

	ctx := &capture.HookContext{
		Task: capture.Task{PID: ev.PID, TID: ev.TID, Comm: ev.Comm},
		Ret:  ev.Ret,
	}

	switch ev.Hook {
	case evConnectEntry:
		// The socket's destination fields are unresolved until the
		// call returns; the entry only marks the attempt.
		ctx.Sock = &capture.SockInfo{}
		d.call(d.entry, capture.HookTCPConnect, ctx)
	case evConnectReturn:
		ctx.Sock = sockFrom(&ev)
		d.call(d.ret, capture.HookTCPConnect, ctx)
	case evAcceptReturn:
		// NULL accepts are filtered on the kernel side and never
		// forwarded, so the socket is always present here.
		ctx.Sock = sockFrom(&ev)
		d.call(d.ret, capture.HookTCPAccept, ctx)
	case evUDPSend:
		ctx.Sock = sockFrom(&ev)
		ctx.Route = &capture.RouteInfo{SAddr: ev.RSAddr, DAddr: ev.RDAddr}
		d.call(d.entry, capture.HookUDPSend, ctx)
	case evUDPRecv:
		ctx.Packet = &capture.PacketInfo{
			SAddr: ev.PSAddr, DAddr: ev.PDAddr,
			SPort: ev.PSPort, DPort: ev.PDPort,
		}
		d.call(d.entry, capture.HookUDPRecv, ctx)
	case evSocketEnter:
		ctx.Family, ctx.SockType = ev.Family, ev.SockType
		d.call(d.entry, capture.HookSocket, ctx)
	case evSocketExit:
		ctx.FD = ev.FD
		d.call(d.ret, capture.HookSocket, ctx)
	case evBindEnter:
		ctx.FD, ctx.Port = ev.FD, ev.BindPort
		d.call(d.entry, capture.HookBind, ctx)
	case evBindExit:
		d.call(d.ret, capture.HookBind, ctx)
	case evClose:
		ctx.FD = ev.FD
		d.call(d.ret, capture.HookClose, ctx)
	default:
		return fmt.Errorf("unknown hook event id %d", ev.Hook)
	}
	return nil
}

func (d *Dispatcher) call(handlers map[capture.HookPoint]capture.Handler, hook capture.HookPoint, ctx *capture.HookContext) {
	if h, ok := handlers[hook]; ok {
		h(ctx)
	}
}

func sockFrom(ev *rawEvent) *capture.SockInfo {
	return &capture.SockInfo{
		SAddr: ev.SAddr,
		DAddr: ev.DAddr,
		SPort: ev.SPort,
		DPort: ev.DPort,
	}
}
