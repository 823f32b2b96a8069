package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Direction classifies who initiated a flow.
type Direction uint8

const (
	// DirectionUnknown is never emitted; it marks an unset field.
	DirectionUnknown Direction = iota
	// DirectionActive is a locally-initiated (outbound) flow.
	DirectionActive
	// DirectionPassive is a locally-accepted or listening-side flow.
	DirectionPassive
)

func (d Direction) String() string {
	switch d {
	case DirectionActive:
		return "active"
	case DirectionPassive:
		return "passive"
	}
	return "unknown"
}

// Transport protocol tags, matching IANA protocol numbers.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// TaskCommLen is the fixed width of the task name snapshot.
const TaskCommLen = 16

// Flow is one observed connection-establishment or datagram-crossing
// event. It is immutable once published to the ring.
//
// TCP records keep the socket's own orientation (SAddr local, DAddr
// remote). UDP records are reoriented so that SAddr is the initiating
// endpoint and DAddr the listening one, whichever side of the wire the
// hook saw. LPort is the listening-side port in network byte order in
// every case.
type Flow struct {
	TsUS      uint64
	SAddr     uint32
	DAddr     uint32
	LPort     uint16
	PID       uint32
	Task      [TaskCommLen]byte
	Direction Direction
	Proto     uint8
}

// TaskName returns the task name snapshot without trailing NULs.
func (f *Flow) TaskName() string {
	return string(bytes.TrimRight(f.Task[:], "\x00"))
}

// SrcIP returns the source address as a net.IP.
func (f *Flow) SrcIP() net.IP {
	return u32ToIP(f.SAddr)
}

// DstIP returns the destination address as a net.IP.
func (f *Flow) DstIP() net.IP {
	return u32ToIP(f.DAddr)
}

// ListenPort returns the listening-side port in host byte order.
func (f *Flow) ListenPort() uint16 {
	return Ntohs(f.LPort)
}

func (f *Flow) String() string {
	return fmt.Sprintf("%s %s pid=%d comm=%s %s -> %s lport=%d",
		protoName(f.Proto), f.Direction, f.PID, f.TaskName(),
		f.SrcIP(), f.DstIP(), f.ListenPort())
}

func protoName(p uint8) string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	}
	return fmt.Sprintf("proto(%d)", p)
}

// Htons converts a port from host to network byte order.
func Htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// Ntohs converts a port from network to host byte order.
func Ntohs(v uint16) uint16 {
	return v<<8 | v>>8
}

// u32ToIP converts an IPv4 address in network byte order (as read from
// socket structures) to a net.IP.
func u32ToIP(addr uint32) net.IP {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, addr)
	return ip
}

// Task identifies the calling thread observed at a hook point, the
// moral equivalent of bpf_get_current_pid_tgid plus the comm snapshot.
type Task struct {
	PID  uint32
	TID  uint32
	Comm [TaskCommLen]byte
}

// SockInfo is the raw in-flight socket identity captured at a hook
// point. Ports follow kernel socket conventions: SPort (skc_num) is
// host byte order, DPort (skc_dport) is network byte order.
type SockInfo struct {
	SAddr uint32
	DAddr uint32
	SPort uint16
	DPort uint16
}

// RouteInfo carries the addresses resolved on the UDP send path, where
// the socket itself may be unbound to a concrete address.
type RouteInfo struct {
	SAddr uint32
	DAddr uint32
}

// PacketInfo carries the header fields read on the UDP receive path.
// Ports are network byte order as they appear on the wire.
type PacketInfo struct {
	SAddr uint32
	DAddr uint32
	SPort uint16
	DPort uint16
}
