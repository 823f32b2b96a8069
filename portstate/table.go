// Package portstate maintains the set of locally bound UDP ports by
// observing the socket and bind syscall lifecycle. It owns the Port
// Binding Oracle the UDP capture paths consult; the capture side only
// ever reads it.
package portstate

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/flowsnoop/flowsnoop/capture"
)

// sockTypeMask strips SOCK_NONBLOCK/SOCK_CLOEXEC from the socket type
// argument before classification.
const sockTypeMask = 0xf

// sockKey identifies a socket descriptor within a process.
type sockKey struct {
	pid uint32
	fd  int32
}

type pendingBind struct {
	key  sockKey
	port uint16
}

// Table tracks bound UDP ports. Hook handlers follow the same
// discipline as the capture engine: bounded local work, no blocking,
// per-thread keyed pending state.
//
// A port becomes bound only when a bind on a known AF_INET datagram
// socket returns success; socket creation and bind are each observed
// as their own entry/exit pair, keyed by the calling thread. A
// successful close drops the descriptor from tracking so the socket
// set stays bounded by what is actually open.
type Table struct {
	pendingSockets sync.Map // tid (uint32) -> struct{}
	udpSockets     sync.Map // sockKey -> struct{}
	pendingBinds   sync.Map // tid (uint32) -> pendingBind
	bound          sync.Map // port (uint16, host order) -> struct{}
	boundCount     atomic.Int64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// IsBound reports whether port (host byte order) is currently bound by
// a UDP socket. This is the oracle read on the UDP hot path.
func (t *Table) IsBound(port uint16) bool {
	_, ok := t.bound.Load(port)
	return ok
}

var _ capture.PortBindingOracle = (*Table)(nil)

// MarkBound records port as bound, bypassing the syscall pairing. Used
// to seed the table from the live socket table at attach time.
func (t *Table) MarkBound(port uint16) {
	if _, loaded := t.bound.LoadOrStore(port, struct{}{}); !loaded {
		t.boundCount.Add(1)
	}
}

// BoundCount returns the number of distinct bound ports observed.
func (t *Table) BoundCount() int {
	return int(t.boundCount.Load())
}

// HandleSocketEnter fires when a socket call starts. Only AF_INET
// datagram sockets are of interest.
func (t *Table) HandleSocketEnter(ctx *capture.HookContext) {
	if ctx.Family != unix.AF_INET || ctx.SockType&sockTypeMask != unix.SOCK_DGRAM {
		return
	}
	t.pendingSockets.Store(ctx.Task.TID, struct{}{})
}

// HandleSocketExit fires when the socket call returns. A negative
// return value is a failed creation; either way the pending marker for
// this thread is claimed exactly once.
func (t *Table) HandleSocketExit(ctx *capture.HookContext) {
	if _, ok := t.pendingSockets.LoadAndDelete(ctx.Task.TID); !ok {
		return
	}
	if ctx.FD < 0 {
		return
	}
	t.udpSockets.Store(sockKey{pid: ctx.Task.PID, fd: ctx.FD}, struct{}{})
}

// HandleBindEnter fires when a bind call starts. The requested port is
// only readable here; whether the bind sticks is known at exit.
func (t *Table) HandleBindEnter(ctx *capture.HookContext) {
	key := sockKey{pid: ctx.Task.PID, fd: ctx.FD}
	if _, ok := t.udpSockets.Load(key); !ok {
		return // not a tracked UDP socket
	}
	if ctx.Port == 0 {
		return // kernel-assigned ephemeral port, not a listener
	}
	t.pendingBinds.Store(ctx.Task.TID, pendingBind{key: key, port: ctx.Port})
}

// HandleBindExit fires when the bind call returns and marks the port
// bound on success.
func (t *Table) HandleBindExit(ctx *capture.HookContext) {
	v, ok := t.pendingBinds.LoadAndDelete(ctx.Task.TID)
	if !ok {
		return
	}
	if ctx.Ret != 0 {
		return
	}
	pb := v.(pendingBind)
	// The descriptor may have been closed between bind entry and exit.
	if _, ok := t.udpSockets.Load(pb.key); !ok {
		return
	}
	t.MarkBound(pb.port)
}

// HandleClose fires when a close call returns successfully and drops
// the descriptor from tracking. Ports already bound stay bound: the
// oracle answers for the port, not for any one socket holding it.
func (t *Table) HandleClose(ctx *capture.HookContext) {
	t.udpSockets.Delete(sockKey{pid: ctx.Task.PID, fd: ctx.FD})
}

// Probes enumerates the lifecycle choke points feeding the table.
func (t *Table) Probes() []capture.Probe {
	return []capture.Probe{
		{Hook: capture.HookSocket, Entry: t.HandleSocketEnter, Return: t.HandleSocketExit},
		{Hook: capture.HookBind, Entry: t.HandleBindEnter, Return: t.HandleBindExit},
		{Hook: capture.HookClose, Return: t.HandleClose},
	}
}

// Reset discards all state, including bound ports. Called on detach.
func (t *Table) Reset() {
	clearMap(&t.pendingSockets)
	clearMap(&t.udpSockets)
	clearMap(&t.pendingBinds)
	clearMap(&t.bound)
	t.boundCount.Store(0)
}

func clearMap(m *sync.Map) {
	m.Range(func(k, _ any) bool {
		m.Delete(k)
		return true
	})
}
