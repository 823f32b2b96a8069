package capture

// HookPoint names a kernel choke point the engine instruments. The
// names follow the kernel symbols so that substrate adapters can map
// them directly onto kprobes or tracepoints.
type HookPoint string

const (
	HookTCPConnect HookPoint = "tcp_v4_connect"
	HookTCPAccept  HookPoint = "inet_csk_accept"
	HookUDPSend    HookPoint = "ip_make_skb"
	HookUDPRecv    HookPoint = "skb_consume_udp"
	HookSocket     HookPoint = "sys_socket"
	HookBind       HookPoint = "sys_bind"
	HookClose      HookPoint = "sys_close"
)

// HookContext is what a substrate hands to a handler when a hook
// fires: the calling task plus whichever raw structures the choke
// point exposes. Fields not meaningful at a given hook are left zero.
type HookContext struct {
	Task Task

	// Sock is the raw socket at tcp_v4_connect return, inet_csk_accept
	// return, and ip_make_skb. Nil models a NULL or still-unresolved
	// socket.
	Sock *SockInfo

	// Route carries resolved addresses on the UDP send path.
	Route *RouteInfo

	// Packet carries header fields on the UDP receive path.
	Packet *PacketInfo

	// Ret is the call's return value at a return hook.
	Ret int32

	// FD and Addr describe the socket/bind/close lifecycle hooks.
	FD       int32
	Family   int32
	SockType int32
	Port     uint16
}

// Handler is one hook handler. Handlers run synchronously on the
// calling path, do bounded local work only, and never block, sleep, or
// return an error: a handler that cannot make sense of its context
// completes as a no-op.
type Handler func(ctx *HookContext)

// Probe binds an entry and/or return handler to a named choke point,
// the user-space rendering of a kprobe/kretprobe pair. A substrate
// adapter invokes Entry when the instrumented call starts and Return
// when it finishes.
type Probe struct {
	Hook   HookPoint
	Entry  Handler
	Return Handler
}
