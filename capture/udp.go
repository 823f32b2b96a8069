package capture

// UDP capture path.
//
// UDP is connectionless, so each hook invocation stands alone: no
// correlation entry, one record per datagram. Both hooks classify the
// flow by asking the Port Binding Oracle about the candidate local
// port, then orient the record so that the source is the initiating
// endpoint and the destination the bound one.
//
// The send path reads addresses from the resolved route rather than
// the socket, which may be unbound on a listening datagram socket. The
// receive path reads them from the packet headers.

// HandleUDPSend fires on the UDP send choke point.
func (e *Engine) HandleUDPSend(ctx *HookContext) {
	if !e.attached.Load() || ctx.Sock == nil || ctx.Route == nil {
		return
	}
	sk, rt := ctx.Sock, ctx.Route

	if e.oracle.IsBound(sk.SPort) {
		// Local side listens: the datagram is a reply. Swap so the
		// remote peer reads as the source.
		e.emit(HookUDPSend, &ctx.Task, DirectionPassive, Htons(sk.SPort), rt.DAddr, rt.SAddr, ProtoUDP)
		return
	}
	// Local side initiates: the peer's service port is the flow's
	// listening port.
	e.emit(HookUDPSend, &ctx.Task, DirectionActive, sk.DPort, rt.SAddr, rt.DAddr, ProtoUDP)
}

// HandleUDPRecv fires on the UDP receive choke point.
func (e *Engine) HandleUDPRecv(ctx *HookContext) {
	if !e.attached.Load() || ctx.Packet == nil {
		return
	}
	pkt := ctx.Packet

	if e.oracle.IsBound(Ntohs(pkt.DPort)) {
		// Datagram arriving at a bound port: already remote-to-local.
		e.emit(HookUDPRecv, &ctx.Task, DirectionPassive, pkt.DPort, pkt.SAddr, pkt.DAddr, ProtoUDP)
		return
	}
	// Reply to a locally-initiated exchange: reorient local-to-remote;
	// the sender's source port is the remote service port.
	e.emit(HookUDPRecv, &ctx.Task, DirectionActive, pkt.SPort, pkt.DAddr, pkt.SAddr, ProtoUDP)
}
