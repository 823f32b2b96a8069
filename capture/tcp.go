package capture

// TCP capture path.
//
// Outbound connects are observed as an entry/return pair: the entry
// hook fires before the destination fields are resolvable, so it only
// registers the attempt against the calling thread; the return hook
// claims the registration, carries the resolved socket snapshot, and
// decides whether a record is warranted. Accepted connections are
// fully resolved at the single return hook of the accept path and need
// no correlation.

// HandleConnectEntry fires at the start of an outbound connect. It
// never emits.
func (e *Engine) HandleConnectEntry(ctx *HookContext) {
	if !e.attached.Load() || ctx.Sock == nil {
		return
	}
	e.connects.Register(ctx.Task.TID, ctx.Sock)
	e.diag.Eventf(HookTCPConnect, "entry tid=%d", ctx.Task.TID)
}

// HandleConnectReturn fires when the connect call finishes. A missing
// correlation entry means the attempt was never tracked or was already
// handled, and is a silent no-op. A failed connect removes the entry
// without emitting.
func (e *Engine) HandleConnectReturn(ctx *HookContext) {
	if !e.attached.Load() {
		return
	}
	sk := e.connects.ResolveAndRemove(ctx.Task.TID)
	if sk == nil {
		return
	}
	if ctx.Ret != 0 {
		e.diag.Eventf(HookTCPConnect, "return tid=%d ret=%d discarded", ctx.Task.TID, ctx.Ret)
		return
	}
	// The socket's destination fields are populated during the call
	// itself, so a return-time snapshot supersedes whatever the entry
	// hook saw.
	if ctx.Sock != nil {
		sk = ctx.Sock
	}
	e.emit(HookTCPConnect, &ctx.Task, DirectionActive, sk.DPort, sk.SAddr, sk.DAddr, ProtoTCP)
}

// HandleAcceptReturn fires when an accept returns. A nil socket is a
// spurious or failed accept and a no-op.
func (e *Engine) HandleAcceptReturn(ctx *HookContext) {
	if !e.attached.Load() || ctx.Sock == nil {
		return
	}
	sk := ctx.Sock
	// skc_num is host order in the socket; the record carries network
	// byte order throughout.
	e.emit(HookTCPAccept, &ctx.Task, DirectionPassive, Htons(sk.SPort), sk.SAddr, sk.DAddr, ProtoTCP)
}
