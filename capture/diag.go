package capture

import "fmt"

// Diag is the diagnostic sink for hook handlers. Implementations must
// be non-blocking and best-effort: a diagnostic that cannot be
// delivered is discarded. Diag output is never part of the data
// contract.
type Diag interface {
	Eventf(hook HookPoint, format string, args ...any)
}

// NopDiag discards all diagnostics.
type NopDiag struct{}

func (NopDiag) Eventf(HookPoint, string, ...any) {}

// ChanDiag buffers formatted diagnostics on a bounded channel and
// drops them when the channel is full. The channel can be drained by
// whatever logging surface the host wires up.
type ChanDiag struct {
	C chan string
}

// NewChanDiag creates a ChanDiag with the given buffer size.
func NewChanDiag(size int) *ChanDiag {
	return &ChanDiag{C: make(chan string, size)}
}

func (d *ChanDiag) Eventf(hook HookPoint, format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", hook, fmt.Sprintf(format, args...))
	select {
	case d.C <- msg:
	default:
	}
}
