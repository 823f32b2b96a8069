package capture

import "sync"

// ConnectStore correlates the entry and return hooks of an in-flight
// outbound connect attempt. It maps the calling thread id to the raw
// socket identity captured at entry; the return hook claims the entry
// atomically so that every registration is removed exactly once,
// whichever way the connect finishes.
//
// Entries are keyed per calling thread, so concurrent connect attempts
// never contend beyond normal concurrent-map discipline.
type ConnectStore struct {
	m sync.Map // tid (uint32) -> *SockInfo
}

// NewConnectStore returns an empty store.
func NewConnectStore() *ConnectStore {
	return &ConnectStore{}
}

// Register records the in-flight socket for tid, overwriting any
// previous entry for the same thread.
func (s *ConnectStore) Register(tid uint32, sk *SockInfo) {
	s.m.Store(tid, sk)
}

// ResolveAndRemove atomically looks up and deletes the entry for tid.
// Returns nil when the thread has no tracked attempt; that is a normal
// outcome, not an error.
func (s *ConnectStore) ResolveAndRemove(tid uint32) *SockInfo {
	v, ok := s.m.LoadAndDelete(tid)
	if !ok {
		return nil
	}
	return v.(*SockInfo)
}

// Len counts the live entries. Intended for detach draining and tests,
// not for the hot path.
func (s *ConnectStore) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset discards all entries. Called when the engine detaches so that
// no in-flight attempt outlives the hooks that would resolve it.
func (s *ConnectStore) Reset() {
	s.m.Range(func(k, _ any) bool {
		s.m.Delete(k)
		return true
	})
}
