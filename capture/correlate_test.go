package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectStore_RegisterResolveRemove(t *testing.T) {
	s := NewConnectStore()
	sk := &SockInfo{SAddr: 1, DAddr: 2, DPort: 443}

	s.Register(7, sk)
	assert.Equal(t, 1, s.Len())

	got := s.ResolveAndRemove(7)
	require.NotNil(t, got)
	assert.Same(t, sk, got)
	assert.Equal(t, 0, s.Len())

	// Second resolve for the same thread is a miss, not an error.
	assert.Nil(t, s.ResolveAndRemove(7))
}

func TestConnectStore_MissForUnknownThread(t *testing.T) {
	s := NewConnectStore()
	assert.Nil(t, s.ResolveAndRemove(12345))
}

func TestConnectStore_OverwriteSameThread(t *testing.T) {
	s := NewConnectStore()
	first := &SockInfo{DPort: 80}
	second := &SockInfo{DPort: 443}

	s.Register(3, first)
	s.Register(3, second)
	assert.Equal(t, 1, s.Len())

	got := s.ResolveAndRemove(3)
	require.NotNil(t, got)
	assert.Same(t, second, got)
}

func TestConnectStore_ConcurrentThreadsDoNotInterfere(t *testing.T) {
	const threads = 64
	s := NewConnectStore()

	var wg sync.WaitGroup
	wg.Add(threads)
	for tid := uint32(0); tid < threads; tid++ {
		go func(tid uint32) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sk := &SockInfo{DAddr: tid, DPort: uint16(i)}
				s.Register(tid, sk)
				got := s.ResolveAndRemove(tid)
				// Entries are keyed per thread: a thread always gets
				// back exactly what it registered.
				if assert.NotNil(t, got) {
					assert.Equal(t, tid, got.DAddr)
					assert.Equal(t, uint16(i), got.DPort)
				}
			}
		}(tid)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len(), "no entry may outlive its connect attempt")
}

func TestConnectStore_Reset(t *testing.T) {
	s := NewConnectStore()
	for tid := uint32(0); tid < 10; tid++ {
		s.Register(tid, &SockInfo{})
	}
	require.Equal(t, 10, s.Len())

	s.Reset()
	assert.Equal(t, 0, s.Len())
}
