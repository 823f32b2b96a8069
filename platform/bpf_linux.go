//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// linuxMonitor attaches the forwarding programs from the compiled BPF
// object to kprobes and syscall tracepoints and pumps the hook-event
// ring buffer through the dispatcher.
type linuxMonitor struct {
	coll     *ebpf.Collection
	links    []link.Link
	rd       *ringbuf.Reader
	dispatch *Dispatcher
}

// NewMonitor loads the BPF object and attaches every choke point.
func NewMonitor(cfg Config) (Monitor, error) {
	if cfg.Engine == nil || cfg.Ports == nil {
		return nil, errors.New("monitor needs an engine and a port-state table")
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("load BPF object %q: %w", cfg.ObjectPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("create BPF collection: %w", err)
	}

	m := &linuxMonitor{
		coll:     coll,
		dispatch: NewDispatcher(cfg.Engine.Probes(), cfg.Ports.Probes()),
	}

	if err := m.attach(); err != nil {
		m.Close()
		return nil, err
	}

	rd, err := ringbuf.NewReader(coll.Maps["hook_events"])
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("hook_events ringbuf reader: %w", err)
	}
	m.rd = rd

	return m, nil
}

// attach wires each forwarding program to its choke point. Attachment
// order matters only for the oracle: the lifecycle points go first so
// no datagram is classified before bind tracking is live.
func (m *linuxMonitor) attach() error {
	type tracepoint struct {
		group, name, prog string
	}
	for _, tp := range []tracepoint{
		{"syscalls", "sys_enter_socket", "tp_sys_enter_socket"},
		{"syscalls", "sys_exit_socket", "tp_sys_exit_socket"},
		{"syscalls", "sys_enter_bind", "tp_sys_enter_bind"},
		{"syscalls", "sys_exit_bind", "tp_sys_exit_bind"},
		{"syscalls", "sys_enter_close", "tp_sys_enter_close"},
		{"syscalls", "sys_exit_close", "tp_sys_exit_close"},
	} {
		lnk, err := link.Tracepoint(tp.group, tp.name, m.prog(tp.prog), nil)
		if err != nil {
			return fmt.Errorf("attach tracepoint %s/%s: %w", tp.group, tp.name, err)
		}
		m.links = append(m.links, lnk)
	}

	type kp struct {
		symbol string
		prog   string
		ret    bool
	}
	for _, k := range []kp{
		{"tcp_v4_connect", "kprobe_tcp_v4_connect", false},
		{"tcp_v4_connect", "kretprobe_tcp_v4_connect", true},
		{"inet_csk_accept", "kretprobe_inet_csk_accept", true},
		{"ip_make_skb", "kprobe_ip_make_skb", false},
		{"skb_consume_udp", "kprobe_skb_consume_udp", false},
	} {
		var (
			lnk link.Link
			err error
		)
		if k.ret {
			lnk, err = link.Kretprobe(k.symbol, m.prog(k.prog), nil)
		} else {
			lnk, err = link.Kprobe(k.symbol, m.prog(k.prog), nil)
		}
		if err != nil {
			return fmt.Errorf("attach %s to %s: %w", k.prog, k.symbol, err)
		}
		m.links = append(m.links, lnk)
	}
	return nil
}

func (m *linuxMonitor) prog(name string) *ebpf.Program {
	return m.coll.Programs[name]
}

// Run consumes hook events until the context is canceled. The reader
// blocks in the kernel, so cancellation closes it from a side
// goroutine.
func (m *linuxMonitor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.rd.Close()
	}()

	for {
		rec, err := m.rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read hook event: %w", err)
		}
		if rec.LostSamples > 0 {
			log.Printf("kernel dropped %d hook events", rec.LostSamples)
		}
		if err := m.dispatch.Dispatch(rec.RawSample); err != nil {
			// One bad sample aborts only itself.
			log.Printf("dispatch hook event: %v", err)
		}
	}
}

// Close detaches all links and releases the collection.
func (m *linuxMonitor) Close() {
	if m.rd != nil {
		m.rd.Close()
	}
	for _, lnk := range m.links {
		lnk.Close()
	}
	if m.coll != nil {
		m.coll.Close()
	}
}
