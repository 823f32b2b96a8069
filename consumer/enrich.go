package consumer

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessNames resolves pids to full process names. The task name
// snapshot in a flow record is truncated to 15 characters; the live
// process table has the full name, at the price of a lookup that must
// stay off the capture path. Results are LRU-cached either way.
type ProcessNames struct {
	cache  *lru.Cache
	lookup func(pid int32) (string, error)
}

// NewProcessNames creates a resolver with the given cache size.
func NewProcessNames(size int) (*ProcessNames, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("process name cache: %w", err)
	}
	return &ProcessNames{cache: cache, lookup: lookupName}, nil
}

func lookupName(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Name()
}

// Resolve returns the best available name for pid. The snapshot wins
// when the process is already gone; a resolved name is cached so a
// chatty process costs one lookup.
func (n *ProcessNames) Resolve(pid uint32, snapshot string) string {
	if v, ok := n.cache.Get(pid); ok {
		return v.(string)
	}
	name, err := n.lookup(int32(pid))
	if err != nil || name == "" {
		// Process exited between capture and drain; the snapshot is
		// all there is. Don't cache: the pid may be reused.
		return snapshot
	}
	n.cache.Add(pid, name)
	return name
}
