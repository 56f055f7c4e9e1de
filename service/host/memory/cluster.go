// Package memory provides a simulated cluster used by tests and by the
// default runtime configuration.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/service/host"
)

type Cluster struct {
	mu      sync.RWMutex
	hosts   map[string]ram.Ram
	procs   map[int]*host.Process
	nextPID int
}

func New() *Cluster {
	return &Cluster{
		hosts:   make(map[string]ram.Ram),
		procs:   make(map[int]*host.Process),
		nextPID: 1000,
	}
}

// AddHost adds or resizes a host.
func (c *Cluster) AddHost(hostname string, total ram.Ram) *Cluster {
	c.mu.Lock()
	c.hosts[hostname] = total
	c.mu.Unlock()
	return c
}

// Start launches a simulated process and returns its pid.
func (c *Cluster) Start(hostname, filename string, size ram.Ram, args ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hosts[hostname]; !ok {
		return 0, fmt.Errorf("%w: %s", host.ErrUnknownHost, hostname)
	}
	c.nextPID++
	pid := c.nextPID
	c.procs[pid] = &host.Process{PID: pid, Hostname: hostname, Filename: filename, Args: args, Ram: size}
	return pid, nil
}

// Kill terminates a simulated process; unknown pids are ignored.
func (c *Cluster) Kill(pid int) {
	c.mu.Lock()
	delete(c.procs, pid)
	c.mu.Unlock()
}

func (c *Cluster) TotalRam(ctx context.Context, hostname string) (ram.Ram, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total, ok := c.hosts[hostname]
	if !ok {
		return 0, fmt.Errorf("%w: %s", host.ErrUnknownHost, hostname)
	}
	return total, nil
}

func (c *Cluster) ListProcesses(ctx context.Context, hostname string) ([]*host.Process, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.hosts[hostname]; !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrUnknownHost, hostname)
	}
	var ret []*host.Process
	for _, proc := range c.procs {
		if proc.Hostname == hostname {
			clone := *proc
			clone.Args = append([]string(nil), proc.Args...)
			ret = append(ret, &clone)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].PID < ret[j].PID })
	return ret, nil
}

func (c *Cluster) IsRunning(ctx context.Context, pid int) (bool, error) {
	c.mu.RLock()
	_, ok := c.procs[pid]
	c.mu.RUnlock()
	return ok, nil
}

var _ host.Oracle = (*Cluster)(nil)
