// Package criteria matches registry records against dao list parameters.
package criteria

import (
	"strconv"

	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/worker"
	"github.com/viant/memlease/service/dao"
)

const (
	Hostname = "hostname"
	PID      = "pid"
	Class    = "class"
)

// Allocation reports whether a matches every recognised parameter. A
// hostname matches when a holds a chunk there; a pid matches the owner or
// any claimant.
func Allocation(a *allocation.Allocation, parameters []*dao.Parameter) bool {
	if hostnames, ok := dao.Lookup(Hostname, parameters); ok {
		matched := false
		for _, chunk := range a.Chunks {
			if contains(hostnames, chunk.Hostname) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if pids, ok := dao.Lookup(PID, parameters); ok {
		matched := false
		for _, candidate := range pids {
			if pid, err := strconv.Atoi(candidate); err == nil && a.HasPID(pid) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Worker matches by hostname and class name.
func Worker(w *worker.Worker, parameters []*dao.Parameter) bool {
	if hostnames, ok := dao.Lookup(Hostname, parameters); ok && !contains(hostnames, w.Hostname) {
		return false
	}
	if classes, ok := dao.Lookup(Class, parameters); ok && !contains(classes, w.Class.String()) {
		return false
	}
	return true
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
