// Package clock lets tests pin the time seen by leases and events.
package clock

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current time, or the frozen time while a test holds one.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// Since is Now().Sub(t).
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Set installs fn as the time source and returns a restore function.
func Set(fn func() time.Time) (restore func()) {
	mu.Lock()
	prev := nowFunc
	nowFunc = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		nowFunc = prev
		mu.Unlock()
	}
}
