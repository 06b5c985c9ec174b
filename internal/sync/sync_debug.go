//go:build deadlock

// Package sync provides mutex types that can be swapped for deadlock detection.
// Build with -tags deadlock to route every monitor and registry lock through
// go-deadlock.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex wraps go-deadlock.Mutex.
type Mutex = deadlock.Mutex

// RWMutex wraps go-deadlock.RWMutex.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether locks are instrumented.
const DetectionEnabled = true

func init() {
	// A monitor holds its lock for one file read plus one notifier call.
	deadlock.Opts.DeadlockTimeout = 30 * time.Second

	if os.Getenv("FILESENSOR_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	println("[DEADLOCK DETECTION ENABLED] Using go-deadlock for monitor locks")
}
