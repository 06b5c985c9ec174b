//go:build !deadlock

// Package sync provides mutex types that can be swapped for deadlock detection.
// Build with -tags deadlock to route every monitor and registry lock through
// go-deadlock.
package sync

import "sync"

// Mutex is the standard sync.Mutex in release builds.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex in release builds.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether locks are instrumented.
const DetectionEnabled = false
