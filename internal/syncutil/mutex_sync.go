//go:build !deadlock

// Package syncutil provides the mutex types used by the handle, the callback
// registry and the secure element channel. Plain sync types are used unless
// the module is built with -tags=deadlock, which swaps in
// github.com/sasha-s/go-deadlock to catch lock order inversions between the
// config mutex and the registry lock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.RWMutex to expose its interface
type RWMutex struct {
	sync.RWMutex
}
