// Package symlock serializes work on a single symbol across the analysis cycle and the order monitor.
package symlock

import (
	"strings"
	"sync"
)

// Locker hands out one mutex per symbol. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates a Locker
func New() *Locker {
	return &Locker{}
}

// Lock blocks until the symbol is free and returns the matching unlock func
func (l *Locker) Lock(symbol string) func() {
	key := strings.ToUpper(symbol)

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entry)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// WithLock runs fn while holding the symbol's lock
func (l *Locker) WithLock(symbol string, fn func() error) error {
	unlock := l.Lock(symbol)
	defer unlock()
	return fn()
}

// Held returns the number of symbols currently locked or waited on
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
