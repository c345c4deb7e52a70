// Package lock provides the reader/writer lock used to guard each
// repository's working directory.
package lock

import "sync"

// RWMutex is a multiple-reader / single-writer lock with writer priority.
// Readers are blocked while a writer is active or waiting, so a sync that
// rewrites the working tree is never starved by a continuous stream of
// document reads. While a writer holds the lock no reader can observe the
// tree.
//
// The zero value is an unlocked RWMutex ready for use.
type RWMutex struct {
	mu             sync.Mutex
	readCond       *sync.Cond
	writeCond      *sync.Cond
	readers        int
	readersWaiting int
	writersWaiting int
	writerActive   bool
}

// lazyInit must be called with mu held.
func (l *RWMutex) lazyInit() {
	if l.readCond == nil {
		l.readCond = sync.NewCond(&l.mu)
		l.writeCond = sync.NewCond(&l.mu)
	}
}

// RLock acquires the read side. It blocks while a writer is active or any
// writer is waiting.
func (l *RWMutex) RLock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()

	for l.writerActive || l.writersWaiting > 0 {
		l.readersWaiting++
		l.readCond.Wait()
		l.readersWaiting--
	}
	l.readers++
}

// RUnlock releases the read side. The last reader out wakes one waiting
// writer if any, otherwise all waiting readers.
func (l *RWMutex) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()

	if l.readers <= 0 {
		panic("lock: RUnlock of unlocked RWMutex")
	}
	l.readers--
	if l.readers == 0 {
		if l.writersWaiting > 0 {
			l.writeCond.Signal()
		} else if l.readersWaiting > 0 {
			l.readCond.Broadcast()
		}
	}
}

// Lock acquires the write side. It blocks while any reader holds the lock or
// another writer is active. Registering as a waiting writer also holds off
// new readers.
func (l *RWMutex) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()

	l.writersWaiting++
	for l.readers > 0 || l.writerActive {
		l.writeCond.Wait()
	}
	l.writersWaiting--
	l.writerActive = true
}

// TryLock acquires the write side without blocking. It reports whether the
// lock was acquired.
func (l *RWMutex) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()

	if l.readers > 0 || l.writerActive {
		return false
	}
	l.writerActive = true
	return true
}

// Unlock releases the write side and wakes one waiting writer if any,
// otherwise all waiting readers.
func (l *RWMutex) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()

	if !l.writerActive {
		panic("lock: Unlock of unlocked RWMutex")
	}
	l.writerActive = false
	if l.writersWaiting > 0 {
		l.writeCond.Signal()
	} else if l.readersWaiting > 0 {
		l.readCond.Broadcast()
	}
}
