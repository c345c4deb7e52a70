package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRWMutex_concurrentReaders(t *testing.T) {
	var l RWMutex
	var active, peak int32

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RLock()
			n := atomic.AddInt32(&active, 1)
			// track the highest number of concurrent readers seen
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			l.RUnlock()
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("expected readers to overlap, peak concurrent readers: %d", peak)
	}
}

func TestRWMutex_writerExcludesReaders(t *testing.T) {
	var l RWMutex
	var writerActive atomic.Bool

	l.Lock()
	writerActive.Store(true)

	readDone := make(chan bool)
	go func() {
		l.RLock()
		readDone <- writerActive.Load()
		l.RUnlock()
	}()

	select {
	case <-readDone:
		t.Fatal("reader acquired lock while writer active")
	case <-time.After(50 * time.Millisecond):
	}

	writerActive.Store(false)
	l.Unlock()

	if sawWriter := <-readDone; sawWriter {
		t.Error("reader observed active writer")
	}
}

// A waiting writer must block new readers, so it acquires the lock in
// bounded time even under continuous read load.
func TestRWMutex_writerPriority(t *testing.T) {
	var l RWMutex

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// continuous read load
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l.RLock()
				time.Sleep(time.Millisecond)
				l.RUnlock()
			}
		}()
	}

	// let readers spin up
	time.Sleep(10 * time.Millisecond)

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("writer starved by continuous readers")
	}

	close(stop)
	wg.Wait()
}

func TestRWMutex_newReadersWaitForQueuedWriter(t *testing.T) {
	var l RWMutex

	l.RLock()

	writerAcquired := make(chan struct{})
	go func() {
		l.Lock()
		close(writerAcquired)
		time.Sleep(20 * time.Millisecond)
		l.Unlock()
	}()

	// give the writer time to queue up behind the reader
	time.Sleep(20 * time.Millisecond)

	var readerOrder atomic.Int32
	readerAcquired := make(chan struct{})
	go func() {
		l.RLock()
		// by the time a late reader gets in, the queued writer must
		// have had its turn
		select {
		case <-writerAcquired:
		default:
			readerOrder.Store(1)
		}
		l.RUnlock()
		close(readerAcquired)
	}()

	time.Sleep(20 * time.Millisecond)
	l.RUnlock()

	<-readerAcquired
	if readerOrder.Load() != 0 {
		t.Error("late reader overtook queued writer")
	}
}

func TestRWMutex_TryLock(t *testing.T) {
	var l RWMutex

	if !l.TryLock() {
		t.Fatal("TryLock failed on unlocked mutex")
	}
	if l.TryLock() {
		t.Fatal("TryLock succeeded while writer active")
	}
	l.Unlock()

	l.RLock()
	if l.TryLock() {
		t.Fatal("TryLock succeeded while reader active")
	}
	l.RUnlock()

	if !l.TryLock() {
		t.Fatal("TryLock failed after locks released")
	}
	l.Unlock()
}
