package iogate

import (
	"sync"
	"testing"
	"time"
)

func TestReentrantAcquire(t *testing.T) {
	g := New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r1 := g.Acquire()
		r2 := g.Acquire() // nested acquisition must not deadlock
		r3 := g.Acquire()
		r3()
		r2()
		r1()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested acquisition deadlocked")
	}
}

func TestMutualExclusion(t *testing.T) {
	g := New()

	const workers = 8
	const iterations = 200

	var wg sync.WaitGroup
	counter := 0 // protected only by the gate

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release := g.Acquire()
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d; gate admitted concurrent holders", counter, workers*iterations)
	}
}

func TestWaiterBlocksUntilDepthZero(t *testing.T) {
	g := New()

	holderNested := make(chan struct{})
	releaseOuter := make(chan struct{})
	waiterIn := make(chan struct{})

	go func() {
		r1 := g.Acquire()
		r2 := g.Acquire()
		close(holderNested)
		r2()
		<-releaseOuter
		r1()
	}()

	<-holderNested
	go func() {
		release := g.Acquire()
		close(waiterIn)
		release()
	}()

	// The inner release alone must not admit the waiter.
	select {
	case <-waiterIn:
		t.Fatal("waiter entered while outer acquisition was still held")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseOuter)
	select {
	case <-waiterIn:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never admitted after full release")
	}
}

func TestDo(t *testing.T) {
	g := New()

	ran := false
	err := g.Do(func() error {
		ran = true
		// Nesting through Do must work as well.
		return g.Do(func() error { return nil })
	})
	if err != nil {
		t.Errorf("Do returned error: %v", err)
	}
	if !ran {
		t.Error("Do did not run the function")
	}
}

func TestReleaseByNonOwnerPanics(t *testing.T) {
	g := New()
	release := g.Acquire()

	stolen := make(chan func(), 1)
	stolen <- release

	panicked := make(chan bool, 1)
	go func() {
		defer func() {
			panicked <- recover() != nil
		}()
		r := <-stolen
		r()
	}()

	if !<-panicked {
		t.Error("release from a different goroutine should panic")
	}

	// The rightful owner can still release.
	release()
}

func TestGoroutineIDStable(t *testing.T) {
	if goroutineID() != goroutineID() {
		t.Error("goroutineID changed between calls on the same goroutine")
	}

	otherID := make(chan int, 1)
	go func() { otherID <- goroutineID() }()
	if id := <-otherID; id == goroutineID() {
		t.Error("distinct goroutines reported the same id")
	}
}
