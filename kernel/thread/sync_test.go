package thread

import (
	"testing"
)

func TestSemaphoreWakesHighestPriorityWaiterFirst(t *testing.T) {
	s := NewScheduler()
	rec := &recorder{}
	sem := NewSemaphore(0)

	started := make(chan struct{}, 3)
	s.Create("waiter-low", 10, func(tcb *TCB) {
		started <- struct{}{}
		sem.Down(s)
		rec.log("low-woke")
		s.Exit(tcb)
	})
	s.Create("waiter-high", 30, func(tcb *TCB) {
		started <- struct{}{}
		sem.Down(s)
		rec.log("high-woke")
		s.Exit(tcb)
	})
	s.Create("waiter-mid", 20, func(tcb *TCB) {
		started <- struct{}{}
		sem.Down(s)
		rec.log("mid-woke")
		s.Exit(tcb)
	})

	// Run() dispatches all three in priority order; each blocks on the
	// empty semaphore in turn and the ready queue drains to idle.
	s.Run()
	for i := 0; i < 3; i++ {
		<-started
	}

	sem.Up(s)
	sem.Up(s)
	sem.Up(s)

	got := rec.snapshot()
	want := []string{"high-woke", "mid-woke", "low-woke"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLockTryAcquireFailsWhileHeld(t *testing.T) {
	s := NewScheduler()
	lock := NewLock()
	rec := &recorder{}
	acquired := make(chan struct{})

	holder := s.Create("holder", 20, func(tcb *TCB) {
		lock.Acquire(s)
		close(acquired)
		s.Block()
		lock.Release(s)
		rec.log("holder-released")
		s.Exit(tcb)
	})
	s.Run()
	<-acquired

	if lock.TryAcquire(s) {
		t.Fatal("expected TryAcquire to fail while lock is held")
	}

	s.Unblock(holder)
	s.Run()

	if got := rec.snapshot(); len(got) != 1 || got[0] != "holder-released" {
		t.Fatalf("expected holder to release the lock, got %v", got)
	}
	if !lock.TryAcquire(s) {
		t.Fatal("expected TryAcquire to succeed once the lock is released")
	}
}

func TestLockAcquireRecursivePanics(t *testing.T) {
	s := NewScheduler()
	lock := NewLock()
	done := make(chan struct{})

	s.Create("self", 20, func(tcb *TCB) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic on recursive lock acquisition")
			}
			close(done)
			s.Exit(tcb)
		}()
		lock.Acquire(s)
		lock.Acquire(s)
	})
	s.Run()
	<-done
}

func TestCondSignalWakesSingleWaiterInPriorityOrder(t *testing.T) {
	s := NewScheduler()
	lock := NewLock()
	cond := NewCond()
	rec := &recorder{}
	ready := make(chan struct{}, 2)

	s.Create("waiter-low", 10, func(tcb *TCB) {
		lock.Acquire(s)
		ready <- struct{}{}
		cond.Wait(s, lock)
		rec.log("low-woke")
		lock.Release(s)
		s.Exit(tcb)
	})
	s.Create("waiter-high", 30, func(tcb *TCB) {
		lock.Acquire(s)
		ready <- struct{}{}
		cond.Wait(s, lock)
		rec.log("high-woke")
		lock.Release(s)
		s.Exit(tcb)
	})

	s.Run()
	<-ready
	<-ready

	s.Create("signaler", 40, func(tcb *TCB) {
		lock.Acquire(s)
		cond.Signal(s, lock)
		lock.Release(s)
		s.Exit(tcb)
	})
	s.Run()

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "high-woke" {
		t.Fatalf("expected only the higher-priority waiter to wake on Signal, got %v", got)
	}

	s.Create("signaler2", 40, func(tcb *TCB) {
		lock.Acquire(s)
		cond.Signal(s, lock)
		lock.Release(s)
		s.Exit(tcb)
	})
	s.Run()

	got = rec.snapshot()
	if len(got) != 2 || got[1] != "low-woke" {
		t.Fatalf("expected the remaining waiter to wake on the second Signal, got %v", got)
	}
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	s := NewScheduler()
	lock := NewLock()
	cond := NewCond()
	rec := &recorder{}
	ready := make(chan struct{}, 2)

	s.Create("a", 10, func(tcb *TCB) {
		lock.Acquire(s)
		ready <- struct{}{}
		cond.Wait(s, lock)
		rec.log("a-woke")
		lock.Release(s)
		s.Exit(tcb)
	})
	s.Create("b", 20, func(tcb *TCB) {
		lock.Acquire(s)
		ready <- struct{}{}
		cond.Wait(s, lock)
		rec.log("b-woke")
		lock.Release(s)
		s.Exit(tcb)
	})

	s.Run()
	<-ready
	<-ready

	s.Create("broadcaster", 30, func(tcb *TCB) {
		lock.Acquire(s)
		cond.Broadcast(s, lock)
		lock.Release(s)
		s.Exit(tcb)
	})
	s.Run()

	got := rec.snapshot()
	want := []string{"b-woke", "a-woke"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
