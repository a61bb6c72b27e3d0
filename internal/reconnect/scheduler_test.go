// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package reconnect

import (
	"sync"
	"testing"
	"time"
)

func TestSchedulerFiresInOrder(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}

	s.Schedule(time.Now().Add(60*time.Millisecond), record(3))
	s.Schedule(time.Now().Add(10*time.Millisecond), record(1))
	s.Schedule(time.Now().Add(30*time.Millisecond), record(2))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled callbacks did not all fire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected fire order [1 2 3], got %v", order)
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	h := s.Schedule(time.Now().Add(30*time.Millisecond), func() {
		fired <- struct{}{}
	})
	h.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled callback fired anyway")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSchedulerStopHaltsLoop(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{}, 1)
	s.Schedule(time.Now().Add(10*time.Millisecond), func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback before Stop did not fire")
	}

	s.Stop()
	// A second Stop or further use after Stop must not panic.
}
