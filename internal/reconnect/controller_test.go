// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/desyncr/mamircd/internal/profile"
)

func testServers() []profile.Server {
	return []profile.Server{
		{Host: "a.example", Port: 6667},
		{Host: "b.example", Port: 6667},
	}
}

func TestControllerStartFiresImmediatelyAtServerZero(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	var mu sync.Mutex
	var got []profile.Server
	done := make(chan struct{}, 1)

	c := New(sched, func(profileName string, server profile.Server) {
		mu.Lock()
		got = append(got, server)
		mu.Unlock()
		done <- struct{}{}
	})

	c.Start("net1", testServers())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not fire an immediate connect attempt")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Host != "a.example" {
		t.Fatalf("expected first attempt at a.example, got %+v", got)
	}
}

func TestControllerStartIsIdempotentWhilePending(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	var calls int
	var mu sync.Mutex
	c := New(sched, func(profileName string, server profile.Server) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	c.Start("net1", testServers())
	c.Start("net1", testServers()) // second call should be a no-op

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly 1 immediate attempt, got %d", calls)
	}
}

func TestControllerNotifyFailedRotatesServerIndex(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	attempts := make(chan profile.Server, 4)
	c := New(sched, func(profileName string, server profile.Server) {
		attempts <- server
	})

	c.Start("net1", testServers())

	select {
	case s := <-attempts:
		if s.Host != "a.example" {
			t.Fatalf("expected first attempt a.example, got %s", s.Host)
		}
	case <-time.After(time.Second):
		t.Fatal("did not see first attempt")
	}

	c.NotifyFailed("net1", testServers())

	select {
	case s := <-attempts:
		if s.Host != "b.example" {
			t.Fatalf("expected rotated attempt b.example, got %s", s.Host)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("did not see rotated retry attempt")
	}
}

func TestControllerNotifyRegisteredCancelsPending(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	attempts := make(chan profile.Server, 4)
	c := New(sched, func(profileName string, server profile.Server) {
		attempts <- server
	})

	c.Start("net1", testServers())
	<-attempts // drain the immediate first attempt

	c.NotifyFailed("net1", testServers()) // schedules a retry ~2s out (doubled from the 1s initial delay)
	c.NotifyRegistered("net1")            // should cancel it

	select {
	case s := <-attempts:
		t.Fatalf("expected no further attempts after NotifyRegistered, got %+v", s)
	case <-time.After(2500 * time.Millisecond):
	}
}

func TestControllerCancelStopsPending(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	attempts := make(chan profile.Server, 4)
	c := New(sched, func(profileName string, server profile.Server) {
		attempts <- server
	})

	c.Start("net1", testServers())
	<-attempts

	c.NotifyFailed("net1", testServers())
	c.Cancel("net1")

	select {
	case s := <-attempts:
		t.Fatalf("expected no further attempts after Cancel, got %+v", s)
	case <-time.After(2500 * time.Millisecond):
	}
}
