// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package reconnect

import (
	"sync"
	"time"

	"github.com/desyncr/mamircd/internal/profile"
)

const (
	initialDelay = 1 * time.Second
	maxDelay     = 200 * time.Second
)

// ConnectFunc requests that the orchestrator ask the Connection Manager
// to dial server on behalf of profileName. It must not block.
type ConnectFunc func(profileName string, server profile.Server)

type profileState struct {
	serverIndex int
	delay       time.Duration
	pending     *Handle
}

// Controller is spec.md §4.7's per-profile (next-server-index,
// current-delay) backoff state machine, sharing one Scheduler with
// whatever else in the Processor needs (fire-at, callback) timers.
type Controller struct {
	sched   *Scheduler
	connect ConnectFunc

	mu     sync.Mutex
	states map[string]*profileState
}

// New builds a Controller driven by sched, calling connect on every
// scheduled attempt.
func New(sched *Scheduler, connect ConnectFunc) *Controller {
	return &Controller{
		sched:   sched,
		connect: connect,
		states:  make(map[string]*profileState),
	}
}

// Start begins (or resumes) the reconnect cycle for profileName: per
// spec.md §4.7, the first attempt fires immediately at (server-index 0,
// delay 1000ms) waiting to apply. A profile already being retried is
// left alone.
func (c *Controller) Start(profileName string, servers []profile.Server) {
	if len(servers) == 0 {
		return
	}

	c.mu.Lock()
	if _, exists := c.states[profileName]; exists {
		c.mu.Unlock()
		return
	}
	c.states[profileName] = &profileState{serverIndex: 0, delay: initialDelay}
	c.mu.Unlock()

	c.scheduleAttempt(profileName, servers, 0)
}

// NotifyFailed reports that the most recent connection attempt for
// profileName ended without reaching REGISTERED (the socket never
// opened, or it closed before registration completed). It rotates the
// server index, doubles the delay (capped at 200s), and schedules the
// next attempt at that just-doubled value.
func (c *Controller) NotifyFailed(profileName string, servers []profile.Server) {
	if len(servers) == 0 {
		return
	}

	c.mu.Lock()
	st, ok := c.states[profileName]
	if !ok {
		st = &profileState{serverIndex: 0, delay: initialDelay}
		c.states[profileName] = st
	}
	st.serverIndex = (st.serverIndex + 1) % len(servers)
	st.delay *= 2
	if st.delay > maxDelay {
		st.delay = maxDelay
	}
	fireDelay := st.delay
	c.mu.Unlock()

	c.scheduleAttempt(profileName, servers, fireDelay)
}

// NotifyRegistered clears a profile's backoff state on a successful
// registration, per spec.md §4.7.
func (c *Controller) NotifyRegistered(profileName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[profileName]; ok {
		if st.pending != nil {
			st.pending.Cancel()
		}
		delete(c.states, profileName)
	}
}

// Cancel stops any pending retry for profileName without attempting a
// connection, used when a profile's "connect" flag is turned off or the
// profile is removed entirely.
func (c *Controller) Cancel(profileName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[profileName]; ok {
		if st.pending != nil {
			st.pending.Cancel()
		}
		delete(c.states, profileName)
	}
}

// Stop halts the shared scheduler entirely, per spec.md §5's "termination
// cancels the timer".
func (c *Controller) Stop() {
	c.sched.Stop()
}

func (c *Controller) scheduleAttempt(profileName string, servers []profile.Server, delay time.Duration) {
	h := c.sched.Schedule(time.Now().Add(delay), func() {
		c.mu.Lock()
		st, ok := c.states[profileName]
		if !ok {
			c.mu.Unlock()
			return
		}
		server := servers[st.serverIndex%len(servers)]
		c.mu.Unlock()

		c.connect(profileName, server)
	})

	c.mu.Lock()
	if st, ok := c.states[profileName]; ok {
		st.pending = &h
	}
	c.mu.Unlock()
}
