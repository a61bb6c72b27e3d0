// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package feed implements the Update Feed (spec.md §4.6): a global
// monotonic stream of state-mutation notifications, with a bounded
// retention window and a long-poll wait primitive.
package feed

import (
	"errors"
	"sync"
	"time"
)

// MaxRetained is the buffer size threshold; once exceeded the oldest half
// is dropped, per spec.md §4.6.
const MaxRetained = 10000

// ErrOutOfRange is returned by GetUpdates when start_id is outside the
// retained suffix (or negative/greater than nextUpdateId); the API layer
// translates this into the "null, resync" response.
var ErrOutOfRange = errors.New("feed: start_id out of range")

// Kind tags an Update's payload, matching spec.md §3's Update type list.
// On the wire an Update is a JSON object whose "kind" field carries this
// tag; updates are not encoded as tagged JSON arrays.
type Kind string

const (
	KindAppend       Kind = "APPEND"
	KindMyNick       Kind = "MYNICK"
	KindJoined       Kind = "JOINED"
	KindParted       Kind = "PARTED"
	KindKicked       Kind = "KICKED"
	KindConnected    Kind = "CONNECTED"
	KindDisconnected Kind = "DISCONNECTED"
	KindOpenWin      Kind = "OPENWIN"
	KindCloseWin     Kind = "CLOSEWIN"
	KindMarkRead     Kind = "MARKREAD"
	KindClearLines   Kind = "CLEARLINES"
)

// Update is one entry on the feed.
type Update struct {
	ID      int64 `json:"id"`
	Kind    Kind  `json:"kind"`
	Profile string `json:"profile"`
	Party   string `json:"party"`
	Payload any    `json:"payload"` // concrete shape depends on Kind; marshaled by encoding/json as is
}

// Feed is the monotonic update stream. Safe for concurrent use.
type Feed struct {
	mu     sync.Mutex
	notify chan struct{} // closed and replaced on every Append/Close
	nextID int64
	buf    []Update // always represents a contiguous suffix of issued ids
	closed bool
}

// New constructs an empty Feed.
func New() *Feed {
	return &Feed{notify: make(chan struct{})}
}

// Append stores payload as the next update, notifies waiters, and evicts
// the oldest half of the buffer if it has grown past MaxRetained.
func (f *Feed) Append(kind Kind, profile, party string, payload any) Update {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := Update{ID: f.nextID, Kind: kind, Profile: profile, Party: party, Payload: payload}
	f.nextID++
	f.buf = append(f.buf, u)

	if len(f.buf) > MaxRetained {
		drop := len(f.buf) / 2
		f.buf = f.buf[drop:]
	}

	f.wakeLocked()
	return u
}

func (f *Feed) wakeLocked() {
	close(f.notify)
	f.notify = make(chan struct{})
}

// NextID returns the id that would be assigned to the next Append.
func (f *Feed) NextID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID
}

// oldestRetainedLocked returns the smallest id still in the buffer, or nextID if
// the buffer is empty (meaning "nothing retained yet, only the next id is
// valid to ask for").
func (f *Feed) oldestRetainedLocked() int64 {
	if len(f.buf) == 0 {
		return f.nextID
	}
	return f.buf[0].ID
}

// GetUpdates implements spec.md §4.6's get_updates: if startID is out of
// the valid [oldestRetained, nextID] range, ErrOutOfRange signals the
// caller to resync via a full state fetch. If updates are already
// available they are returned immediately; otherwise this blocks up to
// maxWait for at least one more, waking early via Close (shutdown) or a
// concurrent Append.
func (f *Feed) GetUpdates(startID int64, maxWait time.Duration) ([]Update, int64, error) {
	f.mu.Lock()

	if startID < 0 || startID > f.nextID {
		f.mu.Unlock()
		return nil, f.nextID, ErrOutOfRange
	}
	if startID < f.oldestRetainedLocked() {
		f.mu.Unlock()
		return nil, f.nextID, ErrOutOfRange
	}

	if out := f.sliceFromLocked(startID); len(out) > 0 || f.closed || maxWait <= 0 {
		defer f.mu.Unlock()
		return f.sliceFromLocked(startID), f.nextID, nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		ch := f.notify
		f.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			f.mu.Lock()
			out := f.sliceFromLocked(startID)
			f.mu.Unlock()
			return out, f.nextID, nil
		}

		f.mu.Lock()
		if out := f.sliceFromLocked(startID); len(out) > 0 || f.closed {
			defer f.mu.Unlock()
			return out, f.nextID, nil
		}
	}
}

func (f *Feed) sliceFromLocked(startID int64) []Update {
	if len(f.buf) == 0 {
		return nil
	}
	offset := startID - f.buf[0].ID
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(f.buf) {
		return nil
	}
	out := make([]Update, len(f.buf)-int(offset))
	copy(out, f.buf[offset:])
	return out
}

// Close wakes every blocked GetUpdates waiter (process shutdown path, per
// spec.md §5's termination condition).
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.wakeLocked()
}
