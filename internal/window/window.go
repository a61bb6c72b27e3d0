// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package window

import (
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/desyncr/mamircd/internal/ircmsg"
)

// DefaultMaxLines is the retention bound ("M" in spec.md §3/§4.5): the
// oldest lines are evicted once a window exceeds this many.
const DefaultMaxLines = 10000

// Line is one entry in a Window's ordered log.
type Line struct {
	Seq         int64    `json:"seq"`
	Flags       Flags    `json:"flags"`
	TimestampMs int64    `json:"ts"`
	Payload     []string `json:"payload"`
}

// DeltaLine is the wire representation of a Line on an initial window
// dump: DeltaSec is the line's timestamp minus the previous line's (or
// minus zero, for the first line), both truncated to whole seconds first,
// per spec.md §4.8/§6. The client reconstructs absolute ms, truncated to
// whole seconds, by accumulating DeltaSec and multiplying by 1000.
type DeltaLine struct {
	Seq      int64    `json:"seq"`
	Flags    Flags    `json:"flags"`
	DeltaSec int64    `json:"deltaSec"`
	Payload  []string `json:"payload"`
}

// DeltaEncode converts a tail of Lines (oldest first, as returned by
// Lines) into their delta-encoded wire form.
func DeltaEncode(lines []Line) []DeltaLine {
	out := make([]DeltaLine, len(lines))
	var prevSec int64
	for i, l := range lines {
		sec := l.TimestampMs / 1000
		out[i] = DeltaLine{Seq: l.Seq, Flags: l.Flags, DeltaSec: sec - prevSec, Payload: l.Payload}
		prevSec = sec
	}
	return out
}

// Window is the ordered, bounded per-(profile, party) log described in
// spec.md §3. All mutation happens under the Processor's single coarse
// mutex (spec.md §5); Window's own mutex only protects against the HTTP
// handlers reading it concurrently with that mutation in this package's
// tests, and is cheap to hold briefly either way.
type Window struct {
	Profile      string
	Party        string // "" for the server window
	mu           sync.Mutex
	lines        []Line
	nextSeq      int64
	markedRead   int64
	muted        bool
	maxLines     int
}

func newWindow(profile, party string, maxLines int) *Window {
	return &Window{Profile: profile, Party: party, maxLines: maxLines}
}

// Append assigns the next sequence number, stores the line, and trims
// retention overflow. Returns the stored Line.
func (w *Window) Append(flags Flags, timestampMs int64, payload []string) Line {
	w.mu.Lock()
	defer w.mu.Unlock()

	l := Line{Seq: w.nextSeq, Flags: flags, TimestampMs: timestampMs, Payload: payload}
	w.nextSeq++
	w.lines = append(w.lines, l)

	if len(w.lines) > w.maxLines {
		overflow := len(w.lines) - w.maxLines
		w.lines = w.lines[overflow:]
	}

	return l
}

// NextSeq previews the sequence number the next Append will assign,
// without consuming it.
func (w *Window) NextSeq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Lines returns up to max of the most recent lines (0 means all).
func (w *Window) Lines(max int) []Line {
	w.mu.Lock()
	defer w.mu.Unlock()

	if max <= 0 || max >= len(w.lines) {
		out := make([]Line, len(w.lines))
		copy(out, w.lines)
		return out
	}
	start := len(w.lines) - max
	out := make([]Line, max)
	copy(out, w.lines[start:])
	return out
}

// MarkRead sets markedReadUntil to n. Per spec.md §8's idempotence
// requirement, calling this repeatedly with the same n is harmless (the
// caller is still responsible for emitting a MARKREAD update each time).
func (w *Window) MarkRead(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markedRead = n
}

// MarkedReadUntil returns the current read pointer.
func (w *Window) MarkedReadUntil() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.markedRead
}

// ClearLines drops every retained line with Seq < n, per spec.md §4.5.
func (w *Window) ClearLines(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := 0
	for ; i < len(w.lines); i++ {
		if w.lines[i].Seq >= n {
			break
		}
	}
	w.lines = w.lines[i:]
}

// SetMuted toggles the per-window mute flag.
func (w *Window) SetMuted(m bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.muted = m
}

// Muted reports the current mute flag.
func (w *Window) Muted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.muted
}

func regKey(profile, party string) string {
	return fmt.Sprintf("%s\x00%s", profile, ircmsg.Fold(party))
}

// Registry owns every live Window, keyed by (profile, fold-cased party).
// spec.md §3's Window lifecycle ("created on first APPEND or explicit
// OPENWIN; destroyed only on CLOSEWIN") is enforced by Registry's callers
// (internal/processor), not by Registry itself.
type Registry struct {
	windows  cmap.ConcurrentMap[string, *Window]
	maxLines int
}

// NewRegistry constructs an empty Registry.
func NewRegistry(maxLines int) *Registry {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Registry{windows: cmap.New[*Window](), maxLines: maxLines}
}

// GetOrCreate returns the window for (profile, party), creating it (and
// reporting created=true) if it did not already exist.
func (r *Registry) GetOrCreate(profile, party string) (w *Window, created bool) {
	key := regKey(profile, party)
	if existing, ok := r.windows.Get(key); ok {
		return existing, false
	}
	nw := newWindow(profile, party, r.maxLines)
	if r.windows.SetIfAbsent(key, nw) {
		return nw, true
	}
	// Lost a race with a concurrent creator; use theirs.
	got, _ := r.windows.Get(key)
	return got, false
}

// Get returns the window for (profile, party) if it exists.
func (r *Registry) Get(profile, party string) (*Window, bool) {
	return r.windows.Get(regKey(profile, party))
}

// Close removes a window entirely (CLOSEWIN).
func (r *Registry) Close(profile, party string) {
	r.windows.Remove(regKey(profile, party))
}

// ForProfile returns every window belonging to profile.
func (r *Registry) ForProfile(profile string) []*Window {
	var out []*Window
	for item := range r.windows.IterBuffered() {
		if item.Val.Profile == profile {
			out = append(out, item.Val)
		}
	}
	return out
}

// All returns every live window.
func (r *Registry) All() []*Window {
	out := make([]*Window, 0, r.windows.Count())
	for item := range r.windows.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}
