// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package journal implements the Connector's durable, append-only event
// log: every CONNECTION/RECEIVE/SEND event, ordered per connection-id and
// replayable from the start, with a live tail for the attached Processor.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies the category of a journaled Event.
type Kind string

const (
	KindConnection Kind = "CONNECTION"
	KindReceive    Kind = "RECEIVE"
	KindSend       Kind = "SEND"
)

// Event is a single immutable journal record.
type Event struct {
	ConnID    int    `json:"conn_id"`
	Seq       int64  `json:"seq"`
	TimestampMs int64 `json:"ts"`
	Kind      Kind   `json:"kind"`
	Line      []byte `json:"line"`
}

// Journal is an append-only, crash-recoverable store of Events. Writers
// call Append from any number of goroutines (one per connection reader,
// plus the connection-lifecycle writer); Append is safe for concurrent
// use and preserves strict per-connection ordering.
type Journal struct {
	log *logrus.Entry

	mu   sync.Mutex // guards file, seqs, and subs
	file *os.File
	w    *bufio.Writer
	seqs map[int]int64

	subs []chan Event

	syncEvery time.Duration
	closed    bool
}

// Open opens (creating if necessary) the journal file at path for
// appending, and starts a background fsync ticker.
func Open(path string, log *logrus.Entry) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	j := &Journal{
		log:       log,
		file:      f,
		w:         bufio.NewWriter(f),
		seqs:      make(map[int]int64),
		syncEvery: 200 * time.Millisecond,
	}

	go j.syncLoop()

	return j, nil
}

func (j *Journal) syncLoop() {
	t := time.NewTicker(j.syncEvery)
	defer t.Stop()
	for range t.C {
		j.mu.Lock()
		if j.closed {
			j.mu.Unlock()
			return
		}
		if err := j.flushLocked(); err != nil {
			j.log.WithError(err).Warn("journal: periodic fsync failed")
		}
		j.mu.Unlock()
	}
}

func (j *Journal) flushLocked() error {
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Append assigns the next sequence number for connID, timestamps and
// commits the record, then fans it out to live subscribers. A write
// failure is fatal for the connection: the caller must force it CLOSED
// per spec.md §4.1's error handling.
func (j *Journal) Append(connID int, kind Kind, line []byte) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seqs[connID]
	ev := Event{
		ConnID:      connID,
		Seq:         seq,
		TimestampMs: time.Now().UnixMilli(),
		Kind:        kind,
		Line:        append([]byte(nil), line...),
	}

	enc, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := j.w.Write(enc); err != nil {
		return Event{}, fmt.Errorf("journal: write: %w", err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return Event{}, fmt.Errorf("journal: write: %w", err)
	}

	j.seqs[connID] = seq + 1

	for _, s := range j.subs {
		select {
		case s <- ev:
		default:
			j.log.Warn("journal: subscriber channel full, dropping live fan-out")
		}
	}

	return ev, nil
}

// Replay returns every committed event, in commit order, by scanning the
// journal file from the beginning. It does not include events appended
// after Replay started reading; combine with Subscribe (registered before
// Replay starts, per Processor orchestration) to avoid a gap.
func (j *Journal) Replay() ([]Event, error) {
	j.mu.Lock()
	if err := j.flushLocked(); err != nil {
		j.mu.Unlock()
		return nil, err
	}
	j.mu.Unlock()

	f, err := os.Open(j.file.Name())
	if err != nil {
		return nil, fmt.Errorf("journal: replay open: %w", err)
	}
	defer f.Close()

	var out []Event
	dec := json.NewDecoder(bufio.NewReaderSize(f, 64*1024))
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err.Error() == "EOF" {
				break
			}
			// A partial/corrupt trailing record means a crash truncated
			// the last write; treat it as the end of the durable log,
			// not a fatal error, per spec.md's "crash loses at most a
			// small tail" contract.
			j.log.WithError(err).Warn("journal: stopping replay at malformed record")
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe registers ch to receive every Event appended from this point
// forward. The Control Port's attach handler subscribes on behalf of the
// one attached Processor (spec.md's single-attach Control Port). Callers must drain ch promptly; a full
// channel causes dropped live events (logged), never a blocked Append.
func (j *Journal) Subscribe(ch chan Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subs = append(j.subs, ch)
}

// Unsubscribe removes a previously registered channel.
func (j *Journal) Unsubscribe(ch chan Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, s := range j.subs {
		if s == ch {
			j.subs = append(j.subs[:i], j.subs[i+1:]...)
			return
		}
	}
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.flushLocked(); err != nil {
		return err
	}
	return j.file.Close()
}
