// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package connmgr

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/journal"
	"github.com/desyncr/mamircd/internal/wire"
)

// ErrAlreadyAttached names the refusal of a second Processor that tries to
// attach while one is already streaming. The control port logs the refusal
// and closes the new connection; no function in this package returns it.
var ErrAlreadyAttached = errors.New("connmgr: a processor is already attached")

// authTimeout bounds how long a freshly accepted control-port connection
// has to send its password line before being dropped.
const authTimeout = 5 * time.Second

// ControlPort is the single-attach line-protocol server the Processor
// uses to drive the Connection Manager (spec.md §4.2).
type ControlPort struct {
	log      *logrus.Entry
	mgr      *Manager
	j        *journal.Journal
	password string

	mu       sync.Mutex
	attached bool

	ln net.Listener
}

// NewControlPort constructs a ControlPort bound to the manager and
// journal, authenticating with password (compared in constant time).
func NewControlPort(mgr *Manager, j *journal.Journal, password string, log *logrus.Entry) *ControlPort {
	return &ControlPort{mgr: mgr, j: j, password: password, log: log}
}

// Serve accepts connections on addr until the listener is closed.
func (cp *ControlPort) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connmgr: control port listen: %w", err)
	}
	cp.ln = ln

	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go cp.handle(c)
	}
}

// Close stops accepting new control-port connections.
func (cp *ControlPort) Close() error {
	if cp.ln == nil {
		return nil
	}
	return cp.ln.Close()
}

func (cp *ControlPort) handle(c net.Conn) {
	defer c.Close()

	c.SetReadDeadline(time.Now().Add(authTimeout))
	r := bufio.NewReader(c)
	passLine, err := r.ReadString('\n')
	if err != nil {
		return
	}
	passLine = trimEOL(passLine)

	if subtle.ConstantTimeCompare([]byte(passLine), []byte(cp.password)) != 1 {
		cp.log.Warn("connmgr: control port authentication failed")
		return
	}
	c.SetReadDeadline(time.Time{})

	modeLine, err := r.ReadString('\n')
	if err != nil {
		return
	}
	modeLine = trimEOL(modeLine)

	switch wire.Command(modeLine) {
	case wire.CmdListConns:
		cp.handleListConnections(c)
	case wire.CmdAttach:
		cp.handleAttach(c, r)
	default:
		cp.log.WithField("line", modeLine).Warn("connmgr: unknown control port mode line")
	}
}

func (cp *ControlPort) handleListConnections(c net.Conn) {
	w := bufio.NewWriter(c)
	for _, rec := range cp.mgr.Records() {
		fmt.Fprintf(w, "%d %s %s %t %s %s\r\n", rec.ConnID, rec.Host, rec.Port, rec.SSL, rec.Profile, rec.State)
	}
	w.Flush()
}

func (cp *ControlPort) handleAttach(c net.Conn, r *bufio.Reader) {
	cp.mu.Lock()
	if cp.attached {
		cp.mu.Unlock()
		cp.log.Warn("connmgr: rejecting second attach attempt")
		return
	}
	cp.attached = true
	cp.mu.Unlock()
	defer func() {
		cp.mu.Lock()
		cp.attached = false
		cp.mu.Unlock()
	}()

	sub := make(chan journal.Event, 1024)
	cp.j.Subscribe(sub)
	defer cp.j.Unsubscribe(sub)

	past, err := cp.j.Replay()
	if err != nil {
		cp.log.WithError(err).Error("connmgr: replay failed on attach")
		return
	}

	w := bufio.NewWriter(c)
	writeErr := make(chan error, 1)
	go func() {
		for _, ev := range past {
			if err := writeEvent(w, ev); err != nil {
				writeErr <- err
				return
			}
		}
		// A synthetic boundary marker: the journal's wire format has no
		// replay/live distinction of its own, but the Processor must know
		// when catch-up replay has ended (spec.md §4.4's "when replay
		// ends" behavior) to start driving outbound commands.
		if _, err := w.WriteString(wire.EncodeStreamedEvent(wire.StreamedEvent{
			ConnID: -1, Kind: "CAUGHTUP", Line: "",
		}) + "\r\n"); err != nil {
			writeErr <- err
			return
		}
		w.Flush()
		for ev := range sub {
			if err := writeEvent(w, ev); err != nil {
				writeErr <- err
				return
			}
			w.Flush()
		}
	}()

	cp.readCommands(c, r, writeErr)
}

func writeEvent(w *bufio.Writer, ev journal.Event) error {
	line := wire.EncodeStreamedEvent(wire.StreamedEvent{
		ConnID:      ev.ConnID,
		TimestampMs: ev.TimestampMs,
		Kind:        string(ev.Kind),
		Line:        string(ev.Line),
	})
	_, err := w.WriteString(line + "\r\n")
	return err
}

func (cp *ControlPort) readCommands(c net.Conn, r *bufio.Reader, writeErr chan error) {
	for {
		select {
		case <-writeErr:
			return
		default:
		}

		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		raw = trimEOL(raw)
		if raw == "" {
			continue
		}

		cmd, err := wire.ParseCommand(raw)
		if err != nil {
			cp.log.WithField("line", raw).Warn("connmgr: unknown control port command, ignoring")
			continue
		}

		switch cmd.Cmd {
		case wire.CmdConnect:
			cp.mgr.Connect(cmd.Host, cmd.Port, cmd.SSL, cmd.ProxyAddr, cmd.Profile)
		case wire.CmdDisconnect:
			cp.mgr.Disconnect(cmd.ConnID)
		case wire.CmdSend:
			cp.mgr.Send(cmd.ConnID, cmd.RawBytes)
		case wire.CmdTerminate:
			cp.mgr.Terminate()
			return
		default:
			cp.log.WithField("line", raw).Warn("connmgr: unexpected command on attach stream")
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
