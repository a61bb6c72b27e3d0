// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package processor implements the Processor Orchestrator (spec.md §4.4,
// §4.9): it glues the Session State Machine, Window Projector, Update
// Feed, Reconnect Controller, and HTTP API together under a single coarse
// mutex, driving one Connector over its Control Port.
package processor

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/feed"
	"github.com/desyncr/mamircd/internal/journal"
	"github.com/desyncr/mamircd/internal/profile"
	"github.com/desyncr/mamircd/internal/reconnect"
	"github.com/desyncr/mamircd/internal/session"
	"github.com/desyncr/mamircd/internal/window"
	"github.com/desyncr/mamircd/internal/wire"
)

// namesRefreshInterval is the daily per-connection NAMES refresh period,
// SPEC_FULL.md's supplemented feature sharing the Reconnect Controller's
// scheduler.
const namesRefreshInterval = 24 * time.Hour

// Orchestrator is the Processor's single coarse-mutex-guarded state
// owner, per spec.md §5: sessions, windows, updates, and profiles are
// only ever mutated here.
type Orchestrator struct {
	log *logrus.Entry

	profiles  *profile.Store
	windows   *window.Registry
	feed      *feed.Feed
	reconnect *reconnect.Controller
	sched     *reconnect.Scheduler

	cc *controlClient

	mu             sync.Mutex
	sessions       map[int]*session.Session
	connsByProfile map[string][]int
	caughtUp       bool
	initialWindow  string
}

// New constructs an Orchestrator. It does not dial the Connector yet;
// call Run to do so and begin processing.
func New(profiles *profile.Store, log *logrus.Entry) *Orchestrator {
	sched := reconnect.NewScheduler()
	o := &Orchestrator{
		log:            log,
		profiles:       profiles,
		windows:        window.NewRegistry(window.DefaultMaxLines),
		feed:           feed.New(),
		sched:          sched,
		sessions:       make(map[int]*session.Session),
		connsByProfile: make(map[string][]int),
	}
	o.reconnect = reconnect.New(sched, o.dialProfile)
	profiles.OnChange(o.onProfilesChanged)
	return o
}

// Run dials addr's Control Port and processes events until the
// connection drops or stop is closed.
func (o *Orchestrator) Run(addr, password string, stop <-chan struct{}) error {
	cc, events, err := dialControlPort(addr, password, o.log)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.cc = cc
	o.mu.Unlock()

	for {
		select {
		case <-stop:
			o.cc.Send(wire.Line{Cmd: wire.CmdTerminate})
			o.cc.Close()
			o.feed.Close()
			o.reconnect.Stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("processor: control port connection lost")
			}
			o.handleStreamed(ev)
		}
	}
}

func (o *Orchestrator) handleStreamed(ev wire.StreamedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ev.Kind == "CAUGHTUP" {
		o.onCaughtUpLocked()
		return
	}

	realtime := o.caughtUp

	sess, ok := o.sessions[ev.ConnID]
	if !ok {
		if cmd, err := wire.ParseCommand(ev.Line); err == nil && cmd.Cmd == wire.CmdConnect {
			prof, _ := o.profileByNameLocked(cmd.Profile)
			sess = session.New(ev.ConnID, prof)
			o.sessions[ev.ConnID] = sess
			o.connsByProfile[cmd.Profile] = append(o.connsByProfile[cmd.Profile], ev.ConnID)
		} else {
			o.log.WithField("conn_id", ev.ConnID).Warn("processor: event for unknown connection, dropping")
			return
		}
	}

	prevState := sess.State
	result := sess.Process(journal.Kind(ev.Kind), []byte(ev.Line), ev.TimestampMs, realtime)
	o.applyResultLocked(sess, result, realtime)

	if prevState != session.Registered && sess.State == session.Registered {
		o.reconnect.NotifyRegistered(sess.Profile.Name)
		o.scheduleNamesRefreshLocked(sess.ConnID)
	}

	if ev.Kind == "CONNECTION" && ev.Line == "closed" {
		delete(o.sessions, ev.ConnID)
		o.removeConnFromProfileLocked(sess.Profile.Name, ev.ConnID)
		if realtime && sess.Profile.Connect {
			o.reconnect.NotifyFailed(sess.Profile.Name, sess.Profile.Servers)
		}
	}
}

func (o *Orchestrator) applyResultLocked(sess *session.Session, result session.Result, realtime bool) {
	for _, obs := range result.Observations {
		w, _ := o.windows.GetOrCreate(sess.Profile.Name, obs.Party)
		line := w.Append(obs.Flags(), obs.TimestampMs, obs.Payload)
		o.feed.Append(feed.KindAppend, sess.Profile.Name, obs.Party, map[string]any{
			"seq":     line.Seq,
			"flags":   uint32(line.Flags),
			"ts":      line.TimestampMs,
			"payload": line.Payload,
		})
	}

	for _, h := range result.Hints {
		o.feed.Append(feed.Kind(h.Kind), sess.Profile.Name, h.Party, h.Payload)
	}

	if !realtime {
		return
	}

	for _, oc := range result.Outbound {
		o.cc.Send(wire.Line{Cmd: wire.CmdSend, ConnID: sess.ConnID, RawBytes: oc.Raw})
	}
	if result.Disconnect {
		o.cc.Send(wire.Line{Cmd: wire.CmdDisconnect, ConnID: sess.ConnID})
	}
}

// onCaughtUpLocked runs once, when the Connector signals that journal
// replay has finished and live events begin, per spec.md §4.4.
func (o *Orchestrator) onCaughtUpLocked() {
	o.caughtUp = true

	for connID, sess := range o.sessions {
		for _, oc := range sess.CatchUp() {
			o.cc.Send(wire.Line{Cmd: wire.CmdSend, ConnID: connID, RawBytes: oc.Raw})
		}
		if sess.State == session.Registered {
			o.scheduleNamesRefreshLocked(connID)
		}
	}

	for _, p := range o.profiles.All() {
		if p.Connect && len(o.connsByProfile[p.Name]) == 0 {
			o.reconnect.Start(p.Name, p.Servers)
		}
	}
}

// dialProfile is the reconnect.ConnectFunc: it asks the Connector to open
// a new socket for profileName's server, routed through the profile's
// configured SOCKS5 proxy when it has one.
func (o *Orchestrator) dialProfile(profileName string, server profile.Server) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cc == nil {
		return
	}
	prof, _ := o.profileByNameLocked(profileName)
	o.cc.Send(wire.Line{
		Cmd:       wire.CmdConnect,
		Host:      server.Host,
		Port:      strconv.Itoa(server.Port),
		SSL:       server.SSL,
		ProxyAddr: prof.ProxyAddr,
		Profile:   profileName,
	})
}

func (o *Orchestrator) scheduleNamesRefreshLocked(connID int) {
	o.sched.Schedule(time.Now().Add(namesRefreshInterval), func() {
		o.mu.Lock()
		sess, ok := o.sessions[connID]
		if !ok {
			o.mu.Unlock()
			return
		}
		channels := sess.AllChannels()
		for _, ch := range channels {
			o.cc.Send(wire.Line{Cmd: wire.CmdSend, ConnID: connID, RawBytes: []byte("NAMES " + ch.Name)})
		}
		o.mu.Unlock()

		o.mu.Lock()
		if _, ok := o.sessions[connID]; ok {
			o.scheduleNamesRefreshLocked(connID)
		}
		o.mu.Unlock()
	})
}

func (o *Orchestrator) onProfilesChanged(profiles []profile.Profile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.caughtUp {
		return
	}
	for _, p := range profiles {
		if p.Connect && len(o.connsByProfile[p.Name]) == 0 {
			o.reconnect.Start(p.Name, p.Servers)
		}
		if !p.Connect {
			o.reconnect.Cancel(p.Name)
		}
	}
}

func (o *Orchestrator) profileByNameLocked(name string) (profile.Profile, bool) {
	for _, p := range o.profiles.All() {
		if p.Name == name {
			return p, true
		}
	}
	return profile.Profile{Name: name}, false
}

func (o *Orchestrator) removeConnFromProfileLocked(profileName string, connID int) {
	ids := o.connsByProfile[profileName]
	for i, id := range ids {
		if id == connID {
			o.connsByProfile[profileName] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
