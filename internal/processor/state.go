// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package processor

import (
	"fmt"
	"time"

	"github.com/desyncr/mamircd/internal/feed"
	"github.com/desyncr/mamircd/internal/profile"
	"github.com/desyncr/mamircd/internal/window"
	"github.com/desyncr/mamircd/internal/wire"
)

// ChannelSnapshot is one channel's get-state.json view.
type ChannelSnapshot struct {
	Name     string   `json:"name"`
	Members  []string `json:"members"`
	Topic    string   `json:"topic"`
	HasTopic bool     `json:"hasTopic"`
}

// ConnectionSnapshot is one session's get-state.json view, per spec.md
// §4.8's "per-connection current nickname and channels with members and
// topic".
type ConnectionSnapshot struct {
	Profile     string            `json:"profile"`
	ConnID      int               `json:"connId"`
	State       string            `json:"state"`
	CurrentNick string            `json:"currentNick"`
	Channels    []ChannelSnapshot `json:"channels"`
}

// WindowSnapshot is one window's get-state.json view: a tail of
// delta-encoded lines plus the read pointer.
type WindowSnapshot struct {
	Profile         string             `json:"profile"`
	Party           string             `json:"party"`
	Lines           []window.DeltaLine `json:"lines"`
	MarkedReadUntil int64              `json:"markedReadUntil"`
	Muted           bool               `json:"muted"`
}

// StateSnapshot is the full get-state.json response body, minus the CSRF
// token (added by internal/api, which owns session/cookie concerns).
// Field names match spec.md §4.8's camelCase wire vocabulary
// (nextUpdateId, initialWindow) for client compatibility.
type StateSnapshot struct {
	Connections   []ConnectionSnapshot `json:"connections"`
	Windows       []WindowSnapshot     `json:"windows"`
	NextUpdateID  int64                `json:"nextUpdateId"`
	FlagConstants map[string]uint32    `json:"flagConstants"`
	InitialWindow string               `json:"initialWindow"`
	Profiles      []profile.Profile    `json:"profiles"`
}

// GetState builds a full snapshot, per spec.md §4.8. maxMessagesPerWindow
// <= 0 means "no limit, return every retained line".
func (o *Orchestrator) GetState(maxMessagesPerWindow int) StateSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	var conns []ConnectionSnapshot
	for _, sess := range o.sessions {
		var chans []ChannelSnapshot
		for _, ch := range sess.AllChannels() {
			topic := ""
			if ch.Topic != nil {
				topic = *ch.Topic
			}
			chans = append(chans, ChannelSnapshot{
				Name: ch.Name, Members: ch.Members(), Topic: topic, HasTopic: ch.HasTopic(),
			})
		}
		conns = append(conns, ConnectionSnapshot{
			Profile: sess.Profile.Name, ConnID: sess.ConnID,
			State: sess.State.String(), CurrentNick: sess.CurrentNick,
			Channels: chans,
		})
	}

	var wins []WindowSnapshot
	for _, w := range o.windows.All() {
		wins = append(wins, WindowSnapshot{
			Profile: w.Profile, Party: w.Party,
			Lines: window.DeltaEncode(w.Lines(maxMessagesPerWindow)),
			MarkedReadUntil: w.MarkedReadUntil(), Muted: w.Muted(),
		})
	}

	return StateSnapshot{
		Connections:   conns,
		Windows:       wins,
		NextUpdateID:  o.feed.NextID(),
		FlagConstants: window.FlagConstants(),
		InitialWindow: o.initialWindow,
		Profiles:      o.redactedProfilesLocked(),
	}
}

// GetUpdates is the Update Feed's long-poll entry point (spec.md §4.6).
func (o *Orchestrator) GetUpdates(startID int64, maxWait time.Duration) ([]feed.Update, int64, error) {
	return o.feed.GetUpdates(startID, maxWait)
}

// GetProfiles returns the redacted profile list (spec.md §4.8).
func (o *Orchestrator) GetProfiles() []profile.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.redactedProfilesLocked()
}

func (o *Orchestrator) redactedProfilesLocked() []profile.Profile {
	all := o.profiles.All()
	out := make([]profile.Profile, len(all))
	for i, p := range all {
		out[i] = p.Redacted()
	}
	return out
}

// Action is one tagged do-actions.json payload entry (spec.md §4.8).
type Action struct {
	Type     string            `json:"type"`
	Profile  string            `json:"profile,omitempty"`
	Party    string            `json:"party,omitempty"`
	Text     string            `json:"text,omitempty"`
	Seq      int64             `json:"seq,omitempty"`
	Window   string            `json:"window,omitempty"`
	Profiles []profile.Profile `json:"profiles,omitempty"`
}

// DoActions applies a batch of actions under the coarse mutex, per
// spec.md §4.8. It stops at the first error.
func (o *Orchestrator) DoActions(actions []Action) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, a := range actions {
		switch a.Type {
		case "send-line":
			if err := o.sendLineLocked(a.Profile, a.Party, a.Text); err != nil {
				return err
			}
		case "mark-read":
			if w, ok := o.windows.Get(a.Profile, a.Party); ok {
				w.MarkRead(a.Seq)
				o.feed.Append(feed.KindMarkRead, a.Profile, a.Party, a.Seq)
			}
		case "clear-lines":
			if w, ok := o.windows.Get(a.Profile, a.Party); ok {
				w.ClearLines(a.Seq)
				o.feed.Append(feed.KindClearLines, a.Profile, a.Party, a.Seq)
			}
		case "open-window":
			if _, created := o.windows.GetOrCreate(a.Profile, a.Party); created {
				o.feed.Append(feed.KindOpenWin, a.Profile, a.Party, nil)
			}
		case "close-window":
			o.windows.Close(a.Profile, a.Party)
			o.feed.Append(feed.KindCloseWin, a.Profile, a.Party, nil)
		case "set-initial-window":
			o.initialWindow = a.Window
		case "set-profiles":
			if err := o.profiles.Set(a.Profiles); err != nil {
				return err
			}
		default:
			return fmt.Errorf("processor: unknown action %q", a.Type)
		}
	}
	return nil
}

func (o *Orchestrator) sendLineLocked(profileName, party, text string) error {
	connID, ok := o.connIDForProfileLocked(profileName)
	if !ok {
		return fmt.Errorf("processor: no active connection for profile %q", profileName)
	}
	o.cc.Send(wire.Line{Cmd: wire.CmdSend, ConnID: connID, RawBytes: []byte(fmt.Sprintf("PRIVMSG %s :%s", party, text))})
	return nil
}

func (o *Orchestrator) connIDForProfileLocked(name string) (int, bool) {
	ids := o.connsByProfile[name]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
