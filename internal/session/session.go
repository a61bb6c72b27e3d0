// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package session implements the Session State Machine (spec.md §4.3): per
// connection IRC registration, nickname discipline, and channel
// membership, plus the projection of observed events into
// internal/window.Observation values. All mutation is expected to happen
// under the Processor orchestrator's single coarse mutex (spec.md §5); no
// locking is done within Session itself.
package session

import (
	"regexp"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/desyncr/mamircd/internal/ircmsg"
	"github.com/desyncr/mamircd/internal/profile"
)

// RegState is the registration phase of a Session, per spec.md §3/§4.3.
type RegState int

const (
	Connecting RegState = iota
	Opened
	NickSent
	UserSent
	Registered
)

func (s RegState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Opened:
		return "OPENED"
	case NickSent:
		return "NICK_SENT"
	case UserSent:
		return "USER_SENT"
	default:
		return "REGISTERED"
	}
}

// welcomeNumerics are the numerics that transition a session to
// REGISTERED, per spec.md §4.3.
var welcomeNumerics = map[string]bool{
	"001": true, "002": true, "003": true, "004": true, "005": true,
}

// Session is per-connection IRC state.
type Session struct {
	ConnID  int
	Profile profile.Profile

	State            RegState
	CurrentNick      string
	rejectedFold     map[string]struct{}
	SentNickservPass bool

	Channels cmap.ConcurrentMap[string, *Channel] // keyed by fold-cased name

	nickRegexp *regexp.Regexp // matches CurrentNick as a whole word
}

// New creates a fresh Session for a just-CREATED connection.
func New(connID int, p profile.Profile) *Session {
	return &Session{
		ConnID:       connID,
		Profile:      p,
		State:        Connecting,
		rejectedFold: make(map[string]struct{}),
		Channels:     cmap.New[*Channel](),
	}
}

// channel returns the channel by name (case-insensitive), creating it if
// it does not exist.
func (s *Session) channel(name string) *Channel {
	key := ircmsg.Fold(name)
	if c, ok := s.Channels.Get(key); ok {
		return c
	}
	c := newChannel(name)
	s.Channels.Set(key, c)
	return c
}

// GetChannel looks up a channel without creating it.
func (s *Session) GetChannel(name string) (*Channel, bool) {
	return s.Channels.Get(ircmsg.Fold(name))
}

// RemoveChannel deletes a channel (self PART/KICK).
func (s *Session) RemoveChannel(name string) {
	s.Channels.Remove(ircmsg.Fold(name))
}

// ChannelsContainingMember returns every channel the given nick currently
// sits in, used to fan QUIT/NICK out to every affected window.
func (s *Session) ChannelsContainingMember(nick string) []*Channel {
	var out []*Channel
	for item := range s.Channels.IterBuffered() {
		if item.Val.HasMember(nick) {
			out = append(out, item.Val)
		}
	}
	return out
}

// AllChannels returns every channel in membership order (unspecified).
func (s *Session) AllChannels() []*Channel {
	out := make([]*Channel, 0, s.Channels.Count())
	for item := range s.Channels.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

// setCurrentNick updates CurrentNick and recompiles the nickflag regexp.
func (s *Session) setCurrentNick(nick string) {
	s.CurrentNick = nick
	if nick == "" {
		s.nickRegexp = nil
		return
	}
	s.nickRegexp = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(nick) + `\b`)
}

// IsNickflag reports whether text mentions our current nickname as a
// whole word, per spec.md §4.5's NICKFLAG modifier bit.
func (s *Session) IsNickflag(text string) bool {
	if s.nickRegexp == nil || text == "" {
		return false
	}
	return s.nickRegexp.MatchString(text)
}

// markRejected adds nick to the rejected set.
func (s *Session) markRejected(nick string) {
	s.rejectedFold[ircmsg.Fold(nick)] = struct{}{}
}

// isRejected reports whether nick has already been rejected this session.
func (s *Session) isRejected(nick string) bool {
	_, ok := s.rejectedFold[ircmsg.Fold(nick)]
	return ok
}

// NextNickname returns the first profile nickname not yet rejected.
func (s *Session) NextNickname() (string, bool) {
	return profile.NextNickname(s.Profile, s.rejectedFold, ircmsg.Fold)
}

// stripPrefixes removes leading channel membership-mode prefix characters
// (@, +, !, %, &, ~) from a NAMES-reply nickname, per spec.md §4.3.
func stripPrefixes(nick string) string {
	return strings.TrimLeft(nick, "@+!%&~")
}
