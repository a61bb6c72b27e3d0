// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/desyncr/mamircd/internal/ircmsg"
)

// Channel is spec.md §3's Channel entity: proper-case display name, a
// case-insensitive member set stored with exact display casing, an
// optional topic, and NAMES-burst buffering state.
type Channel struct {
	Name string // proper-case, as first observed

	// members maps fold-cased nick -> display-cased nick, so "adding a
	// case-variant replaces the prior spelling" (spec.md §3 invariant)
	// falls out of a plain map write.
	members cmap.ConcurrentMap[string, string]

	Topic    *string
	hasTopic bool

	processingNames bool
	namesBuf        []string // display-cased nicks accumulated this burst
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, members: cmap.New[string]()}
}

// AddMember adds or case-updates a member.
func (c *Channel) AddMember(nick string) {
	c.members.Set(ircmsg.Fold(nick), nick)
}

// RemoveMember removes a member (case-insensitive).
func (c *Channel) RemoveMember(nick string) {
	c.members.Remove(ircmsg.Fold(nick))
}

// HasMember reports case-insensitive membership.
func (c *Channel) HasMember(nick string) bool {
	_, ok := c.members.Get(ircmsg.Fold(nick))
	return ok
}

// Members returns the current member set in display case, unordered.
func (c *Channel) Members() []string {
	out := make([]string, 0, c.members.Count())
	for item := range c.members.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

// RenameMember updates a member's display case/spelling after a NICK
// change, preserving their slot in the set.
func (c *Channel) RenameMember(oldNick, newNick string) {
	oldKey := ircmsg.Fold(oldNick)
	if _, ok := c.members.Get(oldKey); !ok {
		return
	}
	c.members.Remove(oldKey)
	c.members.Set(ircmsg.Fold(newNick), newNick)
}

// SetTopic stores the channel topic (TOPIC, or 332 RPL_TOPIC).
func (c *Channel) SetTopic(topic string) {
	c.Topic = &topic
	c.hasTopic = true
}

// ClearTopic clears the topic (331 RPL_NOTOPIC).
func (c *Channel) ClearTopic() {
	c.Topic = nil
	c.hasTopic = false
}

// HasTopic reports whether the channel currently has a topic. It is false
// both before any topic is observed and after ClearTopic (331).
func (c *Channel) HasTopic() bool { return c.hasTopic }

// beginNamesIfNeeded starts a fresh NAMES burst the first time it's called
// since the last flush, clearing prior members per spec.md §4.3's "353
// ... appends names to a channel's buffer the first time in a burst
// clearing prior members".
func (c *Channel) beginNamesIfNeeded() {
	if !c.processingNames {
		c.processingNames = true
		c.namesBuf = nil
		c.members = cmap.New[string]()
	}
}

// addNamesReply appends one 353 reply's worth of names (mode-prefixes
// already stripped by the caller) to the in-progress burst and to the
// member set.
func (c *Channel) addNamesReply(nicks []string) {
	c.beginNamesIfNeeded()
	for _, n := range nicks {
		c.namesBuf = append(c.namesBuf, n)
		c.AddMember(n)
	}
}

// endNamesReply flushes the burst (366 RPL_ENDOFNAMES), returning the
// full accumulated nick list for the NAMES window line.
func (c *Channel) endNamesReply() []string {
	out := c.namesBuf
	c.processingNames = false
	c.namesBuf = nil
	return out
}
