// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package window implements the Window Projector (spec.md §4.5): bounded,
// append-only per-(profile, party) message logs with monotonic sequence
// numbers, classified line types, and modifier bit-flags.
package window

// Kind is the low-bits subtype of a Line's Flags.
type Kind uint32

const (
	PRIVMSG Kind = iota
	NOTICE
	JOIN
	PART
	QUIT
	KICK
	NICK
	MODE
	TOPIC
	INITTOPIC
	INITNOTOPIC
	NAMES
	SERVERREPLY
	CONNECTING
	CONNECTED
	DISCONNECTED
)

// kindBits is wide enough to hold every Kind above (16 values -> 4 bits,
// rounded up for headroom).
const kindBits = 5
const kindMask = (1 << kindBits) - 1

// Modifier bits live above kindBits.
const (
	Outgoing Flags = 1 << kindBits
	Nickflag Flags = 1 << (kindBits + 1)
)

// Flags packs a Kind and modifier bits into one field, per spec.md §3's
// "Flags pack a type tag and modifier bits (outgoing, nickflag)".
type Flags uint32

// NewFlags builds a Flags value from a Kind and modifier booleans.
func NewFlags(k Kind, outgoing, nickflag bool) Flags {
	f := Flags(k) & kindMask
	if outgoing {
		f |= Outgoing
	}
	if nickflag {
		f |= Nickflag
	}
	return f
}

// Kind extracts the line-type subtype from Flags.
func (f Flags) Kind() Kind { return Kind(f) & kindMask }

// IsOutgoing reports whether the OUTGOING modifier bit is set.
func (f Flags) IsOutgoing() bool { return f&Outgoing != 0 }

// IsNickflag reports whether the NICKFLAG modifier bit is set.
func (f Flags) IsNickflag() bool { return f&Nickflag != 0 }

// FlagConstants is the {name: value} map shipped to the web UI in
// get-state.json, per spec.md §4.8, so client-side rendering logic can
// stay in sync with the server's bit assignments without hardcoding them.
func FlagConstants() map[string]uint32 {
	return map[string]uint32{
		"PRIVMSG":      uint32(PRIVMSG),
		"NOTICE":       uint32(NOTICE),
		"JOIN":         uint32(JOIN),
		"PART":         uint32(PART),
		"QUIT":         uint32(QUIT),
		"KICK":         uint32(KICK),
		"NICK":         uint32(NICK),
		"MODE":         uint32(MODE),
		"TOPIC":        uint32(TOPIC),
		"INITTOPIC":    uint32(INITTOPIC),
		"INITNOTOPIC":  uint32(INITNOTOPIC),
		"NAMES":        uint32(NAMES),
		"SERVERREPLY":  uint32(SERVERREPLY),
		"CONNECTING":   uint32(CONNECTING),
		"CONNECTED":    uint32(CONNECTED),
		"DISCONNECTED": uint32(DISCONNECTED),
		"OUTGOING":     uint32(Outgoing),
		"NICKFLAG":     uint32(Nickflag),
	}
}
