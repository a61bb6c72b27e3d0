// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package window

// Observation is the unapplied intent to append one line to a window:
// internal/session produces these from parsed IRC traffic, and
// internal/processor applies them to a Registry under its single coarse
// mutex, turning each into a Window.Append call.
type Observation struct {
	Party       string // "" for the server window
	Kind        Kind
	Outgoing    bool
	Nickflag    bool
	TimestampMs int64
	Payload     []string
}

// Flags packs this Observation's Kind and modifier bits.
func (o Observation) Flags() Flags {
	return NewFlags(o.Kind, o.Outgoing, o.Nickflag)
}
