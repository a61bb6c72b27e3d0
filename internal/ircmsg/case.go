// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package ircmsg

import (
	"golang.org/x/text/cases"
)

// foldCaser is used for the case-insensitive IRC comparisons of channel
// names and nicknames; profile names are compared exactly. IRC's
// RFC1459 casemapping additionally folds {}|^ onto []\~, but the vast
// majority of modern networks run rfc1459-strict or ascii casemapping;
// we apply Unicode case folding via golang.org/x/text/cases, and leave
// the {}|^ quirk unimplemented (no profile in spec.md distinguishes
// casemapping per-network).
var foldCaser = cases.Fold()

// Fold returns the case-folded comparison key for a nickname or channel
// name. Two names are the "same" IRC identifier iff Fold(a) == Fold(b).
func Fold(s string) string {
	return foldCaser.String(s)
}

// IsChannel reports whether name looks like a channel name rather than a
// nickname, per RFC2812's channel prefix characters.
func IsChannel(name string) bool {
	if name == "" {
		return false
	}
	switch name[0] {
	case '#', '&', '!', '+':
		return true
	default:
		return false
	}
}
