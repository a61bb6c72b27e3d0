// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package profile implements the Profile (IrcNetwork) entity and its
// on-disk JSON store, including hot-reload (spec.md §3, §4.8).
package profile

// Server is one entry in a Profile's ordered server list.
type Server struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	SSL  bool   `json:"ssl"`
}

// AutoJoinChannel is one entry in a Profile's channel auto-join list.
type AutoJoinChannel struct {
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// Profile is spec.md §3's IrcNetwork entity.
type Profile struct {
	Name      string            `json:"name"`
	Servers   []Server          `json:"servers"`
	Connect   bool              `json:"connect"`
	Nicknames []string          `json:"nicknames"`
	Username  string            `json:"username"`
	Realname  string            `json:"realname"`
	NickservPassword string     `json:"nickserv_password,omitempty"`
	AutoJoin  []AutoJoinChannel `json:"auto_join,omitempty"`

	// ProxyAddr is an optional "host:port" SOCKS5 proxy, the supplemented
	// feature described in SPEC_FULL.md's Domain Stack section.
	ProxyAddr string `json:"proxy_addr,omitempty"`
}

// Redacted returns a copy of p with credentials stripped, for
// get-profiles.json (spec.md §4.8).
func (p Profile) Redacted() Profile {
	p.NickservPassword = ""
	return p
}

// NextNickname returns the first configured nickname not present in
// rejected (fold-cased comparison), used when driving registration in
// realtime and on 432/433 recovery (spec.md §4.3).
func NextNickname(p Profile, rejectedFold map[string]struct{}, fold func(string) string) (string, bool) {
	for _, n := range p.Nicknames {
		if _, bad := rejectedFold[fold(n)]; !bad {
			return n, true
		}
	}
	return "", false
}
