// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package wire encodes and decodes the line protocol spoken between the
// Processor and the Connector's Control Port (spec.md §6). It is
// deliberately much smaller than internal/ircmsg: parsing here is strict
// (single-space separators, no trailing whitespace, no NUL bytes) because
// this is a private, loopback-only control channel, not a tolerant
// internet protocol.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Command tags a decoded control-port line.
type Command string

const (
	// Processor -> Connector
	CmdConnect    Command = "connect"
	CmdDisconnect Command = "disconnect"
	CmdSend       Command = "send"
	CmdTerminate  Command = "terminate"
	CmdListConns  Command = "list-connections"
	CmdAttach     Command = "attach"

	// Connector -> Processor (also used as journal.Kind-adjacent tags on
	// the streamed, timestamp-prefixed event lines)
	EvtConnect    Command = "connect"
	EvtOpened     Command = "opened"
	EvtDisconnect Command = "disconnect"
	EvtClosed     Command = "closed"
)

// Line is a single decoded Processor->Connector control command.
type Line struct {
	Cmd Command

	// connect
	Host, Port, Profile string
	SSL                 bool
	// ProxyAddr is an optional "host:port" SOCKS5 proxy for this dial,
	// empty when the profile has none configured.
	ProxyAddr string

	// disconnect, send
	ConnID int

	// send
	RawBytes []byte
}

// noProxyToken marks the absence of a proxy address in the connect line's
// fixed-width field layout, since an empty field can't be round-tripped
// through the single-space-separated wire format unambiguously.
const noProxyToken = "-"

// ErrMalformed is returned (and the line simply logged+ignored per
// spec.md §4.2) for any line that isn't one of the known strict shapes.
type ErrMalformed struct{ Line string }

func (e ErrMalformed) Error() string { return fmt.Sprintf("wire: malformed line: %q", e.Line) }

// ParseCommand decodes a single raw line from the Processor into a Line.
// Parsing is strict: a single space separates fields, no trailing
// whitespace, no NUL bytes anywhere. Unknown commands return ErrMalformed.
func ParseCommand(raw string) (Line, error) {
	if strings.IndexByte(raw, 0) != -1 {
		return Line{}, ErrMalformed{raw}
	}
	if raw != strings.TrimRight(raw, " ") {
		return Line{}, ErrMalformed{raw}
	}

	sp := strings.IndexByte(raw, ' ')
	var verb, rest string
	if sp < 0 {
		verb, rest = raw, ""
	} else {
		verb, rest = raw[:sp], raw[sp+1:]
	}

	switch Command(verb) {
	case CmdConnect:
		// connect <host> <port> <ssl:true|false> <proxy-addr|-> <profile-name>
		// profile-name is the final field and may itself contain spaces.
		parts := strings.SplitN(rest, " ", 5)
		if len(parts) != 5 {
			return Line{}, ErrMalformed{raw}
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return Line{}, ErrMalformed{raw}
		}
		ssl, err := strconv.ParseBool(parts[2])
		if err != nil {
			return Line{}, ErrMalformed{raw}
		}
		proxyAddr := parts[3]
		if proxyAddr == noProxyToken {
			proxyAddr = ""
		}
		return Line{Cmd: CmdConnect, Host: parts[0], Port: strconv.Itoa(port), SSL: ssl, ProxyAddr: proxyAddr, Profile: parts[4]}, nil

	case CmdDisconnect:
		id, err := strconv.Atoi(rest)
		if err != nil {
			return Line{}, ErrMalformed{raw}
		}
		return Line{Cmd: CmdDisconnect, ConnID: id}, nil

	case CmdSend:
		// send <conn-id> <raw-bytes> -- everything after the second space
		// belongs to raw-bytes, opaque.
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return Line{}, ErrMalformed{raw}
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return Line{}, ErrMalformed{raw}
		}
		return Line{Cmd: CmdSend, ConnID: id, RawBytes: []byte(parts[1])}, nil

	case CmdTerminate:
		if rest != "" {
			return Line{}, ErrMalformed{raw}
		}
		return Line{Cmd: CmdTerminate}, nil

	case CmdListConns:
		if rest != "" {
			return Line{}, ErrMalformed{raw}
		}
		return Line{Cmd: CmdListConns}, nil

	case CmdAttach:
		if rest != "" {
			return Line{}, ErrMalformed{raw}
		}
		return Line{Cmd: CmdAttach}, nil

	default:
		return Line{}, ErrMalformed{raw}
	}
}

// Encode renders a Processor->Connector command line.
func (l Line) Encode() string {
	switch l.Cmd {
	case CmdConnect:
		proxyAddr := l.ProxyAddr
		if proxyAddr == "" {
			proxyAddr = noProxyToken
		}
		return fmt.Sprintf("connect %s %s %t %s %s", l.Host, l.Port, l.SSL, proxyAddr, l.Profile)
	case CmdDisconnect:
		return fmt.Sprintf("disconnect %d", l.ConnID)
	case CmdSend:
		return fmt.Sprintf("send %d %s", l.ConnID, l.RawBytes)
	case CmdTerminate:
		return "terminate"
	case CmdListConns:
		return "list-connections"
	case CmdAttach:
		return "attach"
	default:
		return ""
	}
}

// StreamedEvent is a single Connector->Processor line as it appears on an
// attached control-port stream: "<conn-id> <timestamp-ms> <kind> <line>".
type StreamedEvent struct {
	ConnID      int
	TimestampMs int64
	Kind        string // CONNECTION, RECEIVE, SEND
	Line        string
}

// EncodeStreamedEvent renders a StreamedEvent back to wire format.
func EncodeStreamedEvent(e StreamedEvent) string {
	return fmt.Sprintf("%d %d %s %s", e.ConnID, e.TimestampMs, e.Kind, e.Line)
}

// ParseStreamedEvent decodes a single streamed line from an attached
// control port into a StreamedEvent.
func ParseStreamedEvent(raw string) (StreamedEvent, error) {
	parts := strings.SplitN(raw, " ", 4)
	if len(parts) != 4 {
		return StreamedEvent{}, ErrMalformed{raw}
	}
	connID, err := strconv.Atoi(parts[0])
	if err != nil {
		return StreamedEvent{}, ErrMalformed{raw}
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return StreamedEvent{}, ErrMalformed{raw}
	}
	return StreamedEvent{ConnID: connID, TimestampMs: ts, Kind: parts[2], Line: parts[3]}, nil
}
