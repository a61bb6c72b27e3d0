// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/desyncr/mamircd/internal/ircmsg"
	"github.com/desyncr/mamircd/internal/journal"
	"github.com/desyncr/mamircd/internal/window"
)

// UpdateHint asks the orchestrator to emit one of the non-APPEND Update
// kinds from spec.md §3 (MYNICK, JOINED, PARTED, KICKED, CONNECTED,
// DISCONNECTED) alongside whatever window Observations were produced.
type UpdateHint struct {
	Kind    string
	Party   string
	Payload []string
}

// OutboundCmd is a raw line Process wants sent back out on this
// connection; only populated when realtime is true.
type OutboundCmd struct {
	Raw []byte
}

// Result is everything a single Process call produced.
type Result struct {
	Observations []window.Observation
	Hints        []UpdateHint
	Outbound     []OutboundCmd
	Disconnect   bool // true: no nicknames left, orchestrator must close the connection
}

func (r *Result) observe(o window.Observation) { r.Observations = append(r.Observations, o) }
func (r *Result) hint(kind, party string, payload ...string) {
	r.Hints = append(r.Hints, UpdateHint{Kind: kind, Party: party, Payload: payload})
}
func (r *Result) send(format string, args ...any) {
	r.Outbound = append(r.Outbound, OutboundCmd{Raw: []byte(fmt.Sprintf(format, args...))})
}

// Process advances the session machine for one journaled event and
// returns the window/update/outbound effects it produced. realtime gates
// outbound control-port writes per spec.md §4.4 and §9; replay and live
// processing share this exact same implementation otherwise.
func (s *Session) Process(kind journal.Kind, line []byte, timestampMs int64, realtime bool) Result {
	var r Result

	switch kind {
	case journal.KindConnection:
		s.processConnection(string(line), timestampMs, realtime, &r)
	case journal.KindSend:
		s.processSend(string(line), timestampMs, realtime, &r)
	case journal.KindReceive:
		s.processReceive(string(line), timestampMs, realtime, &r)
	}

	return r
}

func (s *Session) processConnection(raw string, ts int64, realtime bool, r *Result) {
	verb, _, _ := cut(raw, ' ')

	switch verb {
	case "connect":
		r.observe(window.Observation{Party: "", Kind: window.CONNECTING, TimestampMs: ts})
	case "opened":
		s.State = Opened
		r.observe(window.Observation{Party: "", Kind: window.CONNECTED, TimestampMs: ts})
		r.hint("CONNECTED", "")

		if realtime {
			if nick, ok := s.NextNickname(); ok {
				s.setCurrentNick(nick)
				r.send("NICK %s", nick)
			}
		}
	case "disconnect":
		// Graceful close requested; nothing to project until "closed".
	case "closed":
		for _, ch := range s.AllChannels() {
			r.observe(window.Observation{Party: ch.Name, Kind: window.DISCONNECTED, TimestampMs: ts})
		}
		r.observe(window.Observation{Party: "", Kind: window.DISCONNECTED, TimestampMs: ts})
		r.hint("DISCONNECTED", "")
	}
}

func (s *Session) processSend(raw string, ts int64, realtime bool, r *Result) {
	msg := ircmsg.Parse(raw)
	if msg == nil {
		return
	}

	switch msg.Command {
	case "NICK":
		nick := msg.Param(0)
		if s.State != Registered {
			s.setCurrentNick(nick)
		}
		if s.State == Opened {
			s.State = NickSent
			if realtime {
				r.send("USER %s 0 * :%s", s.Profile.Username, s.Profile.Realname)
			}
		}
	case "USER":
		if s.State == NickSent {
			s.State = UserSent
		}
	case "PRIVMSG", "NOTICE":
		s.projectChat(msg, ts, true, r)
	}
}

func (s *Session) processReceive(raw string, ts int64, realtime bool, r *Result) {
	msg := ircmsg.Parse(raw)
	if msg == nil {
		return
	}

	if msg.Command == "PING" {
		if realtime {
			r.send("PONG :%s", msg.Trailing)
		}
		return
	}

	if isNumeric(msg.Command) {
		s.processNumeric(msg, ts, realtime, r)
		return
	}

	switch msg.Command {
	case "JOIN":
		s.processJoin(msg, ts, r)
	case "PART":
		s.processPart(msg, ts, r)
	case "KICK":
		s.processKick(msg, ts, r)
	case "QUIT":
		s.processQuit(msg, ts, r)
	case "NICK":
		s.processNickChange(msg, ts, r)
	case "MODE":
		s.processMode(msg, ts, r)
	case "TOPIC":
		s.processTopic(msg, ts, r)
	case "PRIVMSG", "NOTICE":
		s.projectChat(msg, ts, false, r)
	}
}

func (s *Session) processNumeric(msg *ircmsg.Message, ts int64, realtime bool, r *Result) {
	cmd := msg.Command
	wasRegistered := s.State == Registered

	if welcomeNumerics[cmd] && !wasRegistered {
		s.State = Registered
		proposed := s.CurrentNick
		given := msg.Param(0)
		if given != "" && given != proposed && strings.HasPrefix(proposed, given) {
			s.setCurrentNick(given)
			r.hint("MYNICK", "", given)
		}
		if realtime {
			s.realtimePostRegister(r)
		}
	}

	switch cmd {
	case "331": // RPL_NOTOPIC
		if ch, ok := s.GetChannel(msg.Param(1)); ok {
			ch.ClearTopic()
			r.observe(window.Observation{Party: ch.Name, Kind: window.INITNOTOPIC, TimestampMs: ts})
		}
		return
	case "332": // RPL_TOPIC
		if ch, ok := s.GetChannel(msg.Param(1)); ok {
			ch.SetTopic(msg.Trailing)
			r.observe(window.Observation{Party: ch.Name, Kind: window.INITTOPIC, TimestampMs: ts, Payload: []string{msg.Trailing}})
		}
		return
	case "333": // RPL_TOPICWHOTIME -- consumed silently, no projection.
		return
	case "353": // RPL_NAMREPLY
		chanName := msg.Param(2)
		ch := s.channel(chanName)
		nicks := strings.Fields(msg.Trailing)
		for i, n := range nicks {
			nicks[i] = stripPrefixes(n)
		}
		ch.addNamesReply(nicks)
		return
	case "366": // RPL_ENDOFNAMES: "<client> <channel> :End of /NAMES list"
		chanName := msg.Param(1)
		if ch, ok := s.GetChannel(chanName); ok {
			names := ch.endNamesReply()
			r.observe(window.Observation{Party: ch.Name, Kind: window.NAMES, TimestampMs: ts, Payload: names})
		}
		return
	case "432", "433": // ERR_ERRONEUSNICKNAME, ERR_NICKNAMEINUSE
		if !wasRegistered {
			rejected := msg.Param(1)
			if rejected == "" {
				rejected = s.CurrentNick
			}
			s.markRejected(rejected)
			if realtime {
				if nick, ok := s.NextNickname(); ok {
					s.setCurrentNick(nick)
					r.send("NICK %s", nick)
				} else {
					r.Disconnect = true
				}
			}
			return // suppressed from SERVRPL while not yet REGISTERED
		}
	}

	// Every other 3-digit numeric is surfaced as SERVRPL, with our own
	// nickname (parameter 0) stripped.
	payload := msg.AllParams()
	if len(payload) > 0 {
		payload = payload[1:]
	}
	r.observe(window.Observation{Party: "", Kind: window.SERVERREPLY, TimestampMs: ts, Payload: payload})
}

// CatchUp returns whatever the realtime auto-pilot would send right now,
// given the session's current registration state, per spec.md §4.4's
// "when replay ends ... send whatever the previous live driver would
// have sent had it not restarted."
func (s *Session) CatchUp() []OutboundCmd {
	var r Result

	switch s.State {
	case Opened:
		if nick, ok := s.NextNickname(); ok {
			s.setCurrentNick(nick)
			r.send("NICK %s", nick)
		}
	case NickSent:
		r.send("USER %s 0 * :%s", s.Profile.Username, s.Profile.Realname)
	case UserSent:
		if s.isRejected(s.CurrentNick) {
			if nick, ok := s.NextNickname(); ok {
				s.setCurrentNick(nick)
				r.send("NICK %s", nick)
			}
		}
	case Registered:
		s.realtimePostRegister(&r)
	}

	return r.Outbound
}

func (s *Session) realtimePostRegister(r *Result) {
	if s.Profile.NickservPassword != "" && !s.SentNickservPass {
		s.SentNickservPass = true
		r.send("PRIVMSG NickServ :IDENTIFY %s", s.Profile.NickservPassword)
	}
	if cmd, ok := s.autoJoinCommand(); ok {
		r.send("%s", cmd)
	}
}

// autoJoinCommand builds a single comma-joined JOIN command for every
// configured auto-join channel the session isn't already a member of.
func (s *Session) autoJoinCommand() (string, bool) {
	var names, keys []string
	haveKey := false
	for _, aj := range s.Profile.AutoJoin {
		if _, ok := s.GetChannel(aj.Name); ok {
			continue
		}
		names = append(names, aj.Name)
		keys = append(keys, aj.Key)
		if aj.Key != "" {
			haveKey = true
		}
	}
	if len(names) == 0 {
		return "", false
	}
	if haveKey {
		return fmt.Sprintf("JOIN %s %s", strings.Join(names, ","), strings.Join(keys, ",")), true
	}
	return fmt.Sprintf("JOIN %s", strings.Join(names, ",")), true
}

func (s *Session) processJoin(msg *ircmsg.Message, ts int64, r *Result) {
	if msg.Source == nil || len(msg.AllParams()) == 0 {
		return
	}
	name := msg.Param(0)
	who := msg.Source.Name

	if ircmsg.Fold(who) == ircmsg.Fold(s.CurrentNick) {
		ch := s.channel(name)
		r.observe(window.Observation{Party: ch.Name, Kind: window.JOIN, TimestampMs: ts, Payload: []string{who}})
		r.hint("JOINED", ch.Name)
		return
	}

	if ch, ok := s.GetChannel(name); ok {
		ch.AddMember(who)
		r.observe(window.Observation{Party: ch.Name, Kind: window.JOIN, TimestampMs: ts, Payload: []string{who}})
	}
}

func (s *Session) processPart(msg *ircmsg.Message, ts int64, r *Result) {
	if msg.Source == nil {
		return
	}
	name := msg.Param(0)
	who := msg.Source.Name
	ch, ok := s.GetChannel(name)
	if !ok {
		return
	}

	r.observe(window.Observation{Party: ch.Name, Kind: window.PART, TimestampMs: ts, Payload: []string{who, msg.Trailing}})

	if ircmsg.Fold(who) == ircmsg.Fold(s.CurrentNick) {
		s.RemoveChannel(name)
		r.hint("PARTED", ch.Name)
		return
	}
	ch.RemoveMember(who)
}

func (s *Session) processKick(msg *ircmsg.Message, ts int64, r *Result) {
	if msg.Source == nil {
		return
	}
	name := msg.Param(0)
	kicked := msg.Param(1)
	ch, ok := s.GetChannel(name)
	if !ok {
		return
	}

	r.observe(window.Observation{Party: ch.Name, Kind: window.KICK, TimestampMs: ts, Payload: []string{msg.Source.Name, kicked, msg.Trailing}})

	if ircmsg.Fold(kicked) == ircmsg.Fold(s.CurrentNick) {
		s.RemoveChannel(name)
		r.hint("KICKED", ch.Name)
		return
	}
	ch.RemoveMember(kicked)
}

func (s *Session) processQuit(msg *ircmsg.Message, ts int64, r *Result) {
	if msg.Source == nil {
		return
	}
	who := msg.Source.Name
	for _, ch := range s.ChannelsContainingMember(who) {
		ch.RemoveMember(who)
		r.observe(window.Observation{Party: ch.Name, Kind: window.QUIT, TimestampMs: ts, Payload: []string{who, msg.Trailing}})
	}
}

func (s *Session) processNickChange(msg *ircmsg.Message, ts int64, r *Result) {
	if msg.Source == nil {
		return
	}
	oldNick := msg.Source.Name
	newNick := msg.Param(0)

	if ircmsg.Fold(oldNick) == ircmsg.Fold(s.CurrentNick) {
		s.setCurrentNick(newNick)
		r.hint("MYNICK", "", newNick)
	}

	for _, ch := range s.ChannelsContainingMember(oldNick) {
		ch.RenameMember(oldNick, newNick)
		r.observe(window.Observation{Party: ch.Name, Kind: window.NICK, TimestampMs: ts, Payload: []string{oldNick, newNick}})
	}
}

func (s *Session) processMode(msg *ircmsg.Message, ts int64, r *Result) {
	if len(msg.AllParams()) == 0 {
		return
	}
	target := msg.Param(0)
	who := ""
	if msg.Source != nil {
		who = msg.Source.Name
	}
	rest := msg.AllParams()[1:]

	if ircmsg.Fold(target) == ircmsg.Fold(s.CurrentNick) {
		payload := append([]string{who}, rest...)
		r.observe(window.Observation{Party: "", Kind: window.MODE, TimestampMs: ts, Payload: payload})
		return
	}

	if ch, ok := s.GetChannel(target); ok {
		payload := append([]string{who}, rest...)
		r.observe(window.Observation{Party: ch.Name, Kind: window.MODE, TimestampMs: ts, Payload: payload})
	}
}

func (s *Session) processTopic(msg *ircmsg.Message, ts int64, r *Result) {
	name := msg.Param(0)
	ch, ok := s.GetChannel(name)
	if !ok {
		return
	}
	ch.SetTopic(msg.Trailing)
	who := ""
	if msg.Source != nil {
		who = msg.Source.Name
	}
	r.observe(window.Observation{Party: ch.Name, Kind: window.TOPIC, TimestampMs: ts, Payload: []string{who, msg.Trailing}})
}

func (s *Session) projectChat(msg *ircmsg.Message, ts int64, outgoing bool, r *Result) {
	if len(msg.AllParams()) < 1 {
		return
	}
	target := msg.Param(0)
	text := msg.Trailing

	from := s.CurrentNick
	if !outgoing && msg.Source != nil {
		from = msg.Source.Name
	}

	var party string
	if ircmsg.IsChannel(target) {
		party = target
	} else if outgoing {
		party = target // our own message to a nick: window keyed by that nick
	} else {
		party = from // message to us: window keyed by the sender
	}

	kind := window.PRIVMSG
	if msg.Command == "NOTICE" {
		kind = window.NOTICE
	}

	nickflag := !outgoing && s.IsNickflag(text)

	r.Observations = append(r.Observations, window.Observation{
		Party:       party,
		Kind:        kind,
		Outgoing:    outgoing,
		Nickflag:    nickflag,
		TimestampMs: ts,
		Payload:     []string{from, text},
	})
}

func isNumeric(cmd string) bool {
	if len(cmd) != 3 {
		return false
	}
	_, err := strconv.Atoi(cmd)
	return err == nil
}

func cut(s string, sep byte) (before, after string, found bool) {
	if i := strings.IndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}
