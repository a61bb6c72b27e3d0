// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package processor

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/desyncr/mamircd/internal/journal"
	"github.com/desyncr/mamircd/internal/profile"
	"github.com/desyncr/mamircd/internal/wire"
)

func TestHandleStreamedReplayBuildsSessionWithoutOutbound(t *testing.T) {
	o, peer := newTestOrchestrator(t)

	readDone := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		n, _ := peer.Read(buf)
		readDone <- string(buf[:n])
	}()

	o.handleStreamed(wire.StreamedEvent{
		ConnID: 1, Kind: "CONNECTION",
		Line: "connect irc.example.net 6667 false - net1",
	})
	o.handleStreamed(wire.StreamedEvent{ConnID: 1, Kind: "CONNECTION", Line: "opened"})

	select {
	case got := <-readDone:
		if got != "" {
			t.Fatalf("expected no outbound writes during replay, got %q", got)
		}
	case <-time.After(400 * time.Millisecond):
		// No data arrived before the deadline: also acceptable (nothing
		// was written).
	}

	if _, ok := o.sessions[1]; !ok {
		t.Fatalf("expected a session to be created for conn 1")
	}
}

func TestHandleStreamedCaughtUpEnablesRealtimeOutbound(t *testing.T) {
	o, peer := newTestOrchestrator(t)
	if err := o.profiles.Set([]profile.Profile{
		{Name: "net1", Nicknames: []string{"bob"}, Username: "bob", Realname: "Bob"},
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	o.handleStreamed(wire.StreamedEvent{
		ConnID: 1, Kind: "CONNECTION",
		Line: "connect irc.example.net 6667 false - net1",
	})

	got := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		got <- line
	}()

	o.handleStreamed(wire.StreamedEvent{ConnID: -1, Kind: "CAUGHTUP", Line: ""})
	o.handleStreamed(wire.StreamedEvent{ConnID: 1, Kind: "CONNECTION", Line: "opened"})

	select {
	case line := <-got:
		if !strings.HasPrefix(line, "send 1 NICK") {
			t.Fatalf("expected a realtime NICK command after CAUGHTUP, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an outbound NICK command after the CAUGHTUP boundary")
	}

	if !o.caughtUp {
		t.Fatalf("expected caughtUp=true after the boundary event")
	}
}

func TestOnCaughtUpStartsReconnectForAutoConnectProfiles(t *testing.T) {
	o, peer := newTestOrchestrator(t)
	if err := o.profiles.Set([]profile.Profile{
		{Name: "net1", Connect: true, Servers: []profile.Server{{Host: "irc.example.net", Port: 6667}}},
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		got <- line
	}()

	o.mu.Lock()
	o.onCaughtUpLocked()
	o.mu.Unlock()

	select {
	case line := <-got:
		if !strings.HasPrefix(line, "connect irc.example.net") {
			t.Fatalf("expected a connect command for the auto-connect profile, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the reconnect controller to dial the auto-connect profile")
	}

	o.reconnect.Stop()
}

func TestDialProfileThreadsProxyAddrIntoConnectLine(t *testing.T) {
	o, peer := newTestOrchestrator(t)
	if err := o.profiles.Set([]profile.Profile{
		{Name: "net1", Servers: []profile.Server{{Host: "irc.example.net", Port: 6667}}, ProxyAddr: "10.0.0.1:1080"},
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		got <- line
	}()

	o.dialProfile("net1", profile.Server{Host: "irc.example.net", Port: 6667})

	select {
	case line := <-got:
		want := "connect irc.example.net 6667 false 10.0.0.1:1080 net1\r\n"
		if line != want {
			t.Fatalf("got %q, want %q", line, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connect command carrying the profile's proxy address")
	}
}

func TestHandleStreamedConnectionClosedRemovesSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.handleStreamed(wire.StreamedEvent{
		ConnID: 1, Kind: "CONNECTION",
		Line: "connect irc.example.net 6667 false - net1",
	})
	if _, ok := o.sessions[1]; !ok {
		t.Fatalf("expected session 1 to exist after connect")
	}

	o.handleStreamed(wire.StreamedEvent{ConnID: 1, Kind: "CONNECTION", Line: "closed"})
	if _, ok := o.sessions[1]; ok {
		t.Fatalf("expected session 1 removed after closed")
	}
}

func TestApplyResultLockedAppendsWindowAndFeed(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.handleStreamed(wire.StreamedEvent{
		ConnID: 1, Kind: "CONNECTION",
		Line: "connect irc.example.net 6667 false - net1",
	})
	o.handleStreamed(wire.StreamedEvent{ConnID: -1, Kind: "CAUGHTUP", Line: ""})
	o.handleStreamed(wire.StreamedEvent{ConnID: 1, Kind: "CONNECTION", Line: "opened"})

	w, ok := o.windows.Get("net1", "")
	if !ok {
		t.Fatalf("expected a server window created from the CONNECTED observation")
	}
	if len(w.Lines(0)) == 0 {
		t.Fatalf("expected at least one appended line in the server window")
	}
	if o.feed.NextID() == 0 {
		t.Fatalf("expected the feed to have at least one update")
	}
}

var _ = journal.KindConnection
