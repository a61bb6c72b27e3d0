// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package processor

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/profile"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func testProfileStore(t *testing.T) *profile.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	s, err := profile.OpenStore(path, testLog())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestOrchestrator wires an Orchestrator with a pipe-backed control
// client so DoActions' send-line path has somewhere to write without a
// real Connector; the peer end is returned for the test to read from.
func newTestOrchestrator(t *testing.T) (*Orchestrator, net.Conn) {
	t.Helper()
	o := New(testProfileStore(t), testLog())

	client, peer := net.Pipe()
	o.cc = &controlClient{log: testLog(), conn: client, w: bufio.NewWriter(client)}
	t.Cleanup(func() { client.Close(); peer.Close() })

	return o, peer
}

func TestGetStateEmptySnapshot(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	snap := o.GetState(0)
	if len(snap.Connections) != 0 || len(snap.Windows) != 0 {
		t.Fatalf("expected an empty snapshot, got %+v", snap)
	}
	if snap.NextUpdateID != 0 {
		t.Fatalf("expected NextUpdateID=0, got %d", snap.NextUpdateID)
	}
}

func TestGetStateDeltaEncodesWindowLines(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w, _ := o.windows.GetOrCreate("net1", "#chan")
	w.Append(0, 5000, []string{"a"})
	w.Append(0, 9000, []string{"b"})

	snap := o.GetState(0)
	if len(snap.Windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(snap.Windows))
	}
	lines := snap.Windows[0].Lines
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].DeltaSec != 5 {
		t.Fatalf("first line DeltaSec = %d, want 5 (relative to zero)", lines[0].DeltaSec)
	}
	if lines[1].DeltaSec != 4 {
		t.Fatalf("second line DeltaSec = %d, want 4 (9000ms - 5000ms)", lines[1].DeltaSec)
	}
}

func TestDoActionsOpenAndCloseWindow(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if err := o.DoActions([]Action{{Type: "open-window", Profile: "net1", Party: "#chan"}}); err != nil {
		t.Fatalf("DoActions: %v", err)
	}
	if _, ok := o.windows.Get("net1", "#chan"); !ok {
		t.Fatalf("expected window created by open-window action")
	}

	if err := o.DoActions([]Action{{Type: "close-window", Profile: "net1", Party: "#chan"}}); err != nil {
		t.Fatalf("DoActions: %v", err)
	}
	if _, ok := o.windows.Get("net1", "#chan"); ok {
		t.Fatalf("expected window removed by close-window action")
	}
}

func TestDoActionsMarkReadAndClearLines(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w, _ := o.windows.GetOrCreate("net1", "#chan")
	for i := 0; i < 5; i++ {
		w.Append(0, int64(i), []string{"x"})
	}

	if err := o.DoActions([]Action{{Type: "mark-read", Profile: "net1", Party: "#chan", Seq: 3}}); err != nil {
		t.Fatalf("DoActions mark-read: %v", err)
	}
	if w.MarkedReadUntil() != 3 {
		t.Fatalf("MarkedReadUntil() = %d, want 3", w.MarkedReadUntil())
	}

	if err := o.DoActions([]Action{{Type: "clear-lines", Profile: "net1", Party: "#chan", Seq: 2}}); err != nil {
		t.Fatalf("DoActions clear-lines: %v", err)
	}
	if len(w.Lines(0)) != 3 {
		t.Fatalf("expected 3 lines remaining after clear-lines(2), got %d", len(w.Lines(0)))
	}
}

func TestDoActionsSetInitialWindow(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.DoActions([]Action{{Type: "set-initial-window", Window: "net1\x00#chan"}}); err != nil {
		t.Fatalf("DoActions: %v", err)
	}
	if o.initialWindow != "net1\x00#chan" {
		t.Fatalf("initialWindow = %q, want net1\\x00#chan", o.initialWindow)
	}
}

func TestDoActionsUnknownTypeErrors(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.DoActions([]Action{{Type: "not-a-real-action"}}); err == nil {
		t.Fatalf("expected an error for an unknown action type")
	}
}

func TestDoActionsSendLineRequiresActiveConnection(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.DoActions([]Action{{Type: "send-line", Profile: "net1", Party: "#chan", Text: "hi"}}); err == nil {
		t.Fatalf("expected an error when no connection is active for the profile")
	}
}

func TestDoActionsSendLineWritesThroughControlClient(t *testing.T) {
	o, peer := newTestOrchestrator(t)
	o.connsByProfile["net1"] = []int{7}

	done := make(chan string, 1)
	go func() {
		r := bufio.NewReader(peer)
		line, _ := r.ReadString('\n')
		done <- line
	}()

	if err := o.DoActions([]Action{{Type: "send-line", Profile: "net1", Party: "#chan", Text: "hello"}}); err != nil {
		t.Fatalf("DoActions: %v", err)
	}

	select {
	case line := <-done:
		want := "send 7 PRIVMSG #chan :hello\r\n"
		if line != want {
			t.Fatalf("got %q, want %q", line, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a line written to the control client")
	}
}

func TestRedactedProfilesStripsPassword(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.profiles.Set([]profile.Profile{{Name: "net1", NickservPassword: "secret"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := o.GetProfiles()
	if len(got) != 1 || got[0].NickservPassword != "" {
		t.Fatalf("expected redacted profiles, got %+v", got)
	}
}
