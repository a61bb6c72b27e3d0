// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package processor

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/desyncr/mamircd/internal/wire"
)

func TestDialControlPortSendsPasswordAndAttach(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	cc, events, err := dialControlPort(ln.Addr().String(), "pw", testLog())
	if err != nil {
		t.Fatalf("dialControlPort: %v", err)
	}
	defer cc.Close()

	server := <-accepted
	defer server.Close()

	r := bufio.NewReader(server)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))

	pwLine, err := r.ReadString('\n')
	if err != nil || pwLine != "pw\r\n" {
		t.Fatalf("expected password line %q, got %q (err=%v)", "pw\\r\\n", pwLine, err)
	}
	attachLine, err := r.ReadString('\n')
	if err != nil || attachLine != "attach\r\n" {
		t.Fatalf("expected attach line, got %q (err=%v)", attachLine, err)
	}

	server.Write([]byte("1 1000 CONNECTION opened\r\n"))

	select {
	case ev := <-events:
		if ev.ConnID != 1 || ev.Kind != "CONNECTION" || ev.Line != "opened" {
			t.Fatalf("unexpected streamed event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a streamed event to arrive on the channel")
	}
}

func TestDialControlPortClosesEventsOnDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	cc, events, err := dialControlPort(ln.Addr().String(), "pw", testLog())
	if err != nil {
		t.Fatalf("dialControlPort: %v", err)
	}
	defer cc.Close()

	server := <-accepted
	server.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected the events channel to close on peer disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the events channel to close after the peer went away")
	}
}

func TestControlClientSendWritesEncodedLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := &controlClient{log: testLog(), conn: client, w: bufio.NewWriter(client)}

	done := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		done <- line
	}()

	cc.Send(wire.Line{Cmd: wire.CmdSend, ConnID: 3, RawBytes: []byte("PRIVMSG #chan :hi")})

	select {
	case line := <-done:
		want := "send 3 PRIVMSG #chan :hi\r\n"
		if line != want {
			t.Fatalf("got %q, want %q", line, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a line written through Send")
	}
}
