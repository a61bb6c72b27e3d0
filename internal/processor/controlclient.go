// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package processor

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/desyncr/mamircd/internal/wire"
)

// controlClient is the Processor's side of the Connector's single-attach
// Control Port (spec.md §4.2): it authenticates, sends "attach", and
// exposes the resulting event stream as a channel while accepting
// outbound commands to write back.
type controlClient struct {
	log  *logrus.Entry
	conn net.Conn

	wmu sync.Mutex
	w   *bufio.Writer
}

// dialControlPort connects to addr, authenticates with password, and
// begins streaming every replayed-then-live event from the Connector.
// The returned channel is closed when the connection drops.
func dialControlPort(addr, password string, log *logrus.Entry) (*controlClient, <-chan wire.StreamedEvent, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("processor: dial control port: %w", err)
	}

	cc := &controlClient{log: log, conn: conn, w: bufio.NewWriter(conn)}

	cc.wmu.Lock()
	fmt.Fprintf(cc.w, "%s\r\n", password)
	fmt.Fprintf(cc.w, "%s\r\n", wire.CmdAttach)
	err = cc.w.Flush()
	cc.wmu.Unlock()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("processor: control port handshake: %w", err)
	}

	events := make(chan wire.StreamedEvent, 4096)
	go cc.readLoop(events)

	return cc, events, nil
}

func (cc *controlClient) readLoop(events chan wire.StreamedEvent) {
	defer close(events)

	r := bufio.NewReader(cc.conn)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			if err.Error() != "EOF" {
				cc.log.WithError(err).Warn("processor: control port read failed, connection lost")
			}
			return
		}
		raw = strings.TrimRight(raw, "\r\n")
		if raw == "" {
			continue
		}

		ev, err := wire.ParseStreamedEvent(raw)
		if err != nil {
			cc.log.WithField("line", raw).Warn("processor: malformed streamed event, ignoring")
			continue
		}
		events <- ev
	}
}

// Send writes a Processor->Connector command line.
func (cc *controlClient) Send(l wire.Line) {
	cc.wmu.Lock()
	defer cc.wmu.Unlock()
	if _, err := cc.w.WriteString(l.Encode() + "\r\n"); err != nil {
		cc.log.WithError(err).Warn("processor: control port write failed")
		return
	}
	if err := cc.w.Flush(); err != nil {
		cc.log.WithError(err).Warn("processor: control port flush failed")
	}
}

// Close closes the underlying connection.
func (cc *controlClient) Close() error {
	return cc.conn.Close()
}
