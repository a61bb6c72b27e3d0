// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

// Package connmgr implements the Connection Manager (spec.md §4.2): it
// owns every outbound IRC socket, runs one reader and one writer goroutine
// per connection, enforces the send-throttle, journals every byte, and
// exposes the single-attach Control Port that the Processor drives it
// through.
package connmgr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/desyncr/mamircd/internal/ircmsg"
	"github.com/desyncr/mamircd/internal/journal"
	"github.com/desyncr/mamircd/internal/wire"
)

// OpenState mirrors spec.md's Connection Record open-state.
type OpenState int

const (
	StateConnecting OpenState = iota
	StateOpened
	StateClosed
)

func (s OpenState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpened:
		return "OPENED"
	default:
		return "CLOSED"
	}
}

// Record is the Connection Manager's public view of one outbound socket.
type Record struct {
	ConnID  int
	Profile string
	Host    string
	Port    string
	SSL     bool
	State   OpenState
}

// conn is the Manager's internal bookkeeping for one outbound connection.
type conn struct {
	id        int
	profile   string
	host      string
	port      string
	ssl       bool
	proxyAddr string

	mu    sync.Mutex
	state OpenState
	sock  net.Conn

	outQ      chan []byte
	throttle  *Throttle
	closeOnce sync.Once
	done      chan struct{}
}

// Manager owns N outbound IRC sockets; the Processor-facing Control Port
// is the separate ControlPort type, which holds a *Manager. All mutation of the connection table happens under mu; reader and
// writer goroutines never hold mu while blocked on socket I/O.
type Manager struct {
	log *logrus.Entry
	j   *journal.Journal

	mu      sync.Mutex
	conns   map[int]*conn
	nextID  int
	dialer  Dialer
	throttleCfg ThrottleConfig
}

// Dialer abstracts net.Dialer plus an optional SOCKS5 proxy, per
// SPEC_FULL.md's "optional SOCKS5 proxying per profile" supplement.
type Dialer interface {
	Dial(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewManager constructs a Manager backed by j for durability.
func NewManager(j *journal.Journal, log *logrus.Entry) *Manager {
	return &Manager{
		log:         log,
		j:           j,
		conns:       make(map[int]*conn),
		dialer:      NetDialer{Timeout: 10 * time.Second},
		throttleCfg: DefaultThrottleConfig,
	}
}

// Records returns a snapshot of all live connections, for
// "list-connections". Catch-up after a Processor (re)attaches replays the
// journal instead.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.conns))
	for _, c := range m.conns {
		c.mu.Lock()
		out = append(out, Record{
			ConnID:  c.id,
			Profile: c.profile,
			Host:    c.host,
			Port:    c.port,
			SSL:     c.ssl,
			State:   c.state,
		})
		c.mu.Unlock()
	}
	return out
}

// Connect opens a new outbound connection, optionally through a SOCKS5
// proxy when proxyAddr is non-empty (per SPEC_FULL.md's proxy-per-profile
// supplement). It returns immediately with the assigned connection-id;
// dialing happens in the background. Connection-ids are assigned
// monotonically and never reused within a process run, per spec.md §3.
func (m *Manager) Connect(host, port string, ssl bool, proxyAddr, profile string) int {
	m.mu.Lock()
	id := m.nextID
	m.nextID++

	c := &conn{
		id:        id,
		profile:   profile,
		host:      host,
		port:      port,
		ssl:       ssl,
		proxyAddr: proxyAddr,
		state:     StateConnecting,
		outQ:      make(chan []byte, 256),
		throttle:  NewThrottle(m.throttleCfg),
		done:      make(chan struct{}),
	}
	m.conns[id] = c
	m.mu.Unlock()

	initLine := wire.Line{Cmd: wire.CmdConnect, Host: host, Port: port, SSL: ssl, ProxyAddr: proxyAddr, Profile: profile}.Encode()
	if _, err := m.j.Append(id, journal.KindConnection, []byte(initLine)); err != nil {
		m.log.WithError(err).Error("connmgr: journal append failed on connect")
	}

	go m.runConnection(c)

	return id
}

func (m *Manager) runConnection(c *conn) {
	addr := net.JoinHostPort(c.host, c.port)
	log := m.log.WithFields(logrus.Fields{"conn_id": c.id, "addr": addr, "profile": c.profile})

	dialer := m.dialer
	if c.proxyAddr != "" {
		dialer = NetDialer{Timeout: 15 * time.Second, ProxyAddr: c.proxyAddr}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	sock, err := dialer.Dial(ctx, "tcp", addr)
	cancel()
	if err != nil {
		log.WithError(err).Warn("connmgr: dial failed")
		m.finalizeClosed(c)
		return
	}

	if c.ssl {
		sock = tls.Client(sock, &tls.Config{ServerName: c.host})
	}

	c.mu.Lock()
	c.sock = sock
	c.state = StateOpened
	c.mu.Unlock()

	remote := sock.RemoteAddr().String()
	if _, err := m.j.Append(c.id, journal.KindConnection, []byte(fmt.Sprintf("opened %s", remote))); err != nil {
		log.WithError(err).Error("connmgr: journal append failed on opened")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.readLoop(c, log) }()
	go func() { defer wg.Done(); m.writeLoop(c, log) }()
	wg.Wait()

	m.finalizeClosed(c)
}

func (m *Manager) finalizeClosed(c *conn) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if _, err := m.j.Append(c.id, journal.KindConnection, []byte("closed")); err != nil {
		m.log.WithError(err).Error("connmgr: journal append failed on closed")
	}

	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
}

// Disconnect requests a graceful close of connID. It is a no-op if the
// connection is already gone.
func (m *Manager) Disconnect(connID int) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.j.Append(connID, journal.KindConnection, []byte("disconnect"))
	c.closeSocket()
}

func (c *conn) closeSocket() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sock := c.sock
		c.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		close(c.done)
	})
}

// Send enqueues raw-bytes for delivery on connID, subject to the
// connection's send-throttle. It is fire-and-forget: backpressure is
// handled purely by queue size per spec.md §4.2.
func (m *Manager) Send(connID int, rawBytes []byte) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case c.outQ <- rawBytes:
	default:
		m.log.WithField("conn_id", connID).Warn("connmgr: output queue full, dropping line")
	}
}

// Terminate closes every live connection. Used on process shutdown.
func (m *Manager) Terminate() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.closeSocket()
	}
}

func (m *Manager) readLoop(c *conn, log *logrus.Entry) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	scanner := ircmsg.NewScanner(sock)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if _, err := m.j.Append(c.id, journal.KindReceive, line); err != nil {
			log.WithError(err).Error("connmgr: journal append failed, forcing close")
			c.closeSocket()
			return
		}
	}
	c.closeSocket()
}

func (m *Manager) writeLoop(c *conn, log *logrus.Entry) {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.outQ:
			d := c.throttle.Reserve()
			select {
			case <-time.After(d):
			case <-c.done:
				return
			}

			c.mu.Lock()
			sock := c.sock
			c.mu.Unlock()
			if sock == nil {
				return
			}
			if _, err := sock.Write(append(append([]byte(nil), line...), '\r', '\n')); err != nil {
				log.WithError(err).Warn("connmgr: write failed")
				c.closeSocket()
				return
			}
			if _, err := m.j.Append(c.id, journal.KindSend, line); err != nil {
				log.WithError(err).Error("connmgr: journal append failed, forcing close")
				c.closeSocket()
				return
			}
		}
	}
}

// NetDialer is the default Dialer: a plain net.Dialer, or a SOCKS5 dialer
// through ProxyAddr when set (per SPEC_FULL.md's proxy-per-profile
// supplement).
type NetDialer struct {
	Timeout   time.Duration
	ProxyAddr string // "host:port", empty disables proxying
}

func (d NetDialer) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.ProxyAddr == "" {
		nd := &net.Dialer{Timeout: d.Timeout}
		return nd.DialContext(ctx, network, addr)
	}

	socksDialer, err := proxy.SOCKS5(network, d.ProxyAddr, nil, &net.Dialer{Timeout: d.Timeout})
	if err != nil {
		return nil, fmt.Errorf("connmgr: socks5 dialer: %w", err)
	}
	// golang.org/x/net/proxy's Dialer predates context.Context; honor
	// ctx's deadline by racing the blocking Dial against it.
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := socksDialer.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
