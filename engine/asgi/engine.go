// Copyright 2025 The appforge Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package asgi implements the async worker engine: a
// goroutine-per-connection model that bridges each parsed request (or
// WebSocket/HTTP2 stream) into an ASGI-style scope/receive/send triple,
// and runs the single lifespan task at worker boot and teardown. A lost
// client connection is not detected while a handler runs and handlers are
// never cancelled; an HTTP response is closed once the handler finishes or
// DisconnectGracePeriod plus GracefulTimeout has elapsed, whichever comes
// first, and the handler goroutine is left to run to completion.
//
// Python's asyncio event loop has no Go analogue worth reimplementing:
// goroutines plus channels already give every connection its own
// cooperative task, scheduled by the runtime instead of a hand-rolled
// loop, so receive()/send() are plain channel-backed closures rather
// than awaitable coroutines.
package asgi

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appforge/appforge/internal/heartbeat"
	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/http1"
	"github.com/appforge/appforge/proto/http2"
	"github.com/appforge/appforge/proto/response"
	"github.com/appforge/appforge/proto/websocket"
)

// Receive and Send are the ASGI awaitables, modeled as blocking
// functions since each connection already owns a dedicated goroutine.
type Receive func() (*proto.ASGIEvent, error)
type Send func(*proto.ASGIEvent) error

// Application is the ASGI application callable.
type Application func(scope *proto.ASGIScope, receive Receive, send Send)

// Config mirrors the ASGI-engine-relevant subset of the option
// table.
type Config struct {
	Threads               int             `config:"threads"`
	WorkerConnections     int             `config:"worker_connections"`
	MaxRequests           int             `config:"max_requests"`
	MaxRequestsJitter     int             `config:"max_requests_jitter"`
	Keepalive             time.Duration   `config:"keepalive"`
	GracefulTimeout       time.Duration   `config:"graceful_timeout"`
	DisconnectGracePeriod time.Duration   `config:"asgi_disconnect_grace_period"`
	HTTP1                 *http1.Config   `config:"http1"`
	HTTP2Settings         http2.Settings  `config:"-"`
}

// DefaultConfig mirrors uvicorn-style async-worker defaults.
func DefaultConfig() Config {
	return Config{
		Threads:               1000, // goroutines are cheap; this bounds concurrent connections, not OS threads
		WorkerConnections:     1000,
		Keepalive:             2 * time.Second,
		GracefulTimeout:       30 * time.Second,
		DisconnectGracePeriod: 3 * time.Second,
		HTTP1:                 http1.DefaultConfig(),
		HTTP2Settings:         http2.DefaultSettings(),
	}
}

// Engine is the async worker.
type Engine struct {
	cfg Config
	app Application
	token *heartbeat.Token

	sem chan struct{}

	nrConns int64
	nrReqs  int64
	maxReqsJittered int

	alive atomic.Bool
	done  chan struct{}
	wg    sync.WaitGroup

	lifespanState    map[string]any
	lifespanShutdown func() error
}

// New builds an Engine bound to app. The lifespan task is started
// synchronously so a failing startup surfaces before Serve begins
// accepting connections.
func New(cfg Config, app Application, token *heartbeat.Token) (*Engine, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = 1000
	}
	e := &Engine{
		cfg:           cfg,
		app:           app,
		token:         token,
		sem:           make(chan struct{}, cfg.Threads),
		done:          make(chan struct{}),
		lifespanState: make(map[string]any),
	}
	e.alive.Store(true)
	jitter := 0
	if cfg.MaxRequestsJitter > 0 {
		jitter = rand.Intn(cfg.MaxRequestsJitter)
	}
	e.maxReqsJittered = cfg.MaxRequests + jitter

	shutdown, err := runLifespan(app, e.lifespanState)
	if err != nil {
		return nil, err
	}
	e.lifespanShutdown = shutdown
	return e, nil
}

// Serve runs the accept loop over every given listener until Shutdown is
// called.
func (e *Engine) Serve(listeners []net.Listener) error {
	notify := time.NewTicker(time.Second)
	defer notify.Stop()

	acceptCh := make(chan net.Conn)
	for _, ln := range listeners {
		ln := ln
		go e.acceptLoop(ln, acceptCh)
	}

	for {
		select {
		case <-notify.C:
			if e.token != nil {
				e.token.Tick()
			}

		case conn := <-acceptCh:
			if conn == nil {
				continue
			}
			if atomic.LoadInt64(&e.nrConns) >= int64(e.cfg.WorkerConnections) {
				conn.Close()
				continue
			}
			atomic.AddInt64(&e.nrConns, 1)
			e.dispatch(conn)

		case <-e.done:
			return e.shutdown()
		}
	}
}

func (e *Engine) acceptLoop(ln net.Listener, out chan<- net.Conn) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !e.alive.Load() {
				return
			}
			logger.Debugf("asgi: accept error: %v", err)
			continue
		}
		select {
		case out <- conn:
		case <-e.done:
			conn.Close()
			return
		}
	}
}

// dispatch hands one connection to its own goroutine.
func (e *Engine) dispatch(conn net.Conn) {
	e.wg.Add(1)
	e.sem <- struct{}{}
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }()
		defer rescue.HandleCrash()
		e.serveConn(conn)
	}()
}

// serveConn runs the keepalive loop for one connection, dispatching each
// parsed request to either the HTTP handler or the WebSocket bridge.
func (e *Engine) serveConn(conn net.Conn) {
	defer atomic.AddInt64(&e.nrConns, -1)
	defer conn.Close()

	u := unreader.New(conn)

	if isH2, err := isH2Preface(u); err == nil && isH2 {
		e.serveHTTP2(conn)
		return
	}

	for reqNum := 1; ; reqNum++ {
		conn.SetReadDeadline(time.Time{})
		req, err := http1.Parse(u, conn.RemoteAddr(), reqNum, e.cfg.HTTP1)
		if err != nil {
			e.writeParseError(conn, err)
			return
		}

		if websocket.IsUpgradeRequest(req.Headers) {
			e.serveWebSocket(conn, u, req)
			return
		}

		e.serveHTTP(conn, req)

		n := atomic.AddInt64(&e.nrReqs, 1)
		if e.maxReqsJittered > 0 && n >= int64(e.maxReqsJittered) {
			e.alive.Store(false)
		}
		if req.ShouldClose() || !e.alive.Load() {
			return
		}
		conn.SetReadDeadline(time.Now().Add(e.cfg.Keepalive))
	}
}

func (e *Engine) writeParseError(conn net.Conn, err error) {
	status := 400
	if se, ok := err.(*proto.StatusError); ok {
		status = se.Status
	}
	w := response.New(conn, proto.Version{Major: 1, Minor: 1})
	if writeFn, werr := w.StartResponse(status, "", nil, nil); werr == nil {
		writeFn([]byte(err.Error()))
	}
	w.Close()
}

// Alive reports whether this worker should keep accepting connections.
func (e *Engine) Alive() bool { return e.alive.Load() }

// Shutdown implements the graceful/immediate stop sequence, running the
// lifespan.shutdown handshake before the listeners stop accepting.
func (e *Engine) Shutdown(graceful bool) {
	e.alive.Store(false)
	if e.lifespanShutdown != nil {
		if err := e.lifespanShutdown(); err != nil {
			logger.Errorf("asgi: lifespan shutdown: %v", err)
		}
	}
	if !graceful {
		close(e.done)
		return
	}
	go func() {
		deadline := time.After(e.cfg.GracefulTimeout)
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			if atomic.LoadInt64(&e.nrConns) == 0 {
				close(e.done)
				return
			}
			select {
			case <-deadline:
				close(e.done)
				return
			case <-tick.C:
			}
		}
	}()
}

func (e *Engine) shutdown() error {
	e.wg.Wait()
	return nil
}
