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

// Package threaded implements the threaded worker engine: an accept loop feeding a bounded worker pool, an idle-keepalive
// registry ordered by deadline, backpressure via accept-enable/disable,
// and a graceful shutdown sequence.
//
// Go's net package already multiplexes readiness through the runtime
// netpoller, so this engine uses one goroutine per accepted connection
// guarded by a counting semaphore rather than hand-rolled epoll/kqueue;
// the method queue becomes an ordinary Go channel used to
// hand finished connections back to the keepalive registry.
package threaded

import (
	"container/heap"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appforge/appforge/common"
	"github.com/appforge/appforge/internal/heartbeat"
	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/internal/tracekit"
	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/http1"
	"github.com/appforge/appforge/proto/response"
)

// Config mirrors the threaded-engine-relevant subset of the option
// table.
type Config struct {
	Threads           int           `config:"threads"`
	WorkerConnections int           `config:"worker_connections"`
	MaxRequests       int           `config:"max_requests"`
	MaxRequestsJitter int           `config:"max_requests_jitter"`
	Keepalive         time.Duration `config:"keepalive"`
	GracefulTimeout   time.Duration `config:"graceful_timeout"`
	HTTP1             *http1.Config `config:"http1"`
}

// DefaultConfig mirrors gunicorn-style sync-worker defaults, sizing the
// thread pool to twice the host's CPU count (common.Concurrency).
func DefaultConfig() Config {
	return Config{
		Threads:           common.Concurrency(),
		WorkerConnections: 1000,
		Keepalive:         2 * time.Second,
		GracefulTimeout:   30 * time.Second,
		HTTP1:             http1.DefaultConfig(),
	}
}

// Application is the callable the engine invokes for each parsed request,
// analogous to a WSGI application callable.
type Application func(req *proto.Request, w *response.Writer)

// Engine is the threaded worker.
type Engine struct {
	cfg     Config
	app     Application
	token   *heartbeat.Token

	sem chan struct{} // bounds total in-flight handler goroutines (the "thread pool")

	nrConns int64 // atomic: busy + idle connections tracked by this worker
	nrReqs  int64 // atomic: requests served, for max_requests self-restart
	maxReqsJittered int

	idleMu  sync.Mutex
	idle    idleHeap

	alive   atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	returnCh chan *idleEntry // the "method queue": handler goroutines hand keepalive conns back here
}

// idleEntry is one connection parked in the keepalive registry.
type idleEntry struct {
	conn     net.Conn
	u        *unreader.Unreader
	deadline time.Time
	reqNum   int
	index    int
}

type idleHeap []*idleEntry

func (h idleHeap) Len() int            { return len(h) }
func (h idleHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h idleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *idleHeap) Push(x any)         { e := x.(*idleEntry); e.index = len(*h); *h = append(*h, e) }
func (h *idleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// New builds an Engine that will serve app.
func New(cfg Config, app Application, token *heartbeat.Token) *Engine {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	e := &Engine{
		cfg:      cfg,
		app:      app,
		token:    token,
		sem:      make(chan struct{}, cfg.Threads),
		done:     make(chan struct{}),
		returnCh: make(chan *idleEntry, cfg.WorkerConnections),
	}
	e.alive.Store(true)
	jitter := 0
	if cfg.MaxRequestsJitter > 0 {
		jitter = rand.Intn(cfg.MaxRequestsJitter)
	}
	e.maxReqsJittered = cfg.MaxRequests + jitter
	return e
}

// Serve runs the accept loop over every given listener until Shutdown is
// called or the graceful timeout elapses, or until the worker is no longer
// alive (max_requests reached) and no connections remain.
func (e *Engine) Serve(listeners []net.Listener) error {
	notify := time.NewTicker(time.Second)
	defer notify.Stop()

	acceptCh := make(chan net.Conn)
	for _, ln := range listeners {
		ln := ln
		go e.acceptLoop(ln, acceptCh)
	}

	murderTick := time.NewTicker(250 * time.Millisecond)
	defer murderTick.Stop()

	for {
		// Backpressure: stop taking connections from the accept loops while
		// worker_connections is reached or the worker is no longer alive.
		var incoming <-chan net.Conn
		if e.alive.Load() && e.acceptEnabled() {
			incoming = acceptCh
		}

		select {
		case <-notify.C:
			if e.token != nil {
				e.token.Tick()
			}
			if !e.alive.Load() && atomic.LoadInt64(&e.nrConns) == 0 {
				return e.shutdown()
			}

		case conn := <-incoming:
			if conn == nil {
				continue
			}
			atomic.AddInt64(&e.nrConns, 1)
			e.dispatch(conn, nil, 1)

		case entry := <-e.returnCh:
			e.registerIdle(entry)

		case <-murderTick.C:
			e.murderKeepalived()

		case <-e.done:
			return e.shutdown()
		}
	}
}

func (e *Engine) acceptEnabled() bool {
	return atomic.LoadInt64(&e.nrConns) < int64(e.cfg.WorkerConnections)
}

func (e *Engine) acceptLoop(ln net.Listener, out chan<- net.Conn) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !e.alive.Load() {
				return
			}
			logger.Debugf("threaded: accept error: %v", err)
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

// dispatch hands one connection to the bounded worker pool.
func (e *Engine) dispatch(conn net.Conn, u *unreader.Unreader, reqNum int) {
	if u == nil {
		u = unreader.New(conn)
	}
	e.wg.Add(1)
	e.sem <- struct{}{}
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }()
		defer rescue.HandleCrash()
		e.handle(conn, u, reqNum)
	}()
}

func (e *Engine) handle(conn net.Conn, u *unreader.Unreader, reqNum int) {
	req, err := http1.Parse(u, conn.RemoteAddr(), reqNum, e.cfg.HTTP1)
	if err != nil {
		e.writeParseError(conn, err)
		atomic.AddInt64(&e.nrConns, -1)
		conn.Close()
		return
	}

	traceID := tracekit.RequestTraceID(req.Headers)
	logger.Debugf("threaded: trace=%s %s %s", traceID, req.Method, req.Path)

	w := response.New(conn, req.Version)
	e.app(req, w)
	w.Close()

	if req.Body != nil {
		if err := req.Body.Drain(); err != nil {
			req.MustClose = true
		}
	}

	n := atomic.AddInt64(&e.nrReqs, 1)
	if e.maxReqsJittered > 0 && n >= int64(e.maxReqsJittered) {
		e.alive.Store(false) // self-restart requested; supervisor respawns
	}

	if req.ShouldClose() || !e.alive.Load() {
		atomic.AddInt64(&e.nrConns, -1)
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(e.cfg.Keepalive))
	select {
	case e.returnCh <- &idleEntry{conn: conn, u: u, deadline: time.Now().Add(e.cfg.Keepalive), reqNum: reqNum + 1}:
	case <-e.done:
		atomic.AddInt64(&e.nrConns, -1)
		conn.Close()
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

func (e *Engine) registerIdle(entry *idleEntry) {
	e.idleMu.Lock()
	heap.Push(&e.idle, entry)
	e.idleMu.Unlock()
	go e.waitForReadiness(entry)
}

// waitForReadiness blocks on a one-byte read to detect either new
// data (pipelined request) or peer close, standing in for registering
// the idle fd with a readiness poller.
func (e *Engine) waitForReadiness(entry *idleEntry) {
	probe := make([]byte, 1)
	n, err := entry.conn.Read(probe)
	e.idleMu.Lock()
	if entry.index < 0 || entry.index >= len(e.idle) || e.idle[entry.index] != entry {
		e.idleMu.Unlock()
		return // already removed by murderKeepalived
	}
	heap.Remove(&e.idle, entry.index)
	e.idleMu.Unlock()

	if err != nil || n == 0 {
		atomic.AddInt64(&e.nrConns, -1)
		entry.conn.Close()
		return
	}
	entry.u.Unread(probe[:n])
	e.dispatch(entry.conn, entry.u, entry.reqNum)
}

// murderKeepalived pops every registry entry whose deadline has passed
// and closes the underlying connection.
func (e *Engine) murderKeepalived() {
	now := time.Now()
	e.idleMu.Lock()
	var expired []*idleEntry
	for e.idle.Len() > 0 && e.idle[0].deadline.Before(now) {
		expired = append(expired, heap.Pop(&e.idle).(*idleEntry))
	}
	e.idleMu.Unlock()

	for _, entry := range expired {
		atomic.AddInt64(&e.nrConns, -1)
		entry.conn.Close()
	}
}

// Shutdown implements the graceful/fast shutdown sequence for SIGTERM
// (graceful) when graceful is true, or SIGQUIT (immediate) otherwise.
func (e *Engine) Shutdown(graceful bool) {
	e.alive.Store(false)
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
	e.idleMu.Lock()
	for e.idle.Len() > 0 {
		entry := heap.Pop(&e.idle).(*idleEntry)
		entry.conn.Close()
	}
	e.idleMu.Unlock()
	e.wg.Wait()
	return nil
}

// Alive reports whether this worker should keep accepting connections;
// false means the supervisor should be allowed to respawn a fresh one.
func (e *Engine) Alive() bool { return e.alive.Load() }
