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

package asgi

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/internal/tracekit"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/response"
)

// scopeFromRequest builds the ASGI http scope from a
// parsed request, sharing lifespanState as the scope's state.
func (e *Engine) scopeFromRequest(req *proto.Request) *proto.ASGIScope {
	headers := make([][2][]byte, 0, len(req.Headers))
	for _, h := range req.Headers {
		headers = append(headers, [2][]byte{
			[]byte(strings.ToLower(h.Name)),
			[]byte(h.Value),
		})
	}
	return &proto.ASGIScope{
		Type:        "http",
		HTTPVersion: httpVersionString(req.Version),
		Method:      req.Method,
		Scheme:      req.Scheme,
		Path:        req.Path,
		RawPath:     []byte(req.RawPath),
		QueryString: []byte(req.RawQuery),
		RootPath:    "",
		Headers:     headers,
		Server:      &net.TCPAddr{IP: net.ParseIP(req.ServerName), Port: req.ServerPort},
		Client:      req.RemoteAddr,
		State:       e.lifespanState,
	}
}

func httpVersionString(v proto.Version) string {
	if v.Major == 1 && v.Minor == 0 {
		return "1.0"
	}
	if v.Major == 2 {
		return "2"
	}
	return "1.1"
}

// serveHTTP bridges one HTTP/1 request into the ASGI http protocol
///send() multiplexing over http.request,
// http.response.start, http.response.body, and http.disconnect).
func (e *Engine) serveHTTP(conn net.Conn, req *proto.Request) {
	scope := e.scopeFromRequest(req)
	w := response.New(conn, req.Version)

	traceID := tracekit.RequestTraceID(req.Headers)
	logger.Debugf("asgi: trace=%s %s %s", traceID, req.Method, req.Path)

	bodyDone := false
	receive := func() (*proto.ASGIEvent, error) {
		if bodyDone {
			return &proto.ASGIEvent{Type: proto.EventHTTPDisconnect}, nil
		}
		buf := make([]byte, 64*1024)
		n, err := req.Body.Read(buf)
		if err != nil && err != io.EOF {
			bodyDone = true
			return &proto.ASGIEvent{Type: proto.EventHTTPDisconnect}, nil
		}
		more := err != io.EOF
		if !more {
			bodyDone = true
		}
		return &proto.ASGIEvent{Type: proto.EventHTTPRequest, Body: buf[:n], MoreBody: more}, nil
	}

	var writeFn func([]byte) error
	send := func(ev *proto.ASGIEvent) error {
		switch ev.Type {
		case proto.EventHTTPResponseInfo:
			return w.SendInformational(ev.Status, ev.Headers)
		case proto.EventHTTPResponseStart:
			fn, err := w.StartResponse(ev.Status, "", ev.Headers, nil)
			if err != nil {
				return err
			}
			writeFn = fn
			return nil
		case proto.EventHTTPResponseBody:
			if writeFn != nil && len(ev.Body) > 0 {
				return writeFn(ev.Body)
			}
			return nil
		case proto.EventHTTPResponseTrailers:
			return w.SendTrailers(ev.Headers)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rescue.HandleCrash()
		e.app(scope, receive, send)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.DisconnectGracePeriod + e.cfg.GracefulTimeout):
		// handler outlived even the graceful timeout; let Close below
		// terminate the response rather than blocking the worker
		// forever instead of waiting on a handler that will never see
		// its own disconnect event consumed.
	}

	w.Close()
	if req.Body != nil {
		if err := req.Body.Drain(); err != nil {
			req.MustClose = true
		}
	}
}
