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

	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/http2"
)

// isH2Preface peeks the connection-preface bytes (RFC 7540 §3.5) without
// losing them to a later HTTP/1 parse attempt if they don't match.
func isH2Preface(u *unreader.Unreader) (bool, error) {
	b, err := u.ReadExact(len(http2.Preface))
	if err != nil {
		if len(b) > 0 {
			u.Unread(b)
		}
		return false, nil
	}
	if string(b) == http2.Preface {
		return true, nil
	}
	u.Unread(b)
	return false, nil
}

// serveHTTP2 hands the connection to the multiplexer
// once the client preface has been consumed by isH2Preface.
func (e *Engine) serveHTTP2(conn net.Conn) {
	c := http2.NewConnection(conn, e.cfg.HTTP2Settings, func(s *http2.Stream, w *http2.ResponseWriter) {
		e.serveHTTP2Stream(s, w)
	})
	if err := c.Serve(); err != nil && err != io.EOF {
		return
	}
}

func (e *Engine) serveHTTP2Stream(s *http2.Stream, w *http2.ResponseWriter) {
	req := s.Request()
	scope := e.scopeFromRequest(req)
	scope.HTTPVersion = "2"

	bodyDone := false
	receive := func() (*proto.ASGIEvent, error) {
		if bodyDone {
			return &proto.ASGIEvent{Type: proto.EventHTTPDisconnect}, nil
		}
		buf := make([]byte, 64*1024)
		n, err := s.Read(buf)
		if err != nil {
			bodyDone = true
			return &proto.ASGIEvent{Type: proto.EventHTTPRequest, Body: buf[:n], MoreBody: false}, nil
		}
		return &proto.ASGIEvent{Type: proto.EventHTTPRequest, Body: buf[:n], MoreBody: true}, nil
	}

	headersSent, closed := false, false
	send := func(ev *proto.ASGIEvent) error {
		switch ev.Type {
		case proto.EventHTTPResponseInfo:
			return w.SendInformational(ev.Status, ev.Headers)
		case proto.EventHTTPResponseStart:
			headersSent = true
			return w.WriteHeader(ev.Status, ev.Headers, false)
		case proto.EventHTTPResponseBody:
			if !headersSent || closed {
				return nil
			}
			if len(ev.Body) == 0 && !ev.MoreBody {
				closed = true
				return w.Close()
			}
			_, err := w.Write(ev.Body)
			return err
		case proto.EventHTTPResponseTrailers:
			if !headersSent || closed {
				return nil
			}
			closed = true
			return w.SendTrailers(ev.Headers)
		}
		return nil
	}

	defer rescue.HandleCrash()
	e.app(scope, receive, send)
	if !closed {
		w.Close()
	}
	s.Drain()
}
