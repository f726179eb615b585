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

// Package demoapp is the built-in application callable appforged serves
// when no embedding program supplies its own. Go has no runtime
// import-by-string equivalent to Python's "module:callable" application
// loading, so this package is what a Go deployment wires in at compile
// time instead, and exists here only so `appforged serve` is runnable
// standalone.
package demoapp

import (
	"fmt"

	"github.com/appforge/appforge/engine/asgi"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/response"
)

// Threaded answers every request with a small status page, exercising
// start_response/write/close the way any WSGI-style callable would.
func Threaded(req *proto.Request, w *response.Writer) {
	body := []byte(fmt.Sprintf("ok\nmethod=%s path=%s\n", req.Method, req.Path))
	headers := proto.Headers{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: fmt.Sprintf("%d", len(body))},
	}
	write, err := w.StartResponse(200, "OK", headers, nil)
	if err != nil {
		return
	}
	write(body)
}

// ASGI answers every http scope with the same status page via the
// ASGI send() protocol, and completes the lifespan and websocket
// protocols trivially.
func ASGI(scope *proto.ASGIScope, receive asgi.Receive, send asgi.Send) {
	switch scope.Type {
	case "lifespan":
		for {
			ev, err := receive()
			if err != nil {
				return
			}
			switch ev.Type {
			case proto.EventLifespanStartup:
				send(&proto.ASGIEvent{Type: proto.EventLifespanStartupComplete})
			case proto.EventLifespanShutdown:
				send(&proto.ASGIEvent{Type: proto.EventLifespanShutdownComplete})
				return
			}
		}

	case "websocket":
		receive() // websocket.connect
		send(&proto.ASGIEvent{Type: proto.EventWebSocketAccept})
		for {
			ev, err := receive()
			if err != nil || ev.Type == proto.EventWebSocketDisconnect {
				return
			}
			send(&proto.ASGIEvent{Type: proto.EventWebSocketSend, Text: ev.Text, Bytes: ev.Bytes})
		}

	default: // "http"
		for {
			ev, err := receive()
			if err != nil || ev.Type == proto.EventHTTPDisconnect {
				return
			}
			if !ev.MoreBody {
				body := []byte(fmt.Sprintf("ok\nmethod=%s path=%s\n", scope.Method, scope.Path))
				send(&proto.ASGIEvent{
					Type:   proto.EventHTTPResponseStart,
					Status: 200,
					Headers: proto.Headers{
						{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
					},
				})
				send(&proto.ASGIEvent{Type: proto.EventHTTPResponseBody, Body: body})
				return
			}
		}
	}
}
