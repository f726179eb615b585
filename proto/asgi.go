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

package proto

import "net"

// ASGIScope is the ASGI scope dict; Go
// applications receive it as a struct instead of a dynamically-typed
// dict, with State carrying the lifespan-shared state map.
type ASGIScope struct {
	Type        string // "http", "websocket", or "lifespan"
	HTTPVersion string
	Method      string
	Scheme      string
	Path        string
	RawPath     []byte
	QueryString []byte
	RootPath    string
	Headers     [][2][]byte // lower-cased name, raw value
	Server      net.Addr
	Client      net.Addr
	Subprotocols []string // websocket only

	State map[string]any // shared across the lifespan of the worker
}

// ASGIEvent is the tagged-union message exchanged over send()/receive()
//: only the payload fields relevant to Type are set.
type ASGIEvent struct {
	Type string

	// http.*
	Status      int
	Headers     Headers
	Body        []byte
	MoreBody    bool
	Trailers    bool

	// http.disconnect / websocket.disconnect
	Code int

	// websocket.*
	Text   string
	Bytes  []byte

	// lifespan.*
	Message string
}

// Event type constants multiplexing and receive()'s
// disconnect delivery).
const (
	EventHTTPRequest        = "http.request"
	EventHTTPDisconnect     = "http.disconnect"
	EventHTTPResponseStart  = "http.response.start"
	EventHTTPResponseBody   = "http.response.body"
	EventHTTPResponseInfo   = "http.response.informational"
	EventHTTPResponseTrailers = "http.response.trailers"

	EventWebSocketConnect    = "websocket.connect"
	EventWebSocketAccept     = "websocket.accept"
	EventWebSocketReceive    = "websocket.receive"
	EventWebSocketSend       = "websocket.send"
	EventWebSocketDisconnect = "websocket.disconnect"
	EventWebSocketClose      = "websocket.close"

	EventLifespanStartup         = "lifespan.startup"
	EventLifespanStartupComplete = "lifespan.startup.complete"
	EventLifespanStartupFailed   = "lifespan.startup.failed"
	EventLifespanShutdown        = "lifespan.shutdown"
	EventLifespanShutdownComplete = "lifespan.shutdown.complete"
	EventLifespanShutdownFailed   = "lifespan.shutdown.failed"
)
