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
	"net"

	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
	"github.com/appforge/appforge/proto/websocket"
)

// serveWebSocket bridges the RFC 6455 handshake and frame stream into
// the ASGI websocket protocol: websocket.connect is
// delivered first, websocket.accept (or websocket.close before accept)
// answers the handshake, then inbound frames arrive as
// websocket.receive events while the application's outbound
// websocket.send/websocket.close events are written back as frames.
func (e *Engine) serveWebSocket(conn net.Conn, u *unreader.Unreader, req *proto.Request) {
	scope := e.scopeFromRequest(req)
	scope.Type = "websocket"
	scope.Subprotocols = req.Headers.Values("SEC-WEBSOCKET-PROTOCOL")

	wsConn := websocket.NewConn(conn)

	connectDelivered := false
	receive := func() (*proto.ASGIEvent, error) {
		if !connectDelivered {
			connectDelivered = true
			return &proto.ASGIEvent{Type: proto.EventWebSocketConnect}, nil
		}
		msg, ok := <-wsConn.Messages
		if !ok {
			return &proto.ASGIEvent{Type: proto.EventWebSocketDisconnect, Code: websocket.CloseNormal}, nil
		}
		ev := &proto.ASGIEvent{Type: proto.EventWebSocketReceive}
		if msg.Opcode == websocket.OpText {
			ev.Text = string(msg.Payload)
		} else {
			ev.Bytes = msg.Payload
		}
		return ev, nil
	}

	send := func(ev *proto.ASGIEvent) error {
		switch ev.Type {
		case proto.EventWebSocketAccept:
			wsConn.Accept()
			return writeHandshakeAccept(conn, req)
		case proto.EventWebSocketSend:
			if ev.Text != "" {
				return wsConn.WriteMessage(websocket.OpText, []byte(ev.Text))
			}
			return wsConn.WriteMessage(websocket.OpBinary, ev.Bytes)
		case proto.EventWebSocketClose:
			if !wsConn.Accepted() {
				// close before accept rejects the handshake with an HTTP 403
				_, err := conn.Write([]byte("HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
				return err
			}
			code := ev.Code
			if code == 0 {
				code = websocket.CloseNormal
			}
			return wsConn.Close(code, ev.Message)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rescue.HandleCrash()
		e.app(scope, receive, send)
	}()

	go func() {
		defer rescue.HandleCrash()
		wsConn.Pump(u)
	}()

	<-done
	if wsConn.Accepted() && !wsConn.Closed() {
		wsConn.Close(websocket.CloseNormal, "")
	}
}

// writeHandshakeAccept writes the RFC 6455 §4.2.2 101 response that
// completes the upgrade once the application sends websocket.accept.
func writeHandshakeAccept(conn net.Conn, req *proto.Request) error {
	key := req.Headers.Get("SEC-WEBSOCKET-KEY")
	accept := websocket.AcceptKey(key)
	head := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	_, err := conn.Write([]byte(head))
	return err
}
