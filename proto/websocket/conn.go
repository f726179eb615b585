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

package websocket

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/appforge/appforge/internal/unreader"
)

// Message is one reassembled application message.
type Message struct {
	Opcode  byte // OpText or OpBinary
	Payload []byte
}

// Conn is the WebSocket connection object: transport +
// accepted flag + closed flag + fragmentation state + a bounded
// receive queue of parsed messages. Not safe for concurrent Read; Write
// may be called concurrently with Read/Pump.
type Conn struct {
	out io.Writer
	mu  sync.Mutex

	accepted bool
	closed   bool

	fragOpcode byte
	fragBuf    []byte

	Messages chan *Message // bounded receive queue

	closeOnce sync.Once
}

// QueueDepth bounds the receive queue so a client that floods small
// messages can't grow server memory without limit.
const QueueDepth = 64

// NewConn wraps out (the connection's write side) for framed sends.
func NewConn(out io.Writer) *Conn {
	return &Conn{out: out, Messages: make(chan *Message, QueueDepth)}
}

// Pump reads frames from u until a Close frame, EOF, or protocol error,
// delivering reassembled messages to Messages and answering Ping/Close
// control frames itself. Intended to run in its own goroutine.
func (c *Conn) Pump(u *unreader.Unreader) error {
	defer close(c.Messages)
	for {
		f, err := ReadFrame(u)
		if err != nil {
			return err
		}
		switch f.Opcode {
		case OpPing:
			if err := c.writeControl(OpPong, f.Payload); err != nil {
				return err
			}
		case OpPong:
			// liveness acknowledged; no action required
		case OpClose:
			code := CloseNormal
			if len(f.Payload) >= 2 {
				code = int(binary.BigEndian.Uint16(f.Payload[:2]))
			}
			c.Close(code, "")
			return nil
		case OpText, OpBinary:
			if c.fragOpcode != 0 {
				c.Close(CloseProtocolError, "data frame while fragmentation in progress")
				return errFragmentationProtocol
			}
			c.fragOpcode = f.Opcode
			c.fragBuf = append(c.fragBuf[:0], f.Payload...)
			if f.Fin {
				c.deliver()
			}
		case OpContinuation:
			if c.fragOpcode == 0 {
				c.Close(CloseProtocolError, "continuation with no open fragment")
				return errFragmentationProtocol
			}
			c.fragBuf = append(c.fragBuf, f.Payload...)
			if f.Fin {
				c.deliver()
			}
		default:
			return errUnknownOpcode
		}
	}
}

func (c *Conn) deliver() {
	msg := &Message{Opcode: c.fragOpcode, Payload: append([]byte(nil), c.fragBuf...)}
	c.fragOpcode = 0
	c.fragBuf = c.fragBuf[:0]
	c.Messages <- msg
}

// WriteMessage sends one unfragmented data frame.
func (c *Conn) WriteMessage(opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.out.Write(EncodeFrame(true, opcode, payload))
	return err
}

func (c *Conn) writeControl(opcode byte, payload []byte) error {
	return c.WriteMessage(opcode, payload)
}

// Close sends a Close frame (idempotent) with the given status code and
// reason.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed = true
		body := make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(body[:2], uint16(code))
		copy(body[2:], reason)
		err = c.WriteMessage(OpClose, body)
	})
	return err
}

// Accept marks the handshake as complete; engines use this to gate
// delivery of WebSocket-scope ASGI events.
func (c *Conn) Accept() { c.accepted = true }

func (c *Conn) Accepted() bool { return c.accepted }
func (c *Conn) Closed() bool   { return c.closed }

var errUnknownOpcode = &frameError{"websocket: unknown opcode"}
var errFragmentationProtocol = &frameError{"websocket: fragmentation protocol error"}

type frameError struct{ msg string }

func (e *frameError) Error() string { return e.msg }
