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
	"fmt"

	"github.com/appforge/appforge/internal/unreader"
)

// Opcodes (RFC 6455 §5.2).
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// Close status codes (RFC 6455 §7.4.1) used by this module.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseProtocolError  = 1002
	CloseUnsupportedData = 1003
	CloseMessageTooBig  = 1009
	CloseInternalError  = 1011
)

// MaxFramePayload bounds a single frame's payload length to guard against
// a malicious Extended-payload-length claim exhausting memory.
const MaxFramePayload = 16 << 20

// Frame is one decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  byte
	Payload []byte
}

// ReadFrame reads exactly one frame off u, unmasking the payload if the
// MASK bit is set (always true for client→server frames per RFC 6455
// §5.1).
func ReadFrame(u *unreader.Unreader) (*Frame, error) {
	head, err := u.ReadExact(2)
	if err != nil {
		return nil, fmt.Errorf("websocket: truncated frame header: %w", err)
	}
	fin := head[0]&0x80 != 0
	opcode := head[0] & 0x0F
	masked := head[1]&0x80 != 0
	length := int64(head[1] & 0x7F)

	switch length {
	case 126:
		ext, err := u.ReadExact(2)
		if err != nil {
			return nil, fmt.Errorf("websocket: truncated extended length: %w", err)
		}
		length = int64(binary.BigEndian.Uint16(ext))
	case 127:
		ext, err := u.ReadExact(8)
		if err != nil {
			return nil, fmt.Errorf("websocket: truncated extended length: %w", err)
		}
		length = int64(binary.BigEndian.Uint64(ext))
		if length < 0 {
			return nil, fmt.Errorf("websocket: negative frame length")
		}
	}
	if length > MaxFramePayload {
		return nil, fmt.Errorf("websocket: frame payload %d exceeds limit", length)
	}
	if isControlOpcode(opcode) && (length > 125 || !fin) {
		return nil, fmt.Errorf("websocket: control frame must be unfragmented and <=125 bytes")
	}

	var maskKey []byte
	if masked {
		maskKey, err = u.ReadExact(4)
		if err != nil {
			return nil, fmt.Errorf("websocket: truncated masking key: %w", err)
		}
	}

	payload, err := u.ReadExact(int(length))
	if err != nil {
		return nil, fmt.Errorf("websocket: truncated payload: %w", err)
	}
	if masked {
		unmask(payload, maskKey)
	}

	return &Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

func isControlOpcode(op byte) bool {
	return op == OpClose || op == OpPing || op == OpPong
}

func unmask(payload, key []byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// EncodeFrame serializes one server→client frame. Server frames are
// never masked (RFC 6455 §5.1).
func EncodeFrame(fin bool, opcode byte, payload []byte) []byte {
	var head []byte
	first := opcode
	if fin {
		first |= 0x80
	}
	switch {
	case len(payload) < 126:
		head = []byte{first, byte(len(payload))}
	case len(payload) <= 0xFFFF:
		head = make([]byte, 4)
		head[0], head[1] = first, 126
		binary.BigEndian.PutUint16(head[2:], uint16(len(payload)))
	default:
		head = make([]byte, 10)
		head[0], head[1] = first, 127
		binary.BigEndian.PutUint64(head[2:], uint64(len(payload)))
	}
	return append(head, payload...)
}
