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

// Package http2 implements the HTTP/2 stream multiplexer: per-stream state per RFC 7540 §5.1, flow control windows, HPACK
// header compression, priority, and GOAWAY error mapping.
package http2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types (RFC 7540 §6).
const (
	FrameData         byte = 0x0
	FrameHeaders      byte = 0x1
	FramePriority     byte = 0x2
	FrameRSTStream    byte = 0x3
	FrameSettings     byte = 0x4
	FramePushPromise  byte = 0x5
	FramePing         byte = 0x6
	FrameGoAway       byte = 0x7
	FrameWindowUpdate byte = 0x8
	FrameContinuation byte = 0x9
)

// Frame flags.
const (
	FlagEndStream  byte = 0x1
	FlagEndHeaders byte = 0x4
	FlagPadded     byte = 0x8
	FlagPriority   byte = 0x20
	FlagACK        byte = 0x1
)

// Error codes (RFC 7540 §7), used both on RST_STREAM and GOAWAY.
const (
	ErrNoError            uint32 = 0x0
	ErrProtocolError      uint32 = 0x1
	ErrInternalError      uint32 = 0x2
	ErrFlowControlError   uint32 = 0x3
	ErrSettingsTimeout    uint32 = 0x4
	ErrStreamClosed       uint32 = 0x5
	ErrFrameSizeError     uint32 = 0x6
	ErrRefusedStream      uint32 = 0x7
	ErrCancel             uint32 = 0x8
	ErrCompressionError   uint32 = 0x9
	ErrConnectError       uint32 = 0xa
	ErrEnhanceYourCalm    uint32 = 0xb
	ErrInadequateSecurity uint32 = 0xc
	ErrHTTP11Required     uint32 = 0xd
)

// Preface is the connection preface every HTTP/2 client sends before any
// frame (RFC 7540 §3.5).
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// FrameHeader is the 9-byte frame header common to every HTTP/2 frame.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     byte
	Flags    byte
	StreamID uint32 // 31 bits, high bit reserved
}

// ReadFrameHeader reads and validates one 9-byte frame header.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FrameHeader{}, err
	}
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	streamID := binary.BigEndian.Uint32(buf[5:9]) &^ (1 << 31)
	return FrameHeader{
		Length:   length,
		Type:     buf[3],
		Flags:    buf[4],
		StreamID: streamID,
	}, nil
}

// WriteFrameHeader serializes fh to w.
func WriteFrameHeader(w io.Writer, fh FrameHeader) error {
	var buf [9]byte
	buf[0] = byte(fh.Length >> 16)
	buf[1] = byte(fh.Length >> 8)
	buf[2] = byte(fh.Length)
	buf[3] = fh.Type
	buf[4] = fh.Flags
	binary.BigEndian.PutUint32(buf[5:9], fh.StreamID&^(1<<31))
	_, err := w.Write(buf[:])
	return err
}

func (fh FrameHeader) String() string {
	return fmt.Sprintf("type=%#x flags=%#x stream=%d len=%d", fh.Type, fh.Flags, fh.StreamID, fh.Length)
}
