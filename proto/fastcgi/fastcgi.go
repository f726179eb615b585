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

// Package fastcgi implements the FastCGI wire codec: 8-byte record framing, BEGIN_REQUEST/PARAMS/STDIN handling, and
// per-connection multiplexing across concurrent requestIds.
package fastcgi

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// Record types used; only the subset this server needs.
const (
	typeBeginRequest = 1
	typeAbortRequest = 2
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7
)

// Roles; only Responder is supported.
const (
	roleResponder = 1
)

// Protocol status codes for END_REQUEST.
const (
	StatusRequestComplete = 0
	StatusUnknownRole     = 3
)

const headerLen = 8

type recordHeader struct {
	version       byte
	recType       byte
	requestID     uint16
	contentLength uint16
	paddingLength byte
}

func readRecordHeader(u *unreader.Unreader) (*recordHeader, error) {
	b, err := u.ReadExact(headerLen)
	if err != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi record header: %v", err)
	}
	return &recordHeader{
		version:       b[0],
		recType:       b[1],
		requestID:     binary.BigEndian.Uint16(b[2:4]),
		contentLength: binary.BigEndian.Uint16(b[4:6]),
		paddingLength: b[6],
	}, nil
}

// partialRequest accumulates PARAMS and STDIN records for one requestId
// until both are terminated by an empty record.
type partialRequest struct {
	paramsBuf   bytes.Buffer
	stdinBuf    bytes.Buffer
	paramsDone  bool
	stdinDone   bool
	keepConn    bool
}

func (p *partialRequest) ready() bool { return p.paramsDone && p.stdinDone }

// ConnState tracks in-flight requests for one FastCGI connection,
// implementing the per-connection state object.
type ConnState struct {
	u       *unreader.Unreader
	peer    net.Addr
	pending map[uint16]*partialRequest
}

// NewConnState wraps one FastCGI connection.
func NewConnState(u *unreader.Unreader, peer net.Addr) *ConnState {
	return &ConnState{u: u, peer: peer, pending: make(map[uint16]*partialRequest)}
}

// ReadRequest blocks reading records until one requestId completes both
// PARAMS and STDIN, then returns its canonical Request. Records for other
// in-flight requestIds are buffered and returned on a later call.
func (c *ConnState) ReadRequest() (uint16, *proto.Request, error) {
	for {
		hdr, err := readRecordHeader(c.u)
		if err != nil {
			return 0, nil, err
		}
		content, err := c.u.ReadExact(int(hdr.contentLength))
		if err != nil {
			return 0, nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi record content: %v", err)
		}
		if hdr.paddingLength > 0 {
			if _, err := c.u.ReadExact(int(hdr.paddingLength)); err != nil {
				return 0, nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi record padding: %v", err)
			}
		}

		switch hdr.recType {
		case typeBeginRequest:
			if len(content) < 8 {
				return 0, nil, proto.NewStatusError(proto.StatusBadRequest, "truncated BEGIN_REQUEST body")
			}
			role := binary.BigEndian.Uint16(content[0:2])
			flags := content[2]
			if role != roleResponder {
				return 0, nil, proto.NewStatusError(proto.StatusNotImplemented, "unsupported fastcgi role %d", role)
			}
			c.pending[hdr.requestID] = &partialRequest{keepConn: flags&1 != 0}

		case typeAbortRequest:
			delete(c.pending, hdr.requestID)

		case typeParams:
			pr := c.pending[hdr.requestID]
			if pr == nil {
				continue
			}
			if len(content) == 0 {
				pr.paramsDone = true
			} else {
				pr.paramsBuf.Write(content)
			}

		case typeStdin:
			pr := c.pending[hdr.requestID]
			if pr == nil {
				continue
			}
			if len(content) == 0 {
				pr.stdinDone = true
			} else {
				pr.stdinBuf.Write(content)
			}

		default:
			// unrecognized record type, ignored (management records etc.)
			continue
		}

		pr, ok := c.pending[hdr.requestID]
		if !ok || !pr.ready() {
			continue
		}
		delete(c.pending, hdr.requestID)

		vars, err := parseParams(pr.paramsBuf.Bytes())
		if err != nil {
			return 0, nil, err
		}
		req, err := proto.RequestFromCGIVars(vars, c.peer)
		if err != nil {
			return 0, nil, err
		}
		req.Body = newStaticBody(pr.stdinBuf.Bytes())
		req.MustClose = !pr.keepConn
		req.KeepAlive = pr.keepConn
		return hdr.requestID, req, nil
	}
}

// parseParams decodes PARAMS name/value pairs: each length is
// 1 byte if the high bit is clear, else a 4-byte big-endian value with
// the high bit cleared.
func parseParams(b []byte) (map[string]string, error) {
	vars := make(map[string]string)
	for len(b) > 0 {
		nameLen, b2, err := readParamLen(b)
		if err != nil {
			return nil, err
		}
		b = b2
		valLen, b3, err := readParamLen(b)
		if err != nil {
			return nil, err
		}
		b = b3

		if len(b) < nameLen+valLen {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi param")
		}
		name := string(b[:nameLen])
		val := string(b[nameLen : nameLen+valLen])
		b = b[nameLen+valLen:]
		vars[name] = val
	}
	return vars, nil
}

func readParamLen(b []byte) (int, []byte, error) {
	if len(b) == 0 {
		return 0, nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi param length")
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), b[1:], nil
	}
	if len(b) < 4 {
		return 0, nil, proto.NewStatusError(proto.StatusBadRequest, "truncated fastcgi extended param length")
	}
	n := binary.BigEndian.Uint32(b[:4]) &^ (1 << 31)
	return int(n), b[4:], nil
}
