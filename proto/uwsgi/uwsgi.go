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

// Package uwsgi implements the uWSGI wire codec:
// the 4-byte packet header, the vars block, and translation of CGI-style
// variables into the canonical proto.Request shape.
package uwsgi

import (
	"encoding/binary"
	"net"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// MaxVars bounds the number of vars block entries to guard against a
// malicious or buggy front-end flooding memory.
const MaxVars = 1000

// ReadPacket reads one uWSGI packet header plus its vars block off u,
// returning the canonical Request. The request Body is a length-delimited
// reader framed by CONTENT_LENGTH.
func ReadPacket(u *unreader.Unreader, peer net.Addr) (*proto.Request, error) {
	hdr, err := u.ReadExact(4)
	if err != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi header: %v", err)
	}
	modifier1 := hdr[0]
	dataSize := binary.LittleEndian.Uint16(hdr[1:3])
	modifier2 := hdr[3]
	if modifier1 != 0 {
		return nil, proto.NewStatusError(proto.StatusNotImplemented, "unsupported uwsgi modifier1 %d", modifier1)
	}
	_ = modifier2

	varsBlock, err := u.ReadExact(int(dataSize))
	if err != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi vars block: %v", err)
	}
	vars, err := parseVarsBlock(varsBlock)
	if err != nil {
		return nil, err
	}

	req, err := proto.RequestFromCGIVars(vars, peer)
	if err != nil {
		return nil, err
	}

	n := 0
	if cl, ok := vars["CONTENT_LENGTH"]; ok {
		if parsed, err := parseNonNegInt(cl); err == nil {
			n = parsed
		}
	}
	req.Body = newLengthReader(u, n)
	return req, nil
}

// parseVarsBlock decodes the repeated `key_size-LE16 key val_size-LE16
// val` records.
func parseVarsBlock(b []byte) (map[string]string, error) {
	vars := make(map[string]string)
	count := 0
	for len(b) > 0 {
		count++
		if count > MaxVars {
			return nil, proto.NewStatusError(proto.StatusRequestHeaderLarge, "too many uwsgi vars")
		}
		if len(b) < 2 {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi var key size")
		}
		ksz := int(binary.LittleEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < ksz {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi var key")
		}
		key := string(b[:ksz])
		b = b[ksz:]

		if len(b) < 2 {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi var val size")
		}
		vsz := int(binary.LittleEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < vsz {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated uwsgi var val")
		}
		val := string(b[:vsz])
		b = b[vsz:]

		vars[key] = val
	}
	return vars, nil
}

func parseNonNegInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, proto.NewStatusError(proto.StatusBadRequest, "empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, proto.NewStatusError(proto.StatusBadRequest, "invalid integer %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
