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

// Package websocket implements the RFC 6455 framing layer: handshake accept computation, masking/fragmentation/control
// frames, and the connection object the async engine drives.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"

	"github.com/appforge/appforge/proto"
)

// guid is the fixed GUID concatenated with Sec-WebSocket-Key before
// SHA-1 hashing (RFC 6455 §1.3).
const guid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept header value for a given
// Sec-WebSocket-Key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(guid))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// IsUpgradeRequest reports whether headers carry a well-formed WebSocket
// upgrade request: Connection:
// upgrade, Upgrade: websocket, Sec-WebSocket-Version: 13, and a
// Sec-WebSocket-Key present.
func IsUpgradeRequest(headers proto.Headers) bool {
	if headers.Get("SEC-WEBSOCKET-KEY") == "" {
		return false
	}
	if headers.Get("SEC-WEBSOCKET-VERSION") != "13" {
		return false
	}
	return hasToken(headers.Get("UPGRADE"), "websocket") && hasToken(headers.Get("CONNECTION"), "upgrade")
}

func hasToken(header, token string) bool {
	start := 0
	for i := 0; i <= len(header); i++ {
		if i == len(header) || header[i] == ',' {
			part := trimSpace(header[start:i])
			if equalFold(part, token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
