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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

func headersOf(m map[string]string) proto.Headers {
	var h proto.Headers
	for k, v := range m {
		h = append(h, proto.Header{Name: k, Value: v})
	}
	return h
}

// maskedClientFrame builds a masked client→server frame for payloads
// under 126 bytes, the only size this test file needs.
func maskedClientFrame(fin bool, opcode byte, payload []byte, key [4]byte) []byte {
	masked := make([]byte, len(payload))
	copy(masked, payload)
	for i := range masked {
		masked[i] ^= key[i%4]
	}

	first := opcode
	if fin {
		first |= 0x80
	}
	head := []byte{first, byte(len(payload)) | 0x80}
	head = append(head, key[:]...)
	return append(head, masked...)
}

func TestReadFrameUnmasksClientPayload(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	raw := maskedClientFrame(true, OpText, []byte("hello"), key)

	u := unreader.New(bytes.NewReader(raw))
	frame, err := ReadFrame(u)
	require.NoError(t, err)

	assert.True(t, frame.Fin)
	assert.Equal(t, OpText, frame.Opcode)
	assert.Equal(t, []byte("hello"), frame.Payload)
}

func TestReadFrameRejectsOversizedControlFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 126)
	key := [4]byte{1, 2, 3, 4}

	masked := make([]byte, len(payload))
	copy(masked, payload)
	for i := range masked {
		masked[i] ^= key[i%4]
	}
	raw := []byte{0x80 | OpPing, 0x80 | 126, 126 >> 8, 126 & 0xFF}
	raw = append(raw, key[:]...)
	raw = append(raw, masked...)

	u := unreader.New(bytes.NewReader(raw))
	_, err := ReadFrame(u)
	assert.Error(t, err)
}

func TestEncodeFrameSmallPayload(t *testing.T) {
	out := EncodeFrame(true, OpText, []byte("hi"))
	assert.Equal(t, byte(0x80|OpText), out[0])
	assert.Equal(t, byte(2), out[1])
	assert.Equal(t, []byte("hi"), out[2:])
}

func TestEncodeFrameLargePayloadUses16BitLength(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 200)
	out := EncodeFrame(true, OpBinary, payload)
	assert.Equal(t, byte(126), out[1])
	assert.Equal(t, payload, out[4:])
}

func TestAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestIsUpgradeRequest(t *testing.T) {
	good := headersOf(map[string]string{
		"SEC-WEBSOCKET-KEY":     "dGhlIHNhbXBsZSBub25jZQ==",
		"SEC-WEBSOCKET-VERSION": "13",
		"UPGRADE":               "websocket",
		"CONNECTION":            "Upgrade",
	})
	assert.True(t, IsUpgradeRequest(good))

	missingKey := headersOf(map[string]string{
		"SEC-WEBSOCKET-VERSION": "13",
		"UPGRADE":               "websocket",
		"CONNECTION":            "Upgrade",
	})
	assert.False(t, IsUpgradeRequest(missingKey))
}
