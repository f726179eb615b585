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

package uwsgi

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/unreader"
)

func encodeVar(buf *bytes.Buffer, key, val string) {
	var sz [2]byte
	binary.LittleEndian.PutUint16(sz[:], uint16(len(key)))
	buf.Write(sz[:])
	buf.WriteString(key)
	binary.LittleEndian.PutUint16(sz[:], uint16(len(val)))
	buf.Write(sz[:])
	buf.WriteString(val)
}

func packetFor(vars map[string]string) []byte {
	var body bytes.Buffer
	for k, v := range vars {
		encodeVar(&body, k, v)
	}
	var out bytes.Buffer
	out.WriteByte(0) // modifier1
	var sz [2]byte
	binary.LittleEndian.PutUint16(sz[:], uint16(body.Len()))
	out.Write(sz[:])
	out.WriteByte(0) // modifier2
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestReadPacketBuildsRequest(t *testing.T) {
	raw := packetFor(map[string]string{
		"REQUEST_METHOD": "POST",
		"PATH_INFO":      "/upload",
		"QUERY_STRING":   "x=1",
		"CONTENT_LENGTH": "5",
		"SERVER_PROTOCOL": "HTTP/1.1",
		"HTTP_X_CUSTOM":  "yes",
	})
	raw = append(raw, []byte("hello")...)

	u := unreader.New(bytes.NewReader(raw))
	req, err := ReadPacket(u, &net.TCPAddr{})
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/upload", req.Path)
	assert.Equal(t, "x=1", req.RawQuery)
	assert.Equal(t, "yes", req.Headers.Get("X-CUSTOM"))
	require.NotNil(t, req.Body)

	body := make([]byte, 5)
	n, _ := req.Body.Read(body)
	assert.Equal(t, "hello", string(body[:n]))
}

func TestReadPacketRejectsUnsupportedModifier1(t *testing.T) {
	raw := []byte{1, 0, 0, 0}
	u := unreader.New(bytes.NewReader(raw))
	_, err := ReadPacket(u, &net.TCPAddr{})
	assert.Error(t, err)
}

func TestReadPacketRejectsTruncatedVarsBlock(t *testing.T) {
	raw := []byte{0, 10, 0, 0, 'a', 'b'}
	u := unreader.New(bytes.NewReader(raw))
	_, err := ReadPacket(u, &net.TCPAddr{})
	assert.Error(t, err)
}

func TestReadPacketMissingMethodFails(t *testing.T) {
	raw := packetFor(map[string]string{"PATH_INFO": "/x"})
	u := unreader.New(bytes.NewReader(raw))
	_, err := ReadPacket(u, &net.TCPAddr{})
	assert.Error(t, err)
}
