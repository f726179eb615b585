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

package http1

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

func mustParse(t *testing.T, raw string, cfg *Config) *proto.Request {
	t.Helper()
	u := unreader.New(strings.NewReader(raw))
	req, err := Parse(u, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}, 1, cfg)
	require.NoError(t, err)
	return req
}

func TestParseSimpleGET(t *testing.T) {
	raw := "GET /index.html?x=1 HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"
	req := mustParse(t, raw, DefaultConfig())

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "x=1", req.RawQuery)
	assert.Equal(t, "example.com", req.ServerName)
	assert.Equal(t, "test", req.Headers.Get("USER-AGENT"))
	assert.True(t, req.KeepAlive)
}

func TestParseConnectionClose(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	req := mustParse(t, raw, DefaultConfig())

	assert.True(t, req.MustClose)
	assert.False(t, req.KeepAlive)
}

func TestParseHTTP10DefaultsToClose(t *testing.T) {
	raw := "GET / HTTP/1.0\r\nHost: example.com\r\n\r\n"
	req := mustParse(t, raw, DefaultConfig())

	assert.False(t, req.KeepAlive)
	assert.True(t, req.MustClose)
}

func TestParseRejectsMalformedRequestLine(t *testing.T) {
	u := unreader.New(strings.NewReader("GET /\r\nHost: x\r\n\r\n"))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	u := unreader.New(strings.NewReader("GET / HTTP/9.9\r\nHost: x\r\n\r\n"))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestParseObsoleteFoldingRefusedByDefault(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Long: a\r\n b\r\n\r\n"
	u := unreader.New(strings.NewReader(raw))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestParseObsoleteFoldingPermitted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PermitObsoleteFolding = true
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Long: a\r\n b\r\n\r\n"
	req := mustParse(t, raw, cfg)
	assert.Equal(t, "a b", req.Headers.Get("X-LONG"))
}

func TestParseChunkedRequiresHTTP11(t *testing.T) {
	raw := "POST / HTTP/1.0\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"
	u := unreader.New(strings.NewReader(raw))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestParseContentLengthAndChunkedConflict(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nhello"
	u := unreader.New(strings.NewReader(raw))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestParseUnderscoreHeaderRefusedByDefault(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX_Foo: bar\r\n\r\n"
	u := unreader.New(strings.NewReader(raw))
	_, err := Parse(u, &net.TCPAddr{}, 1, DefaultConfig())
	assert.Error(t, err)
}

func TestSplitHostHeader(t *testing.T) {
	cases := []struct {
		host     string
		wantName string
		wantPort int
	}{
		{"example.com:8080", "example.com", 8080},
		{"example.com", "example.com", 0},
		{"", "", 0},
	}
	for _, c := range cases {
		name, port := splitHostHeader(c.host)
		assert.Equal(t, c.wantName, name)
		assert.Equal(t, c.wantPort, port)
	}
}
