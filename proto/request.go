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

// Package proto holds the canonical request/response shape produced by
// every wire codec in this module (HTTP/1, HTTP/2, uWSGI, FastCGI) per
// the parsed request and its WSGI-environ / ASGI-scope mappings. Each
// codec package (proto/http1, proto/uwsgi, proto/fastcgi, proto/http2)
// translates its own wire format into these shapes; the engines
// (engine/threaded, engine/asgi) and the response writer only ever see
// this package's types.
package proto

import (
	"net"
	"time"
)

// Header is one name/value pair. HTTP/1 names are upper-cased canonical
// form; HTTP/2 pseudo-headers are not kept in Headers: the HTTP/2 codec
// maps them onto Request fields (Method, RawURI, Scheme, ServerName,
// ServerPort), and :authority also becomes a HOST header.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header/trailer list; order is preserved because
// some applications depend on header arrival order (and duplicate names
// are legal and meaningful, e.g. Set-Cookie-style accumulation).
type Headers []Header

// Get returns the first value for name (case-sensitive; callers should
// pass the canonical upper-cased form for HTTP/1 headers).
func (h Headers) Get(name string) string {
	for _, kv := range h {
		if kv.Name == name {
			return kv.Value
		}
	}
	return ""
}

// Values returns every value for name, in arrival order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, kv := range h {
		if kv.Name == name {
			out = append(out, kv.Value)
		}
	}
	return out
}

// Has reports whether name appears at least once.
func (h Headers) Has(name string) bool {
	for _, kv := range h {
		if kv.Name == name {
			return true
		}
	}
	return false
}

// Version is an HTTP version tuple, e.g. {1,1} for HTTP/1.1.
type Version struct {
	Major int
	Minor int
}

// ProxyInfo carries the client address recovered from a PROXY protocol v1
// preamble, which replaces RemoteAddr for downstream purposes.
type ProxyInfo struct {
	SrcIP   net.IP
	SrcPort int
	DstIP   net.IP
	DstPort int
}

// Body is the contract every body-reader strategy (length, chunked, EOF,
// buffered) in proto/http1 implements, and that proto/uwsgi and
// proto/fastcgi wrap their framed stdin/CONTENT_LENGTH streams in too.
type Body interface {
	// Read follows io.Reader semantics.
	Read(p []byte) (int, error)

	// Drain reads and discards whatever remains, so a keepalive
	// connection can be safely reused. Idempotent.
	Drain() error

	// Trailers returns the trailer list, populated only after the body
	// has been fully drained/read (chunked bodies only; nil otherwise).
	Trailers() Headers
}

// Request is the parsed, protocol-agnostic request handed to the
// engines. It is immutable apart from Body consumption.
type Request struct {
	Method   string
	Path     string // not percent-decoded
	RawPath  string // as received on the wire
	RawQuery string
	Fragment string
	RawURI   string
	Version  Version

	Headers  Headers
	Trailers Headers // populated after Body is drained, for chunked bodies
	Body     Body

	Scheme     string // "http" or "https"
	RemoteAddr net.Addr
	ServerName string
	ServerPort int

	Proxy *ProxyInfo // non-nil if a PROXY protocol preamble was accepted

	ReqNumber int // 1-based request count on this connection

	Chunked   bool
	MustClose bool // computed by the connection-close rules
	KeepAlive bool

	Time time.Time // receipt time of the request line
}

// ShouldClose reports whether the connection must be closed after this
// request's response is written.
func (r *Request) ShouldClose() bool {
	return r.MustClose
}
