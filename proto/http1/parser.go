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
	"bytes"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// Parse reads exactly one request line plus headers off u and builds
// its Body according to the framing rules of RFC 9112 §6; it never
// reads body bytes itself.
func Parse(u *unreader.Unreader, peer net.Addr, reqNumber int, cfg *Config) (*proto.Request, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var proxy *proto.ProxyInfo
	if reqNumber == 1 && cfg.ProxyProtocol && peerAllowed(peer, cfg.ProxyAllowIPs) {
		p, err := maybeParseProxyLine(u)
		if err != nil {
			return nil, err
		}
		proxy = p
	}

	line, err := readLineFrom(u, cfg.Limits.RequestLine)
	if err != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated request line: %v", err)
	}
	method, rawURI, version, err := parseRequestLine(line, cfg)
	if err != nil {
		return nil, err
	}

	headers, err := readHeaders(u, cfg)
	if err != nil {
		return nil, err
	}

	path, query, fragment := splitURI(rawURI)

	req := &proto.Request{
		Method:     method,
		Path:       path,
		RawPath:    path,
		RawQuery:   query,
		Fragment:   fragment,
		RawURI:     rawURI,
		Version:    version,
		Headers:    headers,
		Scheme:     "http",
		RemoteAddr: peer,
		Proxy:      proxy,
		ReqNumber:  reqNumber,
		Time:       time.Now(),
	}
	if proxy != nil {
		req.RemoteAddr = &net.TCPAddr{IP: proxy.SrcIP, Port: proxy.SrcPort}
	}
	if cfg.IsSSL {
		req.Scheme = "https"
	}
	if err := applySecureScheme(req, cfg, peer); err != nil {
		return nil, err
	}
	req.ServerName, req.ServerPort = splitHostHeader(headers.Get("HOST"))

	req.KeepAlive = version.Major == 1 && version.Minor >= 1
	if v := headers.Get("CONNECTION"); v != "" {
		switch {
		case hasToken(v, "close"):
			req.MustClose = true
			req.KeepAlive = false
		case hasToken(v, "keep-alive"):
			req.KeepAlive = true
			req.MustClose = false
		}
	} else {
		req.MustClose = !req.KeepAlive
	}

	body, chunked, err := buildBody(u, headers, version, cfg)
	if err != nil {
		return nil, err
	}
	req.Body = body
	req.Chunked = chunked

	return req, nil
}

// parseRequestLine splits and validates "METHOD SP URI SP HTTP/d.d".
func parseRequestLine(line []byte, cfg *Config) (method, uri string, version proto.Version, err error) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return "", "", version, proto.NewStatusError(proto.StatusBadRequest, "malformed request line")
	}

	rawMethod := parts[0]
	if len(rawMethod) == 0 {
		return "", "", version, proto.NewStatusError(proto.StatusBadRequest, "empty method")
	}
	if cfg.CasefoldHTTPMethod {
		rawMethod = bytes.ToUpper(rawMethod)
	}
	if !cfg.PermitUnconventionalHTTPMethod {
		for _, c := range rawMethod {
			if c == '#' || (c >= 'a' && c <= 'z') {
				return "", "", version, proto.NewStatusError(proto.StatusBadRequest, "disallowed method character")
			}
			if !isTokenChar(c) {
				return "", "", version, proto.NewStatusError(proto.StatusBadRequest, "invalid method character")
			}
		}
	}
	method = string(rawMethod)

	uri = string(parts[1])
	if uri == "" {
		return "", "", version, proto.NewStatusError(proto.StatusBadRequest, "empty request target")
	}

	version, err = parseVersion(parts[2], cfg)
	if err != nil {
		return "", "", version, err
	}

	return method, uri, version, nil
}

func parseVersion(raw []byte, cfg *Config) (proto.Version, error) {
	s := string(raw)
	if !strings.HasPrefix(s, "HTTP/") {
		return proto.Version{}, proto.NewStatusError(proto.StatusHTTPVersion, "malformed version %q", s)
	}
	s = s[len("HTTP/"):]
	major, minor, ok := strings.Cut(s, ".")
	if !ok || len(major) != 1 || len(minor) != 1 {
		return proto.Version{}, proto.NewStatusError(proto.StatusHTTPVersion, "malformed version digits %q", s)
	}
	maj, err1 := strconv.Atoi(major)
	mnr, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return proto.Version{}, proto.NewStatusError(proto.StatusHTTPVersion, "non-numeric version %q", s)
	}
	v := proto.Version{Major: maj, Minor: mnr}
	// versions outside [1.0, 2.0) are rejected unless permitted.
	inRange := maj == 1 && mnr >= 0
	if !inRange && !cfg.PermitUnconventionalHTTPVersion {
		return proto.Version{}, proto.NewStatusError(proto.StatusHTTPVersion, "unsupported version %d.%d", maj, mnr)
	}
	return v, nil
}

func splitURI(raw string) (path, query, fragment string) {
	rest := raw
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}
	path = rest
	return
}

// readLineFrom reads bytes off u up to and excluding the terminating CRLF
// (or bare LF), enforcing maxLen on the line body. Shared by the request
// line, header lines, and chunk-size lines.
func readLineFrom(u *unreader.Unreader, maxLen int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := u.Read(0)
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line = append(line, chunk[:i]...)
			u.Unread(chunk[i+1:])
			line = bytes.TrimSuffix(line, []byte("\r"))
			if maxLen > 0 && len(line) > maxLen {
				return nil, proto.NewStatusError(proto.StatusRequestHeaderLarge, "line exceeds %d bytes", maxLen)
			}
			return line, nil
		}
		line = append(line, chunk...)
		if maxLen > 0 && len(line) > maxLen {
			return nil, proto.NewStatusError(proto.StatusRequestHeaderLarge, "line exceeds %d bytes", maxLen)
		}
		if err != nil {
			return line, err
		}
	}
}

// readHeaders reads header lines until a blank line terminator, applying
// the CGI-ambiguity fold policy and obsolete-folding handling.
// Used both for the request's own headers and for chunked trailers.
func readHeaders(u *unreader.Unreader, cfg *Config) (proto.Headers, error) {
	var headers proto.Headers
	count := 0
	for {
		line, err := readLineFrom(u, cfg.Limits.FieldSize)
		if err != nil {
			return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated headers: %v", err)
		}
		if len(line) == 0 {
			return headers, nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			if !cfg.PermitObsoleteFolding || len(headers) == 0 {
				return nil, proto.NewStatusError(proto.StatusBadRequest, "obsolete line folding not permitted")
			}
			last := &headers[len(headers)-1]
			last.Value = last.Value + " " + string(bytes.TrimSpace(line))
			continue
		}

		count++
		if count > cfg.Limits.Fields {
			return nil, proto.NewStatusError(proto.StatusRequestHeaderLarge, "too many headers")
		}

		name, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}

		if strings.ContainsRune(name, '_') {
			switch {
			case cfg.isForwarderHeader(name):
				// allow-listed CGI passthrough header, kept verbatim
			case cfg.HeaderMap == FoldDangerous:
				// kept verbatim, ambiguity accepted by operator
			case cfg.HeaderMap == FoldDrop:
				continue
			default:
				return nil, proto.NewStatusError(proto.StatusBadRequest, "header name %q contains '_'", name)
			}
		}

		headers = append(headers, proto.Header{Name: name, Value: value})
	}
}

func parseHeaderLine(line []byte) (name, value string, err error) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return "", "", proto.NewStatusError(proto.StatusBadRequest, "malformed header line")
	}
	rawName := line[:i]
	for _, c := range rawName {
		if !isTokenChar(c) {
			return "", "", proto.NewStatusError(proto.StatusBadRequest, "invalid header name character")
		}
	}
	for _, c := range line[i+1:] {
		if c == 0 || c == '\r' || c == '\n' {
			return "", "", proto.NewStatusError(proto.StatusBadRequest, "invalid header value character")
		}
	}
	name = strings.ToUpper(string(rawName))
	value = string(bytes.Trim(line[i+1:], " \t"))
	return name, value, nil
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func hasToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// buildBody selects length/chunked/none framing per RFC 9112 §6. EOF framing is never selected for requests.
func buildBody(u *unreader.Unreader, headers proto.Headers, version proto.Version, cfg *Config) (proto.Body, bool, error) {
	te := headers.Get("TRANSFER-ENCODING")
	cl := headers.Get("CONTENT-LENGTH")

	if te != "" {
		if hasToken(te, "chunked") {
			if version.Major != 1 || version.Minor != 1 {
				return nil, false, proto.NewStatusError(proto.StatusBadRequest, "chunked body requires HTTP/1.1")
			}
			if cl != "" {
				return nil, false, proto.NewStatusError(proto.StatusBadRequest, "both Content-Length and chunked Transfer-Encoding present")
			}
			return newChunkedBody(u, cfg), true, nil
		}
		if hasToken(te, "identity") {
			n, err := parseContentLength(cl)
			if err != nil {
				return nil, false, err
			}
			return newLengthBody(u, n), false, nil
		}
		if hasToken(te, "compress") || hasToken(te, "deflate") || hasToken(te, "gzip") {
			// accepted; the body is framed by Content-Length (0 when
			// absent). MustClose is not set here.
			n, err := parseContentLength(cl)
			if err != nil {
				return nil, false, err
			}
			return newLengthBody(u, n), false, nil
		}
		return nil, false, proto.NewStatusError(proto.StatusNotImplemented, "unsupported transfer-encoding %q", te)
	}

	if cl != "" {
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, false, err
		}
		return newLengthBody(u, n), false, nil
	}

	return newLengthBody(u, 0), false, nil
}

func parseContentLength(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, proto.NewStatusError(proto.StatusBadRequest, "invalid content-length %q", s)
	}
	return n, nil
}

func peerAllowed(peer net.Addr, allow []string) bool {
	if len(allow) == 0 {
		return false
	}
	host := hostOf(peer)
	for _, a := range allow {
		if a == "*" || a == host {
			return true
		}
		if _, cidr, err := net.ParseCIDR(a); err == nil {
			if ip := net.ParseIP(host); ip != nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// splitHostHeader derives SERVER_NAME/SERVER_PORT from the Host header
//; a missing or portless Host yields port 0,
// left for the caller to default based on scheme.
func splitHostHeader(host string) (string, int) {
	if host == "" {
		return "", 0
	}
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return host, 0
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, port
}

func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// applySecureScheme implements secure-scheme header handling.
func applySecureScheme(req *proto.Request, cfg *Config, peer net.Addr) error {
	if len(cfg.SecureSchemeHeaders) == 0 || !peerAllowed(peer, cfg.ForwardedAllowIPs) {
		return nil
	}
	seenHTTPS := false
	seenOther := false
	for name, sentinel := range cfg.SecureSchemeHeaders {
		v := req.Headers.Get(strings.ToUpper(name))
		if v == "" {
			continue
		}
		if strings.EqualFold(v, sentinel) {
			seenHTTPS = true
		} else {
			seenOther = true
		}
	}
	if seenHTTPS && seenOther {
		return proto.NewStatusError(proto.StatusBadRequest, "conflicting secure-scheme headers")
	}
	if seenHTTPS {
		req.Scheme = "https"
	}
	return nil
}
