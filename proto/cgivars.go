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

package proto

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// RequestFromCGIVars translates a CGI/WSGI-style variable map (as produced
// by uWSGI's vars block or FastCGI's PARAMS records) into the canonical
// Request shape: `HTTP_X_Y` → header `X-Y`, `CONTENT_TYPE` →
// `CONTENT-TYPE`, `HTTPS ∈ {on,1,true}` → scheme=https.
func RequestFromCGIVars(vars map[string]string, peer net.Addr) (*Request, error) {
	headers := make(Headers, 0, len(vars))
	for k, v := range vars {
		switch {
		case strings.HasPrefix(k, "HTTP_"):
			name := strings.ReplaceAll(strings.TrimPrefix(k, "HTTP_"), "_", "-")
			headers = append(headers, Header{Name: strings.ToUpper(name), Value: v})
		case k == "CONTENT_TYPE" && v != "":
			headers = append(headers, Header{Name: "CONTENT-TYPE", Value: v})
		case k == "CONTENT_LENGTH" && v != "":
			headers = append(headers, Header{Name: "CONTENT-LENGTH", Value: v})
		}
	}

	method := vars["REQUEST_METHOD"]
	if method == "" {
		return nil, NewStatusError(StatusBadRequest, "missing REQUEST_METHOD")
	}

	path := vars["PATH_INFO"]
	if path == "" {
		path = vars["DOCUMENT_URI"]
	}
	query := vars["QUERY_STRING"]

	scheme := "http"
	if https := strings.ToLower(vars["HTTPS"]); https == "on" || https == "1" || https == "true" {
		scheme = "https"
	}

	version := parseServerProtocol(vars["SERVER_PROTOCOL"])

	req := &Request{
		Method:     method,
		Path:       path,
		RawPath:    path,
		RawQuery:   query,
		RawURI:     joinURI(path, query),
		Version:    version,
		Headers:    headers,
		Scheme:     scheme,
		RemoteAddr: peer,
		ServerName: vars["SERVER_NAME"],
		Time:       time.Now(),
		KeepAlive:  true,
	}
	if p, err := strconv.Atoi(vars["SERVER_PORT"]); err == nil {
		req.ServerPort = p
	}
	return req, nil
}

func joinURI(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

func parseServerProtocol(s string) Version {
	if !strings.HasPrefix(s, "HTTP/") {
		return Version{Major: 1, Minor: 1}
	}
	s = s[len("HTTP/"):]
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Version{Major: 1, Minor: 1}
	}
	maj, err1 := strconv.Atoi(major)
	mnr, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return Version{Major: 1, Minor: 1}
	}
	return Version{Major: maj, Minor: mnr}
}
