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
	"fmt"
	"net"
	"strings"
)

// Environ is the CGI-style scope exposed to WSGI-style applications.
type Environ map[string]any

// BuildEnviron translates req into the WSGI environ shape.
func BuildEnviron(req *Request, rootPath string, multithread, multiprocess bool) Environ {
	env := Environ{
		"REQUEST_METHOD":  req.Method,
		"SCRIPT_NAME":     rootPath,
		"PATH_INFO":       req.Path,
		"QUERY_STRING":    req.RawQuery,
		"RAW_URI":         req.RawURI,
		"SERVER_PROTOCOL": fmt.Sprintf("HTTP/%d.%d", req.Version.Major, req.Version.Minor),
		"SERVER_NAME":     req.ServerName,
		"SERVER_PORT":     req.ServerPort,

		"wsgi.url_scheme":    req.Scheme,
		"wsgi.input":         req.Body,
		"wsgi.errors":        nil,
		"wsgi.multithread":   multithread,
		"wsgi.multiprocess":  multiprocess,
		"wsgi.run_once":      false,
		"wsgi.file_wrapper":  nil,
		"wsgi.early_hints":   func(Headers) {}, // no-op for every HTTP version; no 103 response is sent
	}

	remoteAddr := req.RemoteAddr
	if req.Proxy != nil {
		remoteAddr = &net.TCPAddr{IP: req.Proxy.SrcIP, Port: req.Proxy.SrcPort}
	}
	if tcp, ok := remoteAddr.(*net.TCPAddr); ok {
		env["REMOTE_ADDR"] = tcp.IP.String()
		env["REMOTE_PORT"] = tcp.Port
	} else if remoteAddr != nil {
		env["REMOTE_ADDR"] = remoteAddr.String()
	}

	for _, h := range req.Headers {
		switch h.Name {
		case "CONTENT-TYPE":
			env["CONTENT_TYPE"] = h.Value
		case "CONTENT-LENGTH":
			env["CONTENT_LENGTH"] = h.Value
		default:
			key := "HTTP_" + strings.ReplaceAll(h.Name, "-", "_")
			env[key] = h.Value
		}
	}

	return env
}
