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

// Package http1 implements the HTTP/1.x request parser
// and its body-reader strategies: strict RFC 9110/9112
// lexing of the request line and headers, PROXY protocol v1 detection,
// secure-scheme header handling, and chunked/length/EOF body framing.
package http1

import "strings"

// HeaderFoldPolicy controls how a header name containing '_' is treated
//; '_' is ambiguous with '-' once translated
// into a CGI/WSGI environ key, so it is refused unless explicitly allowed.
type HeaderFoldPolicy string

const (
	FoldRefuse    HeaderFoldPolicy = "refuse"
	FoldDrop      HeaderFoldPolicy = "drop"
	FoldDangerous HeaderFoldPolicy = "dangerous"
)

// Limits bounds request-line/header parsing.
type Limits struct {
	RequestLine int `config:"limit_request_line"`
	Fields      int `config:"limit_request_fields"`
	FieldSize   int `config:"limit_request_field_size"`
}

// DefaultLimits mirrors the conventional defaults.
func DefaultLimits() Limits {
	return Limits{
		RequestLine: 8190,
		Fields:      32768,
		FieldSize:   8190,
	}
}

// Config is the full set of options consumed by Parse.
type Config struct {
	Limits Limits `config:"limits"`

	PermitUnconventionalHTTPVersion bool `config:"permit_unconventional_http_version"`
	PermitUnconventionalHTTPMethod  bool `config:"permit_unconventional_http_method"`
	CasefoldHTTPMethod              bool `config:"casefold_http_method"`
	PermitObsoleteFolding           bool `config:"permit_obsolete_folding"`

	HeaderMap        HeaderFoldPolicy `config:"header_map"`
	ForwarderHeaders []string         `config:"forwarder_headers"`
	StripHeaderSpaces bool            `config:"strip_header_spaces"`

	ProxyProtocol   bool     `config:"proxy_protocol"`
	ProxyAllowIPs   []string `config:"proxy_allow_ips"`

	ForwardedAllowIPs  []string          `config:"forwarded_allow_ips"`
	SecureSchemeHeaders map[string]string `config:"secure_scheme_headers"`

	IsSSL    bool   `config:"is_ssl"`
	RootPath string `config:"root_path"`
}

// DefaultConfig returns the conventional parser defaults.
func DefaultConfig() *Config {
	return &Config{
		Limits:   DefaultLimits(),
		HeaderMap: FoldRefuse,
		SecureSchemeHeaders: map[string]string{
			"X-FORWARDED-PROTO": "https",
		},
	}
}

func (c *Config) isForwarderHeader(name string) bool {
	for _, h := range c.ForwarderHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
