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

package common

const (
	// App is the process name used in metrics namespaces and log file defaults.
	App = "appforge"

	// Version is the default build version reported when no linker flags were set.
	Version = "v0.0.1"

	// ReadWriteBlockSize is the default chunk size used for body and unreader I/O.
	ReadWriteBlockSize = 4096

	// DefaultRequestLineLimit bounds the HTTP/1 request line (RFC 9110 has no hard cap; this is ours).
	DefaultRequestLineLimit = 8190

	// DefaultHeaderFieldLimit bounds a single HTTP/1 header field (name+value).
	DefaultHeaderFieldLimit = 8190

	// DefaultHeaderCountLimit bounds the number of HTTP/1 headers on one request.
	DefaultHeaderCountLimit = 32768
)
