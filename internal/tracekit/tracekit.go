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

// Package tracekit extracts and mints W3C trace-context identifiers so
// every request log line carries a trace ID (taken from the request's
// traceparent header, or freshly minted per request), independent of the
// application's own tracing instrumentation.
package tracekit

import (
	"crypto/rand"
	"strings"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/otel/trace"

	"github.com/appforge/appforge/proto"
)

const headerTraceParent = "traceparent"

// TraceIDFromHeaders extracts the trace ID from a "traceparent" request
// header (format: 00-{trace-id}-{parent-id}-{trace-flags}), reporting
// false if the header is absent or malformed.
func TraceIDFromHeaders(h proto.Headers) (pcommon.TraceID, bool) {
	var empty pcommon.TraceID
	s := h.Get(headerTraceParent)
	if s == "" {
		return empty, false
	}

	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return empty, false
	}
	if parts[0] != "00" {
		return empty, false
	}

	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return empty, false
	}
	return pcommon.TraceID(traceID), true
}

// RandomTraceID mints a trace ID for requests that arrive without one.
func RandomTraceID() pcommon.TraceID {
	b := make([]byte, 16)
	rand.Read(b)

	var ret [16]byte
	copy(ret[:], b)
	return ret
}

// RandomSpanID mints a span ID for requests that arrive without one.
func RandomSpanID() pcommon.SpanID {
	b := make([]byte, 8)
	rand.Read(b)

	var ret [8]byte
	copy(ret[:], b)
	return ret
}

// RequestTraceID returns the request's trace ID, taken from an incoming
// traceparent header when present, otherwise freshly minted.
func RequestTraceID(h proto.Headers) pcommon.TraceID {
	if id, ok := TraceIDFromHeaders(h); ok {
		return id
	}
	return RandomTraceID()
}
