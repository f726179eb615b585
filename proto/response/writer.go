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

// Package response implements the response writer contract: start_response/write/close, hop-by-hop header stripping, chunked
// vs Content-Length framing, and the sendfile fast path.
package response

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/appforge/appforge/common"
	"github.com/appforge/appforge/proto"
)

// hopByHop lists the RFC 9110 §7.6.1 headers the writer strips from the
// application's declared header set, except "Connection: upgrade" which
// is preserved verbatim to support WebSocket.
var hopByHop = map[string]bool{
	"CONNECTION":          true,
	"KEEP-ALIVE":          true,
	"PROXY-AUTHENTICATE":  true,
	"PROXY-AUTHORIZATION": true,
	"TE":                  true,
	"TRAILER":             true,
	"TRANSFER-ENCODING":   true,
	"UPGRADE":             true,
}

// Sendfile is satisfied by *os.File; the writer uses it for the
// zero-copy fast path when the application's body is a bare file handle.
type Sendfile interface {
	io.Reader
	Name() string
	Stat() (os.FileInfo, error)
}

// Writer is the per-request response sink handed to engines; it is not
// safe for concurrent use.
type Writer struct {
	out     io.Writer
	version proto.Version

	started   bool
	closed    bool
	chunked   bool
	hasLength bool
	sentBytes int64
	flushedHeaders bool
	trailers  proto.Headers
}

// New wraps the connection's write side for one request/response cycle.
func New(out io.Writer, version proto.Version) *Writer {
	return &Writer{out: out, version: version}
}

// StartResponse begins a response: on first call it computes
// default headers (Server, Date; no Connection header is added) and
// framing, then returns a
// write function. excInfo mirrors the WSGI contract: non-nil after bytes
// have flushed forces a re-raise instead of a fresh header set.
func (w *Writer) StartResponse(status int, reason string, headers proto.Headers, excInfo error) (func([]byte) error, error) {
	if w.flushedHeaders {
		if excInfo != nil {
			return nil, excInfo
		}
		return nil, fmt.Errorf("start_response called again after headers were already sent")
	}
	w.started = true

	out := make(proto.Headers, 0, len(headers))
	for _, h := range headers {
		name := strings.ToUpper(h.Name)
		if name == "CONNECTION" && strings.EqualFold(h.Value, "upgrade") {
			out = append(out, h)
			continue
		}
		if hopByHop[name] {
			continue
		}
		if name == "CONTENT-LENGTH" {
			w.hasLength = true
		}
		out = append(out, h)
	}

	if !w.hasLength && !out.Has("TRANSFER-ENCODING") {
		w.chunked = w.version.Major == 1 && w.version.Minor >= 1
	}

	if err := w.writeHeadLine(status, reason, out); err != nil {
		return nil, err
	}

	return w.write, nil
}

// SendInformational writes a 1xx interim response (e.g. 103 Early Hints)
// ahead of the final response (RFC 9110 §15.2). It does not touch
// framing state: a later StartResponse call still writes the real
// status line and headers.
func (w *Writer) SendInformational(status int, headers proto.Headers) error {
	if status < 100 || status >= 200 {
		return fmt.Errorf("invalid informational status %d", status)
	}
	if w.flushedHeaders {
		return fmt.Errorf("send_informational called after headers were already sent")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/%d.%d %d Informational\r\n", w.version.Major, w.version.Minor, status)
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w.out, b.String())
	return err
}

// SendTrailers records trailer headers to be emitted after the final
// chunk (RFC 9112 §7.1.2). Meaningful only for chunked responses;
// Content-Length framing has no trailer mechanism, so it is a no-op
// otherwise.
func (w *Writer) SendTrailers(trailers proto.Headers) error {
	if !w.chunked {
		return nil
	}
	w.trailers = trailers
	return nil
}

func (w *Writer) writeHeadLine(status int, reason string, headers proto.Headers) error {
	if reason == "" {
		reason = "OK"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/%d.%d %d %s\r\n", w.version.Major, w.version.Minor, status, reason)
	fmt.Fprintf(&b, "Server: %s/%s\r\n", common.App, common.Version)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(http1Date))
	if w.chunked {
		b.WriteString("Transfer-Encoding: chunked\r\n")
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w.out, b.String())
	w.flushedHeaders = true
	return err
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// write is the function returned by StartResponse.
func (w *Writer) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	w.sentBytes += int64(len(p))
	if w.chunked {
		_, err := fmt.Fprintf(w.out, "%x\r\n", len(p))
		if err != nil {
			return err
		}
		if _, err := w.out.Write(p); err != nil {
			return err
		}
		_, err = io.WriteString(w.out, "\r\n")
		return err
	}
	_, err := w.out.Write(p)
	return err
}

// SendFile implements the zero-copy fast path: used only when the body is a single file handle and neither
// chunking nor compression is required.
func (w *Writer) SendFile(f Sendfile, status int, reason string, headers proto.Headers) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	headers = append(append(proto.Headers{}, headers...), proto.Header{
		Name: "Content-Length", Value: strconv.FormatInt(info.Size(), 10),
	})
	writeFn, err := w.StartResponse(status, reason, headers, nil)
	if err != nil {
		return err
	}
	if rf, ok := w.out.(io.ReaderFrom); ok {
		_, err := rf.ReadFrom(f)
		w.sentBytes += info.Size()
		return err
	}
	buf := make([]byte, common.ReadWriteBlockSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if werr := writeFn(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// Close finishes the response, writing the terminating chunk if chunked
// framing was selected.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.chunked {
		if _, err := io.WriteString(w.out, "0\r\n"); err != nil {
			return err
		}
		for _, h := range w.trailers {
			if _, err := fmt.Fprintf(w.out, "%s: %s\r\n", h.Name, h.Value); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w.out, "\r\n")
		return err
	}
	return nil
}

// BytesSent reports the number of body bytes written so far, for access
// logging.
func (w *Writer) BytesSent() int64 { return w.sentBytes }
