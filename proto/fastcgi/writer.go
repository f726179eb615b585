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

package fastcgi

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/appforge/appforge/proto"
)

const maxRecordContent = 0xFFFF

// Writer frames a response for one requestId as STDOUT records padded to
// an 8-byte boundary, followed by an END_REQUEST record. It
// serializes writes from concurrently-multiplexed requests on the same
// connection with mu.
type Writer struct {
	out       io.Writer
	mu        *sync.Mutex
	requestID uint16
	headerSent bool
}

// NewWriter builds a response writer for requestID, sharing mu with every
// other in-flight request on the same connection.
func NewWriter(out io.Writer, mu *sync.Mutex, requestID uint16) *Writer {
	return &Writer{out: out, mu: mu, requestID: requestID}
}

// WriteStatusLine writes the CGI-style "Status: NNN reason\r\n" line that
// FastCGI responders use in place of an HTTP status line, then the
// remaining headers and a blank line separator.
func (w *Writer) WriteStatusLine(status int, reason string, headers proto.Headers) error {
	var buf []byte
	buf = fmt.Appendf(buf, "Status: %d %s\r\n", status, reason)
	for _, h := range headers {
		buf = fmt.Appendf(buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf = append(buf, '\r', '\n')
	w.headerSent = true
	return w.writeStdout(buf)
}

// Write sends body bytes as one or more STDOUT records.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if n > maxRecordContent {
			n = maxRecordContent
		}
		if err := w.writeStdout(p[:n]); err != nil {
			return 0, err
		}
		p = p[n:]
	}
	return total, nil
}

func (w *Writer) writeStdout(content []byte) error {
	return w.writeRecord(typeStdout, content)
}

func (w *Writer) writeRecord(recType byte, content []byte) error {
	pad := (8 - len(content)%8) % 8
	hdr := make([]byte, headerLen)
	hdr[0] = 1
	hdr[1] = recType
	binary.BigEndian.PutUint16(hdr[2:4], w.requestID)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(content)))
	hdr[6] = byte(pad)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(hdr); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := w.out.Write(content); err != nil {
			return err
		}
	}
	if pad > 0 {
		if _, err := w.out.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// Close sends an empty terminating STDOUT record and the END_REQUEST
// record with the given app-level exit status.
func (w *Writer) Close(appStatus uint32, protoStatus byte) error {
	if err := w.writeStdout(nil); err != nil {
		return err
	}
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], appStatus)
	body[4] = protoStatus
	return w.writeRecord(typeEndRequest, body)
}
