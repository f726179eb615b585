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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/http2/hpack"

	"github.com/appforge/appforge/internal/rescue"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/proto"
)

// Handler is invoked with each completed request; it writes the response
// through w before returning. Modeled like net/http's Handler but scoped
// to this package's Stream/Writer types so engines stay codec-agnostic.
type Handler func(stream *Stream, w *ResponseWriter)

// Connection multiplexes one HTTP/2 connection across any number of
// concurrent streams, following the split reader/writer-loop
// shape used by the rest of this module's HTTP/2 decoding
type Connection struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	writeMu sync.Mutex

	localSettings  Settings
	remoteSettings Settings

	hpackEnc *hpack.Encoder
	hpackEncBuf *bufferedWriter
	hpackDec *hpack.Decoder

	streamsMu sync.Mutex
	streams   map[uint32]*Stream
	lastPeerStreamID uint32

	connRecvWindow int32
	connSendWindow int32

	handler Handler

	pendingHeader    *Stream
	pendingEndStream bool
	pendingTrailer   bool

	goAway bool
}

// NewConnection wraps conn after the HTTP/2 preface has already been
// consumed by the caller (the asgi engine detects it from the literal
// preface bytes before handing off here).
func NewConnection(conn net.Conn, settings Settings, handler Handler) *Connection {
	c := &Connection{
		conn:           conn,
		br:             bufio.NewReaderSize(conn, 64*1024),
		bw:             bufio.NewWriterSize(conn, 64*1024),
		localSettings:  settings,
		remoteSettings: DefaultSettings(),
		streams:        make(map[uint32]*Stream),
		connRecvWindow: int32(settings.InitialWindowSize),
		connSendWindow: 65535,
		handler:        handler,
	}
	buf := &bufferedWriter{}
	c.hpackEncBuf = buf
	c.hpackEnc = hpack.NewEncoder(buf)
	c.hpackDec = hpack.NewDecoder(settings.HeaderTableSize, nil)
	return c
}

// bufferedWriter collects HPACK-encoded bytes for one HEADERS (+
// CONTINUATION) block before framing.
type bufferedWriter struct{ buf []byte }

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
func (w *bufferedWriter) reset() []byte {
	b := w.buf
	w.buf = nil
	return b
}

// Serve runs the read loop, dispatching frames and spawning one goroutine
// per request via Connection.handler; it returns when the connection
// closes or a connection-fatal error occurs.
func (c *Connection) Serve() error {
	if err := c.writeSettings(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		fh, err := ReadFrameHeader(c.br)
		if err != nil {
			return err
		}
		if fh.Length > c.localSettings.MaxFrameSize {
			c.writeGoAway(fh.StreamID, ErrFrameSizeError, "frame too large")
			return fmt.Errorf("frame exceeds max frame size")
		}
		payload := make([]byte, fh.Length)
		if _, err := io.ReadFull(c.br, payload); err != nil {
			return err
		}

		if err := c.handleFrame(fh, payload, &wg); err != nil {
			if fe, ok := err.(*FrameError); ok {
				c.writeGoAway(c.lastPeerStreamID, fe.Code, fe.Msg)
			}
			return err
		}
		if c.goAway {
			return nil
		}
	}
}

func (c *Connection) handleFrame(fh FrameHeader, payload []byte, wg *sync.WaitGroup) error {
	switch fh.Type {
	case FrameSettings:
		return c.handleSettings(fh, payload)
	case FrameWindowUpdate:
		return c.handleWindowUpdate(fh, payload)
	case FramePing:
		return c.handlePing(fh, payload)
	case FrameGoAway:
		c.goAway = true
		return nil
	case FrameHeaders:
		return c.handleHeaders(fh, payload, wg)
	case FrameContinuation:
		return c.handleContinuation(fh, payload, wg)
	case FrameData:
		return c.handleData(fh, payload)
	case FrameRSTStream:
		return c.handleRSTStream(fh, payload)
	case FramePriority:
		return c.handlePriority(fh, payload)
	case FramePushPromise:
		return &FrameError{Code: ErrProtocolError, Msg: "server received PUSH_PROMISE"}
	default:
		return nil // unknown frame types are ignored per RFC 7540 §4.1
	}
}

func (c *Connection) writeSettings() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	payload := c.localSettings.EncodeSettingsPayload()
	if err := WriteFrameHeader(c.bw, FrameHeader{Length: uint32(len(payload)), Type: FrameSettings}); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Connection) handleSettings(fh FrameHeader, payload []byte) error {
	if fh.Flags&FlagACK != 0 {
		return nil
	}
	if err := c.remoteSettings.ApplySettingsPayload(payload); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrameHeader(c.bw, FrameHeader{Type: FrameSettings, Flags: FlagACK}); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Connection) handlePing(fh FrameHeader, payload []byte) error {
	if fh.Flags&FlagACK != 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrameHeader(c.bw, FrameHeader{Length: 8, Type: FramePing, Flags: FlagACK}); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Connection) handleWindowUpdate(fh FrameHeader, payload []byte) error {
	if len(payload) != 4 {
		return &FrameError{Code: ErrFrameSizeError, Msg: "bad window_update length"}
	}
	inc := int32(binary.BigEndian.Uint32(payload) &^ (1 << 31))
	if fh.StreamID == 0 {
		c.connSendWindow += inc
		return nil
	}
	s := c.stream(fh.StreamID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.sendWindow += inc
	s.mu.Unlock()
	return nil
}

func (c *Connection) handleRSTStream(fh FrameHeader, payload []byte) error {
	s := c.stream(fh.StreamID)
	if s == nil {
		return nil
	}
	s.closeWithError(&FrameError{Code: ErrCancel, Msg: "stream reset by peer"})
	c.removeStream(fh.StreamID)
	return nil
}

func (c *Connection) handlePriority(fh FrameHeader, payload []byte) error {
	if len(payload) != 5 {
		return &FrameError{Code: ErrFrameSizeError, Msg: "bad priority length"}
	}
	s := c.stream(fh.StreamID)
	if s == nil {
		return nil
	}
	dep := binary.BigEndian.Uint32(payload[0:4])
	s.mu.Lock()
	s.exclusiveDep = dep&(1<<31) != 0
	s.dependsOn = dep &^ (1 << 31)
	s.weight = payload[4]
	s.priority = true
	s.mu.Unlock()
	return nil
}

func (c *Connection) handleData(fh FrameHeader, payload []byte) error {
	content, _, err := stripPadding(fh.Flags, payload)
	if err != nil {
		return err
	}
	s := c.stream(fh.StreamID)
	if s == nil {
		return &FrameError{Code: ErrStreamClosed, Msg: "data on unknown stream"}
	}
	s.mu.Lock()
	s.recvWindow -= int32(len(payload))
	needWindowUpdate := s.recvWindow < int32(c.localSettings.InitialWindowSize)/2
	s.mu.Unlock()
	s.pushData(content, fh.Flags&FlagEndStream != 0)
	if fh.Flags&FlagEndStream != 0 {
		s.mu.Lock()
		s.state = StreamHalfClosedRemote
		s.mu.Unlock()
	}
	if needWindowUpdate {
		c.sendWindowUpdate(fh.StreamID, uint32(c.localSettings.InitialWindowSize))
		c.sendWindowUpdate(0, uint32(c.localSettings.InitialWindowSize))
	}
	return nil
}

func (c *Connection) sendWindowUpdate(streamID uint32, inc uint32) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, inc&^(1<<31))
	WriteFrameHeader(c.bw, FrameHeader{Length: 4, Type: FrameWindowUpdate, StreamID: streamID})
	c.bw.Write(buf)
	c.bw.Flush()
}

func (c *Connection) handleHeaders(fh FrameHeader, payload []byte, wg *sync.WaitGroup) error {
	content, _, err := stripPadding(fh.Flags, payload)
	if err != nil {
		return err
	}
	if fh.Flags&FlagPriority != 0 {
		if len(content) < 5 {
			return &FrameError{Code: ErrFrameSizeError, Msg: "headers priority truncated"}
		}
		content = content[5:]
	}

	endStream := fh.Flags&FlagEndStream != 0
	endHeaders := fh.Flags&FlagEndHeaders != 0

	// A HEADERS frame on a stream ID already in the table is a trailer
	// block (RFC 7540 §8.1 "trailer part"), not a new request.
	if existing := c.stream(fh.StreamID); existing != nil {
		existing.trailerBuf.Write(content)
		existing.inTrailer = true
		if endHeaders {
			return c.finishTrailers(existing)
		}
		c.pendingHeader = existing
		c.pendingTrailer = true
		return nil
	}

	s := newStream(fh.StreamID, c.localSettings.InitialWindowSize)
	s.state = StreamOpen
	s.headerBuf.Write(content)
	c.addStream(s)

	if endHeaders {
		return c.finishHeaders(s, endStream, wg)
	}
	c.pendingHeader = s
	c.pendingEndStream = endStream
	c.pendingTrailer = false
	return nil
}

func (c *Connection) handleContinuation(fh FrameHeader, payload []byte, wg *sync.WaitGroup) error {
	s := c.pendingHeader
	if s == nil {
		return &FrameError{Code: ErrProtocolError, Msg: "unexpected continuation"}
	}
	if c.pendingTrailer {
		s.trailerBuf.Write(payload)
		if fh.Flags&FlagEndHeaders != 0 {
			c.pendingHeader = nil
			c.pendingTrailer = false
			return c.finishTrailers(s)
		}
		return nil
	}
	s.headerBuf.Write(payload)
	if fh.Flags&FlagEndHeaders != 0 {
		c.pendingHeader = nil
		return c.finishHeaders(s, c.pendingEndStream, wg)
	}
	return nil
}

// finishTrailers decodes an HPACK-coded trailer block and closes the
// stream's body, since trailers always mark the end of the request
// (RFC 7540 §8.1: "trailer part", if present, signals end of stream).
func (c *Connection) finishTrailers(s *Stream) error {
	hf, err := c.hpackDec.DecodeFull(s.trailerBuf.Bytes())
	if err != nil {
		return &FrameError{Code: ErrCompressionError, Msg: "hpack trailer decode failed: " + err.Error()}
	}
	trailers := make(proto.Headers, 0, len(hf))
	for _, f := range hf {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			return &FrameError{Code: ErrProtocolError, Msg: "pseudo-header in trailers"}
		}
		trailers = append(trailers, proto.Header{Name: upperHeader(f.Name), Value: f.Value})
	}
	s.mu.Lock()
	s.trailers = trailers
	s.inTrailer = false
	s.state = StreamHalfClosedRemote
	s.mu.Unlock()
	s.closeBody()
	return nil
}

func (c *Connection) finishHeaders(s *Stream, endStream bool, wg *sync.WaitGroup) error {
	hf, err := c.hpackDec.DecodeFull(s.headerBuf.Bytes())
	if err != nil {
		return &FrameError{Code: ErrCompressionError, Msg: "hpack decode failed: " + err.Error()}
	}
	req, err := requestFromPseudoHeaders(hf, c.conn.RemoteAddr())
	if err != nil {
		return &FrameError{Code: ErrProtocolError, Msg: err.Error()}
	}
	req.Body = s
	s.request = req

	if endStream {
		s.closeBody()
		s.mu.Lock()
		s.state = StreamHalfClosedRemote
		s.mu.Unlock()
	}

	if c.handler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer rescue.HandleCrash()
			c.handler(s, newResponseWriter(c, s))
		}()
	}
	return nil
}

func (c *Connection) addStream(s *Stream) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	c.streams[s.id] = s
	if s.id > c.lastPeerStreamID {
		c.lastPeerStreamID = s.id
	}
}

func (c *Connection) stream(id uint32) *Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[id]
}

func (c *Connection) removeStream(id uint32) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	delete(c.streams, id)
}

func (c *Connection) writeGoAway(lastStreamID uint32, code uint32, msg string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	debugData := []byte(msg)
	payload := make([]byte, 8+len(debugData))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&^(1<<31))
	binary.BigEndian.PutUint32(payload[4:8], code)
	copy(payload[8:], debugData)
	WriteFrameHeader(c.bw, FrameHeader{Length: uint32(len(payload)), Type: FrameGoAway})
	c.bw.Write(payload)
	c.bw.Flush()
	logger.Warnf("http2: sending GOAWAY code=%d msg=%s", code, msg)
}

func stripPadding(flags byte, payload []byte) (content []byte, padLen int, err error) {
	if flags&FlagPadded == 0 {
		return payload, 0, nil
	}
	if len(payload) == 0 {
		return nil, 0, &FrameError{Code: ErrProtocolError, Msg: "padded frame missing pad length"}
	}
	padLen = int(payload[0])
	if padLen >= len(payload) {
		return nil, 0, &FrameError{Code: ErrProtocolError, Msg: "pad length exceeds frame"}
	}
	return payload[1 : len(payload)-padLen], padLen, nil
}

// requestFromPseudoHeaders builds a proto.Request from the decoded HPACK
// field list, splitting RFC 7540 §8.1.2.3 pseudo-headers (:method, :path,
// :scheme, :authority) from regular headers.
func requestFromPseudoHeaders(fields []hpack.HeaderField, peer net.Addr) (*proto.Request, error) {
	req := &proto.Request{
		Version:    proto.Version{Major: 2, Minor: 0},
		RemoteAddr: peer,
		KeepAlive:  true,
	}
	var headers proto.Headers
	for _, f := range fields {
		switch f.Name {
		case ":method":
			req.Method = f.Value
		case ":path":
			req.RawURI = f.Value
			req.RawPath, req.RawQuery, req.Fragment = splitTarget(f.Value)
			req.Path = req.RawPath
		case ":scheme":
			req.Scheme = f.Value
		case ":authority":
			req.ServerName, req.ServerPort = splitAuthority(f.Value)
			headers = append(headers, proto.Header{Name: "HOST", Value: f.Value})
		default:
			if len(f.Name) > 0 && f.Name[0] == ':' {
				continue // unknown pseudo-header, ignored
			}
			headers = append(headers, proto.Header{Name: upperHeader(f.Name), Value: f.Value})
		}
	}
	if req.Method == "" || req.RawURI == "" || req.Scheme == "" {
		return nil, fmt.Errorf("missing required pseudo-header")
	}
	req.Headers = headers
	return req, nil
}

func upperHeader(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func splitTarget(raw string) (path, query, fragment string) {
	rest := raw
	if i := indexByte(rest, '#'); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := indexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}
	return rest, query, fragment
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitAuthority(s string) (host string, port int) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, n
}
