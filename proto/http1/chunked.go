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

package http1

import (
	"bytes"
	"io"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// chunkedBody unfolds chunk frames on demand: each chunk is `hex-size [;ext…] CRLF payload CRLF`; the
// terminating chunk is `0 CRLF trailer-headers CRLF CRLF`. Trailers are
// exposed after exhaustion via Trailers().
type chunkedBody struct {
	u         *unreader.Unreader
	cfg       *Config
	remaining int64 // bytes left in the current chunk's payload
	sawLast   bool
	trailers  proto.Headers
	drained   bool
	err       error
}

func newChunkedBody(u *unreader.Unreader, cfg *Config) *chunkedBody {
	return &chunkedBody{u: u, cfg: cfg}
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	for b.remaining == 0 && !b.sawLast {
		if err := b.nextChunkHeader(); err != nil {
			b.err = err
			return 0, err
		}
	}
	if b.sawLast {
		return 0, io.EOF
	}

	want := len(p)
	if int64(want) > b.remaining {
		want = int(b.remaining)
	}
	chunk, err := b.u.ReadExact(want)
	n := copy(p, chunk)
	if n < len(chunk) {
		b.u.Unread(chunk[n:])
	}
	b.remaining -= int64(n)
	if err != nil {
		b.err = err
		return n, err
	}
	if b.remaining == 0 {
		if err := b.consumeCRLF(); err != nil {
			b.err = err
			return n, err
		}
	}
	return n, nil
}

// nextChunkHeader reads one `hex-size [;ext] CRLF` line and arms remaining,
// or marks sawLast and parses trailers on the terminal zero-size chunk.
func (b *chunkedBody) nextChunkHeader() error {
	line, err := readLineFrom(b.u, b.cfg.Limits.FieldSize)
	if err != nil && len(line) == 0 {
		return err
	}
	size, err := parseChunkSize(line)
	if err != nil {
		return err
	}
	if size == 0 {
		b.sawLast = true
		trailers, err := readHeaders(b.u, b.cfg)
		if err != nil {
			return err
		}
		b.trailers = trailers
		return nil
	}
	b.remaining = size
	return nil
}

func (b *chunkedBody) consumeCRLF() error {
	crlf, err := b.u.ReadExact(2)
	if err != nil {
		return err
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return proto.NewStatusError(proto.StatusBadRequest, "malformed chunk terminator")
	}
	return nil
}

func (b *chunkedBody) Drain() error {
	if b.drained {
		return nil
	}
	b.drained = true
	buf := make([]byte, 4096)
	for {
		_, err := b.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *chunkedBody) Trailers() proto.Headers { return b.trailers }

// parseChunkSize parses the `hex-size[;ext]` portion of a chunk header
// line, rejecting anything that isn't strict hex digits before the
// optional extension separator.
func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, proto.NewStatusError(proto.StatusBadRequest, "empty chunk size")
	}
	var n int64
	for _, c := range line {
		var v int64
		switch {
		case c >= '0' && c <= '9':
			v = int64(c - '0')
		case c >= 'a' && c <= 'f':
			v = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = int64(c-'A') + 10
		default:
			return 0, proto.NewStatusError(proto.StatusBadRequest, "invalid chunk size digit")
		}
		n = n<<4 | v
		if n < 0 {
			return 0, proto.NewStatusError(proto.StatusBadRequest, "chunk size overflow")
		}
	}
	return n, nil
}
