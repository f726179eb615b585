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

// Package unreader implements the push-back byte-stream abstraction that
// sits between a transport (socket or finite iterable) and every parser
// in this module. It is the single concurrency boundary
// between a parser's pull-based expectations and a transport that
// supplies bytes in arbitrary chunks: parsers routinely read one line or
// one frame too far and hand the remainder back with Unread.
package unreader

import (
	"io"

	"github.com/appforge/appforge/common"
)

// Unreader wraps an io.Reader (socket, or any finite byte source) with an
// owned residual buffer. It is not safe for concurrent use; callers are
// responsible for single-threaded access to one Unreader (the threaded
// engine guarantees this per-Connection; see engine/threaded).
type Unreader struct {
	src io.Reader
	buf []byte
}

// New wraps src. src is read in pulls of at most ChunkSize bytes; a larger
// ReadExact is satisfied by as many pulls as it needs.
func New(src io.Reader) *Unreader {
	return &Unreader{src: src}
}

// ChunkSize is the default pull size when Read is called with n<=0.
const ChunkSize = common.ReadWriteBlockSize

// Buffered reports how many bytes are currently sitting in the residual
// buffer without touching the underlying source.
func (u *Unreader) Buffered() int {
	return len(u.buf)
}

// Unread prepends b to the residual buffer. The next Read will see these
// bytes before pulling anything new from the source. b is copied; the
// caller may reuse its backing array immediately.
func (u *Unreader) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(u.buf) == 0 {
		u.buf = append([]byte(nil), b...)
		return
	}
	merged := make([]byte, 0, len(b)+len(u.buf))
	merged = append(merged, b...)
	merged = append(merged, u.buf...)
	u.buf = merged
}

// Read returns buffered bytes (clearing the buffer) if any are present,
// otherwise pulls one chunk from the underlying source. n<=0 means
// "whatever is immediately available, in one chunk-sized pull at most".
// This is the "read with no size" contract.
func (u *Unreader) Read(n int) ([]byte, error) {
	if n <= 0 {
		if len(u.buf) > 0 {
			b := u.buf
			u.buf = nil
			return b, nil
		}
		return u.fill(ChunkSize)
	}
	return u.ReadExact(n)
}

// ReadExact blocks (via repeated underlying Reads) until n bytes are
// available or the source reaches EOF, in which case it returns fewer
// than n bytes alongside io.EOF. It never returns more than n bytes;
// surplus bytes pulled from the source are retained in the residual
// buffer for the next call.
func (u *Unreader) ReadExact(n int) ([]byte, error) {
	for len(u.buf) < n {
		chunk, err := u.fill(n - len(u.buf))
		if len(chunk) > 0 {
			u.buf = append(u.buf, chunk...)
		}
		if err != nil {
			b := u.buf
			u.buf = nil
			return b, err
		}
	}

	b := u.buf[:n]
	rest := u.buf[n:]
	if len(rest) > 0 {
		u.buf = append([]byte(nil), rest...)
	} else {
		u.buf = nil
	}
	return b, nil
}

// fill pulls at most want bytes directly from the source (bypassing the
// residual buffer), returning what it got even on error (e.g. partial
// read before EOF/ECONNRESET).
func (u *Unreader) fill(want int) ([]byte, error) {
	if want <= 0 {
		want = ChunkSize
	}
	if want > ChunkSize {
		want = ChunkSize
	}
	tmp := make([]byte, want)
	n, err := u.src.Read(tmp)
	if n > 0 {
		return tmp[:n], err
	}
	return nil, err
}
