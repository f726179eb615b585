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
	"io"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// lengthBody reads at most N declared bytes straight off the connection's
// Unreader; EOF before that is an error.
type lengthBody struct {
	u         *unreader.Unreader
	remaining int
	drained   bool
}

func newLengthBody(u *unreader.Unreader, contentLength int) *lengthBody {
	return &lengthBody{u: u, remaining: contentLength}
}

func (b *lengthBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	want := len(p)
	if want > b.remaining {
		want = b.remaining
	}
	chunk, err := b.u.Read(0)
	if len(chunk) > want {
		b.u.Unread(chunk[want:])
		chunk = chunk[:want]
	}
	n := copy(p, chunk)
	b.remaining -= n
	if err == io.EOF && b.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (b *lengthBody) Drain() error {
	if b.drained {
		return nil
	}
	b.drained = true
	for b.remaining > 0 {
		buf := make([]byte, min(b.remaining, 4096))
		n, err := b.Read(buf)
		_ = n
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func (b *lengthBody) Trailers() proto.Headers { return nil }

// eofBody reads until the source closes; used only for responses, never
// requests.
type eofBody struct {
	u    *unreader.Unreader
	done bool
}

func newEOFBody(u *unreader.Unreader) *eofBody { return &eofBody{u: u} }

func (b *eofBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}
	chunk, err := b.u.Read(0)
	n := copy(p, chunk)
	if n < len(chunk) {
		b.u.Unread(chunk[n:])
	}
	if err != nil {
		b.done = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, nil
}

func (b *eofBody) Drain() error {
	if b.done {
		return nil
	}
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

func (b *eofBody) Trailers() proto.Headers { return nil }
