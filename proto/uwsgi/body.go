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

package uwsgi

import (
	"io"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

// lengthReader reads exactly the declared CONTENT_LENGTH bytes off the
// uwsgi connection's Unreader.
type lengthReader struct {
	u         *unreader.Unreader
	remaining int
}

func newLengthReader(u *unreader.Unreader, n int) *lengthReader {
	return &lengthReader{u: u, remaining: n}
}

func (b *lengthReader) Read(p []byte) (int, error) {
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

func (b *lengthReader) Drain() error {
	buf := make([]byte, 4096)
	for b.remaining > 0 {
		if _, err := b.Read(buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *lengthReader) Trailers() proto.Headers { return nil }
