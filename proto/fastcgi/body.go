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
	"bytes"
	"io"

	"github.com/appforge/appforge/proto"
)

// staticBody wraps the already-accumulated STDIN bytes for one request;
// unlike HTTP/1 and uWSGI, FastCGI delivers the whole body as discrete
// records before a request becomes "ready".
type staticBody struct {
	r *bytes.Reader
}

func newStaticBody(b []byte) *staticBody {
	return &staticBody{r: bytes.NewReader(b)}
}

func (b *staticBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *staticBody) Drain() error {
	_, err := io.Copy(io.Discard, b.r)
	return err
}

func (b *staticBody) Trailers() proto.Headers { return nil }
