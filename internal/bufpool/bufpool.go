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

package bufpool

import (
	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Acquire returns a pooled *bytebufferpool.ByteBuffer, reset and ready to
// write into. Callers must call Release when done.
func Acquire() *bytebufferpool.ByteBuffer {
	return pool.Get()
}

// Release returns buf to the pool after resetting it.
func Release(buf *bytebufferpool.ByteBuffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
