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

package unreader

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadExactAcrossMultipleChunks(t *testing.T) {
	u := New(iotest.OneByteReader(strings.NewReader("hello world")))
	b, err := u.ReadExact(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestUnreadPrependsToNextRead(t *testing.T) {
	u := New(strings.NewReader("world"))
	u.Unread([]byte("hello "))

	b, err := u.ReadExact(11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
}

func TestUnreadMergesWithExistingBuffer(t *testing.T) {
	u := New(strings.NewReader(""))
	u.Unread([]byte("bar"))
	u.Unread([]byte("foo"))

	b, err := u.ReadExact(6)
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(b))
}

func TestReadExactReturnsPartialOnEOF(t *testing.T) {
	u := New(strings.NewReader("ab"))
	b, err := u.ReadExact(5)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ab", string(b))
}

func TestBuffered(t *testing.T) {
	u := New(strings.NewReader(""))
	assert.Equal(t, 0, u.Buffered())
	u.Unread([]byte("xyz"))
	assert.Equal(t, 3, u.Buffered())
}
