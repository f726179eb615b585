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

package listener

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTCPAndUnix(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "appforge.sock")

	s, err := Parse([]string{"127.0.0.1:0", "unix:" + sockPath}, 16)
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, s.TCPListeners(), 1)
	assert.Len(t, s.UnixListeners(), 1)
	assert.Len(t, s.Listeners(), 2)
	assert.Equal(t, []string{"127.0.0.1:0", "unix:" + sockPath}, s.Addrs())
}

func TestParseInvalidAddrFails(t *testing.T) {
	_, err := Parse([]string{"not-a-valid-address"}, 0)
	assert.Error(t, err)
}

func TestFilesMatchesListenerCount(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "appforge2.sock")
	s, err := Parse([]string{"127.0.0.1:0", "unix:" + sockPath}, 0)
	require.NoError(t, err)
	defer s.Close()

	files, err := s.Files()
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		f.Close()
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "appforge3.sock")
	s, err := Parse([]string{"127.0.0.1:0", "unix:" + sockPath}, 0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	// closing an already-closed set surfaces every listener's close error,
	// not just the first.
	err = s.Close()
	assert.Error(t, err)
}
