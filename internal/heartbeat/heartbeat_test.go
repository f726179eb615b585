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

package heartbeat

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesHeartbeatFile(t *testing.T) {
	dir := t.TempDir()
	token, err := New(dir, 3)
	require.NoError(t, err)
	defer token.Close()

	_, err = os.Stat(token.Path())
	assert.NoError(t, err)
}

func TestTickBumpsModTime(t *testing.T) {
	dir := t.TempDir()
	token, err := New(dir, 1)
	require.NoError(t, err)
	defer token.Close()

	before, err := os.Stat(token.Path())
	require.NoError(t, err)

	require.NoError(t, token.Tick())

	after, err := os.Stat(token.Path())
	require.NoError(t, err)
	assert.False(t, after.ModTime().Before(before.ModTime()))
}

func TestExpired(t *testing.T) {
	dir := t.TempDir()
	token, err := New(dir, 2)
	require.NoError(t, err)
	defer token.Close()

	expired, err := Expired(token.Path(), time.Hour)
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = Expired(token.Path(), -time.Second)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestExpiredMissingFile(t *testing.T) {
	_, err := Expired("/nonexistent/path/worker.heartbeat", time.Second)
	assert.Error(t, err)
}

func TestCloseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	token, err := New(dir, 4)
	require.NoError(t, err)

	path := token.Path()
	require.NoError(t, token.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
