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

import "encoding/binary"

// Settings identifiers (RFC 7540 §6.5.2).
const (
	SettingsHeaderTableSize      uint16 = 0x1
	SettingsEnablePush           uint16 = 0x2
	SettingsMaxConcurrentStreams uint16 = 0x3
	SettingsInitialWindowSize    uint16 = 0x4
	SettingsMaxFrameSize         uint16 = 0x5
	SettingsMaxHeaderListSize    uint16 = 0x6
)

// Settings holds the negotiated SETTINGS values for one side of a
// connection. The asgi engine always uses DefaultSettings; these values
// are not read from the configuration file.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings mirrors RFC 7540 §6.5.2's initial values, with
// MaxConcurrentStreams and MaxHeaderListSize given practical operator
// defaults rather than "unlimited".
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           false,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    1 << 20,
	}
}

// EncodeSettingsPayload serializes all six fields as a
// SETTINGS frame payload (6 bytes per entry: id-BE16 + value-BE32).
func (s Settings) EncodeSettingsPayload() []byte {
	entries := []struct {
		id  uint16
		val uint32
	}{
		{SettingsHeaderTableSize, s.HeaderTableSize},
		{SettingsEnablePush, boolToUint32(s.EnablePush)},
		{SettingsMaxConcurrentStreams, s.MaxConcurrentStreams},
		{SettingsInitialWindowSize, s.InitialWindowSize},
		{SettingsMaxFrameSize, s.MaxFrameSize},
		{SettingsMaxHeaderListSize, s.MaxHeaderListSize},
	}
	buf := make([]byte, 0, len(entries)*6)
	for _, e := range entries {
		tmp := make([]byte, 6)
		binary.BigEndian.PutUint16(tmp[0:2], e.id)
		binary.BigEndian.PutUint32(tmp[2:6], e.val)
		buf = append(buf, tmp...)
	}
	return buf
}

// ApplySettingsPayload parses a peer's SETTINGS frame payload (must be a
// multiple of 6 bytes) and updates the matching fields of s in place.
func (s *Settings) ApplySettingsPayload(payload []byte) error {
	if len(payload)%6 != 0 {
		return &FrameError{Code: ErrFrameSizeError, Msg: "settings payload not a multiple of 6"}
	}
	for i := 0; i+6 <= len(payload); i += 6 {
		id := binary.BigEndian.Uint16(payload[i : i+2])
		val := binary.BigEndian.Uint32(payload[i+2 : i+6])
		switch id {
		case SettingsHeaderTableSize:
			s.HeaderTableSize = val
		case SettingsEnablePush:
			if val > 1 {
				return &FrameError{Code: ErrProtocolError, Msg: "invalid enable_push value"}
			}
			s.EnablePush = val == 1
		case SettingsMaxConcurrentStreams:
			s.MaxConcurrentStreams = val
		case SettingsInitialWindowSize:
			if val > 1<<31-1 {
				return &FrameError{Code: ErrFlowControlError, Msg: "initial window size exceeds maximum"}
			}
			s.InitialWindowSize = val
		case SettingsMaxFrameSize:
			if val < 16384 || val > 1<<24-1 {
				return &FrameError{Code: ErrProtocolError, Msg: "invalid max frame size"}
			}
			s.MaxFrameSize = val
		case SettingsMaxHeaderListSize:
			s.MaxHeaderListSize = val
		}
	}
	return nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// FrameError carries an RFC 7540 error code alongside a human message; it
// maps directly onto a GOAWAY or RST_STREAM frame.
type FrameError struct {
	Code uint32
	Msg  string
}

func (e *FrameError) Error() string { return e.Msg }
