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

package proto

import "fmt"

// StatusError is a parse/codec error carrying the HTTP status the engine
// should respond with.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Msg)
}

// NewStatusError builds a StatusError, formatting Msg like fmt.Sprintf.
func NewStatusError(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

// Common status hints used across proto/http1, proto/uwsgi, proto/fastcgi.
const (
	StatusBadRequest         = 400
	StatusForbidden          = 403
	StatusRequestHeaderLarge = 431
	StatusNotImplemented     = 501
	StatusHTTPVersion        = 505
)
