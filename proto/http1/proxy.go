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
	"bytes"
	"net"
	"strconv"

	"github.com/appforge/appforge/internal/unreader"
	"github.com/appforge/appforge/proto"
)

const proxyLinePrefix = "PROXY "

// maybeParseProxyLine peeks at the first bytes on the connection for a
// PROXY protocol v1 preamble;
// if the bytes don't start with "PROXY ", they are pushed back unconsumed
// and nil, nil is returned.
func maybeParseProxyLine(u *unreader.Unreader) (*proto.ProxyInfo, error) {
	peek, _ := u.ReadExact(len(proxyLinePrefix))
	if len(peek) < len(proxyLinePrefix) || !bytes.Equal(peek, []byte(proxyLinePrefix)) {
		u.Unread(peek)
		return nil, nil
	}

	line, err := readLineFrom(u, 107) // RFC-mandated max PROXY v1 line length
	if err != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "truncated PROXY line: %v", err)
	}
	fields := bytes.Fields(line)
	if len(fields) != 5 {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "malformed PROXY line")
	}
	switch string(fields[0]) {
	case "TCP4", "TCP6":
	default:
		return nil, proto.NewStatusError(proto.StatusBadRequest, "unsupported PROXY protocol family %q", fields[0])
	}

	srcIP := net.ParseIP(string(fields[1]))
	dstIP := net.ParseIP(string(fields[2]))
	if srcIP == nil || dstIP == nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "malformed PROXY address")
	}
	srcPort, err1 := strconv.Atoi(string(fields[3]))
	dstPort, err2 := strconv.Atoi(string(fields[4]))
	if err1 != nil || err2 != nil {
		return nil, proto.NewStatusError(proto.StatusBadRequest, "malformed PROXY port")
	}

	return &proto.ProxyInfo{
		SrcIP:   srcIP,
		SrcPort: srcPort,
		DstIP:   dstIP,
		DstPort: dstPort,
	}, nil
}
