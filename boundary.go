// Copyright 2025 The packetd Authors
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

package h1conn

import "github.com/packetd/h1conn/internal/zerocopy"

// Direction distinguishes the read and write halves of a connection,
// since shutdown (and, during an upgrade, pass-through) can happen
// independently in either direction.
type Direction uint8

const (
	DirectionRead Direction = iota
	DirectionWrite
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "read"
	case DirectionWrite:
		return "write"
	case DirectionBoth:
		return "both"
	default:
		return "unknown"
	}
}

// BoundaryAdapter is the core's view of the byte-pipeline it is
// mounted inside. It is supplied by the caller; the core never talks
// to a socket, TLS layer, or scheduler directly.
type BoundaryAdapter interface {
	// AcquireOutbound returns a buffer the encoder may write into. The
	// adapter may return a buffer smaller than sizeHint; the encoder
	// must cope with that by resuming on the next acquisition.
	AcquireOutbound(sizeHint int) zerocopy.Buffer

	// Commit enqueues a buffer the encoder has finished writing into
	// for delivery to the peer.
	Commit(buf zerocopy.Buffer)

	// IncrementReadWindow tells the adapter the connection is willing
	// to accept n more bytes of inbound data.
	IncrementReadWindow(n int)

	// Shutdown asks the adapter to shut down dir, with error_code
	// explaining why.
	Shutdown(dir Direction, code int)

	// InstallDownstream hands future inbound bytes (and, implicitly,
	// future outbound bytes originating from the handler) to h, for
	// protocol-upgrade handoff. initialWindow seeds h's read-window.
	InstallDownstream(h DownstreamHandler, initialWindow int)
}

// DownstreamHandler receives bytes once a connection has switched
// protocols and become a transparent pass-through.
type DownstreamHandler interface {
	// DeliverInbound hands the handler bytes read from the peer.
	DeliverInbound(b []byte)

	// OnShutdown notifies the handler that dir has shut down, with
	// code explaining why. freeNow indicates the adapter wants
	// resources released immediately rather than after graceful
	// drain.
	OnShutdown(dir Direction, code int, freeNow bool)
}
