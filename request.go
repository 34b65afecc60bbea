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

// BodySource is the polymorphic capability set a request body is read
// through. Implementations need only satisfy ReadInto/Done. Length and
// Seek are declared as separate optional interfaces (BodyLength,
// BodySeeker); the core does not check a source for either.
type BodySource interface {
	// ReadInto reads up to len(p) bytes into p, returning how many
	// bytes were read. Semantics match io.Reader otherwise.
	ReadInto(p []byte) (int, error)

	// Done reports whether the source has no further bytes to offer.
	Done() bool
}

// BodyLength is an optional BodySource capability: a source that knows
// its total length up front. The core does not call it; framing always
// follows Content-Length, and the user is responsible for keeping the
// two consistent.
type BodyLength interface {
	Length() (int64, bool)
}

// BodySeeker is an optional BodySource capability allowing the encoder
// to restart a body from the beginning, e.g. after a 100-continue
// re-negotiation that a future extension might require. The core
// itself does not currently invoke it.
type BodySeeker interface {
	SeekStart() error
}

// TransferMode selects how a Request's body is framed on the wire.
type TransferMode uint8

const (
	// TransferNone means the request carries no body.
	TransferNone TransferMode = iota

	// TransferContentLength means the body is exactly ContentLength
	// bytes, declared via a Content-Length header the caller added.
	TransferContentLength

	// TransferChunked means the body is sent as a chunked-encoding
	// stream driven by the request's ChunkQueue.
	TransferChunked
)

// Request is an immutable-once-submitted HTTP/1.1 request.
type Request struct {
	Method  string
	Target  string
	Headers *Headers

	Mode          TransferMode
	ContentLength int64 // meaningful only when Mode == TransferContentLength
	Body          BodySource

	// UpgradeHandler, if set, receives pass-through bytes once a 101
	// Switching Protocols response to this request is decoded. If left
	// nil and the peer switches protocols anyway, any further inbound
	// bytes are a fatal ErrCodeUnexpectedData.
	UpgradeHandler DownstreamHandler

	// chunks is set by the Connection when Mode == TransferChunked, not
	// by the caller: callers obtain it back via Stream.Chunks() after
	// MakeRequest returns.
	chunks *ChunkQueue
}

// NewRequest builds a Request with no body. Callers wanting a body set
// Mode/ContentLength/Body (for TransferContentLength) before calling
// Connection.MakeRequest, or just set Mode = TransferChunked and then
// write to Stream.Chunks() after the stream is created.
func NewRequest(method, target string) *Request {
	return &Request{
		Method:  method,
		Target:  target,
		Headers: NewHeaders(),
	}
}

// WantsClose reports whether the request declares Connection: close.
func (r *Request) WantsClose() bool {
	return r.Headers.hasToken("Connection", "close")
}

// WantsUpgrade reports whether the request declares Connection: Upgrade.
func (r *Request) WantsUpgrade() bool {
	return r.Headers.hasToken("Connection", "upgrade")
}

// Wants100Continue reports whether the request declares
// Expect: 100-continue.
func (r *Request) Wants100Continue() bool {
	return r.Headers.hasToken("Expect", "100-continue")
}
