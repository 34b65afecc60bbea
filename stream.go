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

import "sync"

// StreamState enumerates the lifecycle of a single request/response
// exchange on a Connection.
type StreamState uint8

const (
	// StreamUnactivated is the state of a Stream just returned by
	// MakeRequest, before the caller calls Activate.
	StreamUnactivated StreamState = iota

	// StreamPending means the stream has been activated but is not yet
	// at the head of the connection's write queue.
	StreamPending

	// StreamWriting means the stream's request is being serialised to
	// the wire.
	StreamWriting

	// StreamWritingAndReading means the request is still being written
	// while the response has already started arriving - legal only
	// once the request head has been sent, and only for pipelined
	// exchanges where the peer replies early.
	StreamWritingAndReading

	// StreamReading means the request has been fully written and the
	// stream is waiting for/consuming its response.
	StreamReading

	// StreamComplete means the stream finished, successfully or not.
	// Complete is terminal; Err distinguishes the two cases.
	StreamComplete
)

func (s StreamState) String() string {
	switch s {
	case StreamUnactivated:
		return "Unactivated"
	case StreamPending:
		return "Pending"
	case StreamWriting:
		return "Writing"
	case StreamWritingAndReading:
		return "WritingAndReading"
	case StreamReading:
		return "Reading"
	case StreamComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// StreamCallbacks is the set of hooks a caller attaches to a Stream
// before calling Activate. Every callback runs on the connection's I/O
// goroutine; a callback must not block or call back into the
// Connection/Stream it was invoked from, except via Stream.Chunks()'s
// queue, which is safe from any goroutine.
//
// For a successful exchange the calls arrive in this order:
// OnInfo*, OnHeader*, OnHeaderBlockDone, (OnChunkExtension? OnBody)*,
// OnTrailer*, OnComplete. OnComplete always fires exactly once, even on
// failure, and is the only callback guaranteed to fire.
type StreamCallbacks struct {
	// OnInfo reports a 1xx (excluding 101) informational response that
	// preceded the final response.
	OnInfo func(info *InfoResponse)

	// OnStatus reports the final response's status line.
	OnStatus func(status int, reason string)

	// OnHeader reports one header field of the final response, in wire
	// order.
	OnHeader func(name, value string)

	// OnHeaderBlockDone fires once every header field has been
	// reported. Returning an error from it fails the stream with
	// ErrCodeCallbackError and aborts the exchange before any body is
	// read.
	OnHeaderBlockDone func() error

	// OnBody delivers one segment of the response body in wire order.
	// Returning captureBody = true also appends the segment onto
	// Response.Body; most callers that process the body incrementally
	// return false.
	OnBody func(p []byte) (captureBody bool, err error)

	// OnChunkExtension reports the raw, unparsed extension bytes of one
	// incoming chunk-size line (the text after the leading ';', before
	// the line's CRLF), for a chunked response. Fires once per chunk
	// that declares extensions, before that chunk's OnBody calls.
	OnChunkExtension func(raw []byte)

	// OnTrailer reports one trailer field of a chunked response.
	OnTrailer func(name, value string)

	// OnComplete fires exactly once when the stream finishes. resp is
	// nil if the stream failed before a final response was parsed. err
	// is nil only on success.
	OnComplete func(resp *Response, err error)
}

// Stream represents one request/response exchange on a Connection. It
// is created by Connection.MakeRequest and driven entirely by the
// connection's I/O goroutine; the methods safe to call from other
// goroutines are Activate, Chunks, SetTrailer, Cancel, ID, State and
// Result.
//
// A Stream holds no reference back to its Connection - only send-only
// channels used to ask the connection to activate or cancel it. This
// keeps a completed Stream detachable from its Connection the moment
// Connection drops it from its write/read queues, so nothing but the
// caller's own handle keeps it alive.
type Stream struct {
	mu sync.Mutex

	id        string
	request   *Request
	callbacks StreamCallbacks

	activateCh chan<- *Stream
	cancelCh   chan<- *Stream
	activated  bool

	state    StreamState
	response *Response
	code     ErrorCode
	err      error

	chunks *ChunkQueue

	// trailer holds header fields to be emitted after the termination
	// chunk of a chunked request body, set via SetTrailer.
	trailer *Headers

	// continueCh, when non-nil, gates the encoder's body emission on an
	// Expect: 100-continue request until the peer's 100 (or, failing
	// that, its final response) releases it.
	continueCh       chan struct{}
	continueSignaled bool
}

func newStream(id string, req *Request, cb StreamCallbacks, activateCh chan<- *Stream) *Stream {
	return newStreamWithCancel(id, req, cb, activateCh, nil)
}

func newStreamWithCancel(id string, req *Request, cb StreamCallbacks, activateCh, cancelCh chan<- *Stream) *Stream {
	s := &Stream{
		id:         id,
		request:    req,
		callbacks:  cb,
		activateCh: activateCh,
		cancelCh:   cancelCh,
		state:      StreamUnactivated,
	}
	if req.Mode == TransferChunked {
		if req.chunks == nil {
			req.chunks = NewChunkQueue(0)
		}
		s.chunks = req.chunks
	}
	if req.Mode != TransferNone && req.Wants100Continue() {
		s.continueCh = make(chan struct{})
	}
	return s
}

// continueWait returns the channel that closes once a 100-continue
// gate opens, or nil if the request never set one up.
func (s *Stream) continueWait() <-chan struct{} {
	return s.continueCh
}

// signalContinue opens the 100-continue gate. Safe to call multiple
// times or when no gate exists.
func (s *Stream) signalContinue() {
	if s.continueCh == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.continueSignaled {
		return
	}
	s.continueSignaled = true
	close(s.continueCh)
}

// SetTrailer adds a trailer header field to be emitted after the
// termination chunk of a chunked request body. Safe to call from any
// goroutine; has effect only if called before the termination chunk is
// dequeued by the encoder, so callers should set trailers before
// enqueuing the chunk built by NewTerminationChunk.
func (s *Stream) SetTrailer(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trailer == nil {
		s.trailer = NewHeaders()
	}
	s.trailer.Add(name, value)
}

// trailerFields returns the trailer fields set via SetTrailer, in wire
// order, or nil if none were set.
func (s *Stream) trailerFields() []HeaderField {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trailer == nil {
		return nil
	}
	return s.trailer.Fields()
}

// Cancel terminates the stream from any state with ErrCodeCancelled.
// It may be called from any goroutine, including from within a
// callback. A stream cancelled before it starts writing is simply
// dropped from the connection's queue; one cancelled mid-exchange
// takes the whole connection down with it, since the encoder and
// decoder have no way to resynchronise with the peer once a stream
// they are actively serving disappears out from under them.
func (s *Stream) Cancel() {
	if s.cancelCh == nil {
		s.complete(nil, ErrCodeCancelled, ErrStreamCancelled)
		return
	}
	s.cancelCh <- s
}

// ID returns the stream's unique identifier, assigned by the
// connection that created it.
func (s *Stream) ID() string {
	return s.id
}

// State returns the stream's current lifecycle state. Safe from any
// goroutine.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chunks returns the stream's outbound chunk queue. It is non-nil only
// when the request uses TransferChunked, and is safe to write to from
// any goroutine, including before Activate is called.
func (s *Stream) Chunks() *ChunkQueue {
	return s.chunks
}

// Activate submits the stream for writing. It may be called from any
// goroutine, exactly once; a second call returns ErrActivateTwice.
func (s *Stream) Activate() error {
	s.mu.Lock()
	if s.activated {
		s.mu.Unlock()
		return ErrActivateTwice
	}
	s.activated = true
	s.mu.Unlock()

	s.activateCh <- s
	return nil
}

func (s *Stream) setState(st StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// complete transitions the stream to StreamComplete and fires
// OnComplete exactly once. Safe to call multiple times; only the first
// call has effect.
func (s *Stream) complete(resp *Response, code ErrorCode, err error) {
	s.mu.Lock()
	if s.state == StreamComplete {
		s.mu.Unlock()
		return
	}
	s.state = StreamComplete
	s.response = resp
	s.code = code
	s.err = err
	s.mu.Unlock()

	if s.chunks != nil {
		s.chunks.cancel(ErrConnectionClosed)
	}
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(resp, err)
	}
}

// Result returns the stream's final response/error once it has
// reached StreamComplete; ok is false while still in flight.
func (s *Stream) Result() (resp *Response, code ErrorCode, err error, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamComplete {
		return nil, ErrCodeSuccess, nil, false
	}
	return s.response, s.code, s.err, true
}
