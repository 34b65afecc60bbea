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

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/packetd/h1conn/common"
	"github.com/packetd/h1conn/logger"
)

// Hooks lets a caller observe connection-level events without the
// core depending on any particular metrics/tracing stack. Every field
// is optional; all are invoked on the connection's I/O goroutine and
// must not block.
type Hooks struct {
	OnStreamComplete func(code ErrorCode)
	OnBytesWritten   func(n int)
	OnBytesRead      func(n int)
	OnShutdown       func(code ErrorCode)
}

// Options configures a Connection.
type Options struct {
	// BufferSize caps how many bytes the encoder emits per step; each
	// step's output length is the size hint passed to AcquireOutbound.
	// Zero uses common.DefaultBufferSize.
	BufferSize int

	// InitialReadWindow is the read-window credit the connection starts
	// with. Zero uses common.DefaultReadWindow.
	InitialReadWindow int

	// ChunkQueueCapacity bounds each chunked stream's outbound chunk
	// queue. Zero uses common.DefaultChunkQueueCapacity.
	ChunkQueueCapacity int

	// MaxCapturedBody bounds how many response body bytes a stream
	// retains on Response.Body when it opts into capture. Zero uses
	// common.DefaultMaxCapturedBody.
	MaxCapturedBody int

	// IdleTimeout closes the connection with ErrCodeIdleTimeout once
	// this long passes with no task, activation, or inbound delivery
	// processed. Zero disables idle timeout enforcement.
	IdleTimeout time.Duration

	Hooks Hooks
}

// Connection drives a single client-side HTTP/1.1 connection mounted
// inside a caller-supplied byte pipeline. All protocol state is owned
// by one goroutine; every other exported method is safe to call from
// any goroutine and marshals onto that goroutine internally.
type Connection struct {
	id      string
	adapter BoundaryAdapter
	opts    Options

	tasks      chan func()
	inbound    chan []byte
	activateCh chan *Stream
	cancelCh   chan *Stream
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once

	open                atomic.Bool
	switched            atomic.Bool
	shuttingDown        atomic.Bool
	downstreamInstalled atomic.Bool

	windowMu   sync.Mutex
	readWindow int

	// Fields below are touched only by the loop goroutine.
	queue        []*Stream
	writeIdx     int
	readIdx      int
	enc          encoder
	dec          decoder
	pendingIn    []byte
	nextID       uint64
	closeErr     error
	closeCode    ErrorCode
	transportErr error

	// closeBoundary/switchBoundary are queue indices: once set (>= 0),
	// any queue entry at or after that index has not been activated
	// onto the wire and never will be, since it was queued after the
	// request that triggered the close/upgrade. bindNextWriter fails
	// such entries instead of binding them. -1 means unset.
	closeBoundary  int
	switchBoundary int

	// msgFramingCharged accumulates the header/framing bytes charged
	// against readWindow for the response currently being decoded, so
	// the full amount can be credited back once that response
	// completes - body bytes the caller accepts are never charged in
	// the first place.
	msgFramingCharged int
}

// NewConnection creates a Connection bound to adapter and starts its
// I/O goroutine.
func NewConnection(adapter BoundaryAdapter, opts Options) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = common.DefaultBufferSize
	}
	if opts.InitialReadWindow <= 0 {
		opts.InitialReadWindow = common.DefaultReadWindow
	}
	if opts.ChunkQueueCapacity <= 0 {
		opts.ChunkQueueCapacity = common.DefaultChunkQueueCapacity
	}
	if opts.MaxCapturedBody <= 0 {
		opts.MaxCapturedBody = common.DefaultMaxCapturedBody
	}

	c := &Connection{
		id:             uuid.NewString(),
		adapter:        adapter,
		opts:           opts,
		tasks:          make(chan func(), 32),
		inbound:        make(chan []byte, 1),
		activateCh:     make(chan *Stream, 32),
		cancelCh:       make(chan *Stream, 32),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		readWindow:     opts.InitialReadWindow,
		closeBoundary:  -1,
		switchBoundary: -1,
	}
	c.open.Store(true)
	adapter.IncrementReadWindow(opts.InitialReadWindow)
	go c.loop()
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// IsOpen reports whether the connection is still usable. Safe from
// any goroutine.
func (c *Connection) IsOpen() bool {
	return c.open.Load()
}

// NewRequestsAllowed reports whether MakeRequest will currently
// succeed. Safe from any goroutine.
func (c *Connection) NewRequestsAllowed() bool {
	return c.open.Load() && !c.switched.Load() && !c.shuttingDown.Load()
}

// SwitchedProtocols reports whether a 101 response has switched this
// connection into protocol pass-through. Safe from any goroutine.
func (c *Connection) SwitchedProtocols() bool {
	return c.switched.Load()
}

// DownstreamInstalled reports whether SwitchedProtocols() is true and
// the switched-to request supplied an UpgradeHandler that is now
// receiving pass-through bytes.
func (c *Connection) DownstreamInstalled() bool {
	return c.downstreamInstalled.Load()
}

// MakeRequest creates a Stream for req. The stream is not submitted
// for writing until its Activate method is called - this gives the
// caller a chance to attach to Stream.Chunks() before the first byte
// of a chunked body could possibly be needed.
func (c *Connection) MakeRequest(req *Request, cb StreamCallbacks) (*Stream, error) {
	if !c.NewRequestsAllowed() {
		if c.switched.Load() {
			return nil, ErrSwitchedProtocols
		}
		return nil, ErrConnectionClosed
	}
	if req.Mode == TransferChunked && req.chunks == nil {
		req.chunks = NewChunkQueue(c.opts.ChunkQueueCapacity)
	}

	id := c.nextStreamID()
	s := newStreamWithCancel(id, req, cb, c.activateCh, c.cancelCh)
	return s, nil
}

func (c *Connection) nextStreamID() string {
	n := atomic.AddUint64(&c.nextID, 1)
	return c.id + "-" + strconv.FormatUint(n, 10)
}

// UpdateWindow grants the connection n additional bytes of read-window
// credit. Safe from any goroutine.
func (c *Connection) UpdateWindow(n int) {
	if n <= 0 {
		return
	}
	c.windowMu.Lock()
	c.readWindow += n
	c.windowMu.Unlock()
	c.adapter.IncrementReadWindow(n)

	c.post(func() { c.drainRead() })
}

// Close begins an orderly shutdown: no further requests are accepted,
// every stream still in flight is failed with code, and the adapter is
// told to shut down both directions. Close returns once shutdown has
// been scheduled; it does not block for the I/O goroutine to exit.
func (c *Connection) Close(code ErrorCode) {
	c.stopOnce.Do(func() {
		c.shuttingDown.Store(true)
		c.closeCode = code
		close(c.stopCh)
	})
}

// ReportTransportError notifies the connection that the boundary
// adapter hit a failure in the underlying byte pipeline - a socket
// error, or a downstream handler erroring out after a protocol
// upgrade. It fails the connection with ErrCodeTransportError, unless
// the connection is already shutting down for another reason, in
// which case err is folded into Err() alongside whatever reason came
// first.
func (c *Connection) ReportTransportError(err error) {
	if err == nil {
		return
	}
	c.post(func() {
		c.transportErr = multierror.Append(asMultierror(c.transportErr), err).ErrorOrNil()
		if c.closeErr == nil {
			c.failConnection(newCodedError(ErrCodeTransportError, err))
		}
	})
}

func asMultierror(err error) *multierror.Error {
	if me, ok := err.(*multierror.Error); ok {
		return me
	}
	me := new(multierror.Error)
	if err != nil {
		me = multierror.Append(me, err)
	}
	return me
}

// Err returns the aggregate error that caused the connection to shut
// down, combining the core's own protocol-level finding (if any) with
// every transport-level error reported via ReportTransportError. It is
// meaningful only after Done() has closed.
func (c *Connection) Err() error {
	var me *multierror.Error
	if c.closeErr != nil && c.closeErr != ErrConnectionClosed {
		me = multierror.Append(me, c.closeErr)
	}
	if c.transportErr != nil {
		me = multierror.Append(me, c.transportErr)
	}
	return me.ErrorOrNil()
}

// PeerClosed notifies the connection that the adapter observed the
// peer shut down its write half - either ending a close-delimited
// response body, or, if no stream is waiting on one, becoming a fatal
// ProtocolError for whatever stream is mid-read.
func (c *Connection) PeerClosed() {
	c.post(func() { c.handlePeerClosed() })
}

// DeliverInbound hands the connection bytes read from the peer. It
// may be called from any goroutine but must not be called concurrently
// with itself.
func (c *Connection) DeliverInbound(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := append([]byte(nil), b...)
	select {
	case c.inbound <- cp:
	case <-c.doneCh:
	}
}

// post marshals fn onto the I/O goroutine. Safe from any goroutine.
func (c *Connection) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.doneCh:
	}
}

// Done returns a channel closed once the connection's I/O goroutine
// has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Connection) loop() {
	defer close(c.doneCh)

	// idleC is nil (and so never selectable) when IdleTimeout is
	// disabled; resetIdle is then a no-op.
	var idleC <-chan time.Time
	var idleTimer *time.Timer
	resetIdle := func() {}
	if c.opts.IdleTimeout > 0 {
		idleTimer = time.NewTimer(c.opts.IdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
		resetIdle = func() {
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(c.opts.IdleTimeout)
		}
	}

	for {
		wake := c.pumpWrites()
		select {
		case <-c.stopCh:
			c.shutdown()
			return
		case fn := <-c.tasks:
			fn()
			resetIdle()
		case s := <-c.activateCh:
			c.handleActivate(s)
			resetIdle()
		case s := <-c.cancelCh:
			c.handleCancel(s)
			resetIdle()
		case b, ok := <-c.inbound:
			if !ok {
				return
			}
			c.pendingIn = append(c.pendingIn, b...)
			c.drainRead()
			resetIdle()
		case <-wake:
			resetIdle()
		case <-idleC:
			logger.Warnf("h1conn: connection %s idle timeout after %s", c.id, c.opts.IdleTimeout)
			c.Close(ErrCodeIdleTimeout)
		}
	}
}

func (c *Connection) handleActivate(s *Stream) {
	if _, _, _, ok := s.Result(); ok {
		return // cancelled before its activation reached this goroutine
	}
	s.setState(StreamPending)
	c.queue = append(c.queue, s)
	if s.request.WantsClose() {
		c.shuttingDown.Store(true)
		if c.closeBoundary < 0 {
			c.closeBoundary = len(c.queue)
		}
	}
	logger.Debugf("h1conn: connection %s activated stream %s (%s %s)", c.id, s.ID(), s.request.Method, s.request.Target)
}

// handleCancel terminates s after Stream.Cancel marshalled the request
// onto this goroutine. A stream that never reached the wire is simply
// completed in place; one the encoder or decoder is actively serving
// takes the whole connection down, since neither can resynchronise
// with the peer once the stream they were serving disappears.
func (c *Connection) handleCancel(s *Stream) {
	if _, _, _, ok := s.Result(); ok {
		return
	}
	switch s.State() {
	case StreamUnactivated, StreamPending:
		s.complete(nil, ErrCodeCancelled, ErrStreamCancelled)
		c.pruneQueue()
	default:
		c.failStream(s, ErrStreamCancelled)
	}
}

// pumpWrites drives the encoder as far as it can go right now and
// returns a channel to additionally select on (non-nil only when
// parked awaiting chunk data or a 100-continue gate).
func (c *Connection) pumpWrites() <-chan struct{} {
	for {
		if c.enc.finished() {
			if !c.bindNextWriter() {
				return nil
			}
		}

		data, err := c.enc.advance(c.opts.BufferSize)
		if err != nil {
			c.failStream(c.enc.stream, err)
			c.enc = encoder{}
			continue
		}
		if len(data) > 0 {
			buf := c.adapter.AcquireOutbound(len(data))
			buf.Write(data)
			c.adapter.Commit(buf)
			if c.opts.Hooks.OnBytesWritten != nil {
				c.opts.Hooks.OnBytesWritten(len(data))
			}
			continue
		}
		if c.enc.finished() {
			if c.enc.stream != nil {
				c.finishWriting(c.enc.stream)
			}
			c.enc = encoder{}
			continue // re-enter loop: bindNextWriter above will advance
		}
		if c.enc.parked() {
			return c.enc.wake()
		}
		return nil
	}
}

// bindNextWriter binds the encoder to the next queued stream awaiting
// write, if any. A stream queued at or after closeBoundary/
// switchBoundary never reaches the wire - it was queued after the
// request that triggered connection-close or protocol-upgrade - and is
// instead completed in place with ConnectionClosed/SwitchedProtocols.
func (c *Connection) bindNextWriter() bool {
	for c.writeIdx < len(c.queue) {
		idx := c.writeIdx
		s := c.queue[c.writeIdx]
		c.writeIdx++
		if _, _, _, ok := s.Result(); ok {
			continue // cancelled before it reached the wire
		}
		if c.switchBoundary >= 0 && idx >= c.switchBoundary {
			c.completeReading(s, nil, ErrSwitchedProtocols)
			continue
		}
		if c.closeBoundary >= 0 && idx >= c.closeBoundary {
			c.completeReading(s, nil, ErrConnectionClosed)
			continue
		}
		s.setState(StreamWriting)
		c.enc.bind(s)
		return true
	}
	return false
}

// finishWriting marks a stream's request as fully sent: a stream in
// Writing or WritingAndReading moves to Reading, whether or not the
// decoder has bound to it yet.
func (c *Connection) finishWriting(s *Stream) {
	s.mu.Lock()
	if s.state == StreamWriting || s.state == StreamWritingAndReading {
		s.state = StreamReading
	}
	s.mu.Unlock()
}

// drainRead feeds as much of pendingIn as the read window currently
// allows into the decoder, binding it to successive queued streams as
// each response completes (pipelining).
func (c *Connection) drainRead() {
	for len(c.pendingIn) > 0 {
		if c.closeErr != nil {
			return // already tearing down; discard the rest silently
		}
		if c.dec.finished() {
			if !c.bindNextReader() {
				c.failConnection(newCodedError(ErrCodeUnexpectedData,
					newError("received %d bytes with no stream awaiting a response", len(c.pendingIn))))
				return
			}
		}

		credit := c.windowAvailable()
		if credit <= 0 {
			return
		}
		n := len(c.pendingIn)
		if n > credit {
			n = credit
		}

		res := c.dec.feed(c.pendingIn[:n])
		framing := res.consumed - res.bodyConsumed
		c.consumeWindow(framing)
		c.msgFramingCharged += framing
		c.pendingIn = c.pendingIn[res.consumed:]
		if c.opts.Hooks.OnBytesRead != nil && res.consumed > 0 {
			c.opts.Hooks.OnBytesRead(res.consumed)
		}

		switch {
		case res.err != nil:
			c.failStream(c.dec.stream, res.err)
			c.dec = decoder{}
		case res.upgrade:
			c.refundWindow(c.msgFramingCharged)
			c.msgFramingCharged = 0
			c.handleUpgrade()
		case res.complete:
			c.refundWindow(c.msgFramingCharged)
			c.msgFramingCharged = 0
			stream, resp := c.dec.stream, c.dec.resp
			c.dec = decoder{}
			c.completeReading(stream, resp, nil)
			c.maybeCloseAfterResponse(resp)
		default:
			if res.consumed == 0 {
				return
			}
		}
	}
}

func (c *Connection) bindNextReader() bool {
	for c.readIdx < len(c.queue) {
		s := c.queue[c.readIdx]
		c.readIdx++
		if _, _, _, ok := s.Result(); ok {
			continue
		}

		s.mu.Lock()
		if s.state == StreamWriting {
			s.state = StreamWritingAndReading
		} else {
			s.state = StreamReading
		}
		s.mu.Unlock()

		allowClose := c.shuttingDown.Load()
		c.dec.bind(s, allowClose, c.opts.MaxCapturedBody)
		c.msgFramingCharged = 0
		return true
	}
	return false
}

func (c *Connection) completeReading(s *Stream, resp *Response, err error) {
	if s == nil {
		return
	}
	code := ErrCodeSuccess
	if err != nil {
		code = ErrCodeProtocolError
		if ce, ok := err.(*CodedError); ok {
			code = ce.Code
		}
	}
	s.complete(resp, code, err)
	c.pruneQueue()
	if c.opts.Hooks.OnStreamComplete != nil {
		c.opts.Hooks.OnStreamComplete(code)
	}
}

// maybeCloseAfterResponse checks a just-completed final response for
// Connection: close framing and, if present, stops accepting new
// requests.
func (c *Connection) maybeCloseAfterResponse(resp *Response) {
	if resp == nil {
		return
	}
	if resp.Headers.hasToken("Connection", "close") {
		c.shuttingDown.Store(true)
		if c.closeBoundary < 0 {
			c.closeBoundary = c.readIdx
		}
		if c.readIdx >= len(c.queue) && c.writeIdx >= len(c.queue) {
			c.Close(ErrCodeConnectionClosed)
		}
	}
}

func (c *Connection) handlePeerClosed() {
	if !c.dec.finished() {
		res := c.dec.endOfStream()
		if res.err != nil {
			c.failStream(c.dec.stream, res.err)
		} else if res.complete {
			c.completeReading(c.dec.stream, c.dec.resp, nil)
		}
		c.dec = decoder{}
	}
	c.Close(ErrCodeConnectionClosed)
}

// failStream fails s and, because both the encoder and decoder lose
// their place in the byte stream the instant either one errors, tears
// down the whole connection - a malformed or mismatched single stream
// leaves no reliable way to resynchronise with whatever the peer
// sends for the streams behind it.
func (c *Connection) failStream(s *Stream, err error) {
	if s == nil {
		return
	}
	c.completeReading(s, nil, err)
	logger.Warnf("h1conn: connection %s stream %s failed: %v", c.id, s.ID(), err)
	c.failConnection(err)
}

// failConnection fails every stream still in the queue and begins
// shutdown - used for every error that ends a stream mid-exchange (a
// protocol violation, data with nowhere to go, a request body whose
// length does not match what it declared, a cancelled in-flight
// stream), since the shared wire state cannot be trusted afterwards.
func (c *Connection) failConnection(err error) {
	c.closeErr = err
	logger.Errorf("h1conn: connection %s fatal error: %v", c.id, err)
	c.cancelQueued(err)

	code := ErrCodeProtocolError
	if ce, ok := err.(*CodedError); ok {
		code = ce.Code
	}
	c.Close(code)
}

// cancelQueued fails every stream still in flight and stops the
// encoder/decoder from advancing to any stream beyond this point -
// called whenever the connection as a whole is being torn down. Any
// chunk the encoder had already dequeued but not finished writing
// fires its completion callback here, since ChunkQueue.cancel only
// reaches chunks still sitting in its own buffer. Each stream gets the
// code of err, or for a plain close the code passed to Close, with
// ErrCodeSuccess reported as ErrCodeCancelled.
func (c *Connection) cancelQueued(err error) {
	code := ErrCodeCancelled
	if ce, ok := err.(*CodedError); ok && err != ErrConnectionClosed {
		code = ce.Code
	} else if c.closeCode != ErrCodeSuccess {
		code = c.closeCode
	}
	for _, s := range c.queue {
		if _, _, _, ok := s.Result(); !ok {
			s.complete(nil, code, err)
		}
	}
	c.writeIdx = len(c.queue)
	c.readIdx = len(c.queue)
	if c.enc.curChunk != nil {
		c.enc.curChunk.complete(err)
	}
	c.enc = encoder{}
	c.dec = decoder{}
}

// pruneQueue drops fully-finished streams off the front of the queue
// so it does not grow without bound across a long-lived connection.
func (c *Connection) pruneQueue() {
	drop := 0
	for drop < len(c.queue) && drop < c.writeIdx && drop < c.readIdx {
		if _, _, _, ok := c.queue[drop].Result(); !ok {
			break
		}
		drop++
	}
	if drop == 0 {
		return
	}
	c.queue = c.queue[drop:]
	c.writeIdx -= drop
	c.readIdx -= drop
	if c.closeBoundary >= 0 {
		c.closeBoundary -= drop
	}
	if c.switchBoundary >= 0 {
		c.switchBoundary -= drop
	}
}

func (c *Connection) windowAvailable() int {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	return c.readWindow
}

func (c *Connection) consumeWindow(n int) {
	if n <= 0 {
		return
	}
	c.windowMu.Lock()
	c.readWindow -= n
	c.windowMu.Unlock()
}

// refundWindow credits back header/framing bytes charged against the
// window for a message that has now finished, per the flow-control
// invariant that such a charge is only ever transient.
func (c *Connection) refundWindow(n int) {
	if n <= 0 {
		return
	}
	c.windowMu.Lock()
	c.readWindow += n
	c.windowMu.Unlock()
}

func (c *Connection) shutdown() {
	c.open.Store(false)
	err := c.closeErr
	if err == nil {
		err = ErrConnectionClosed
	}
	c.cancelQueued(err)
	c.adapter.Shutdown(DirectionBoth, int(c.closeCode))
	if c.opts.Hooks.OnShutdown != nil {
		c.opts.Hooks.OnShutdown(c.closeCode)
	}
	logger.Infof("h1conn: connection %s shut down (code=%s)", c.id, c.closeCode)
}
