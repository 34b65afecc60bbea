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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h1conn/internal/zerocopy"
)

// fakeAdapter is an in-memory BoundaryAdapter: committed outbound
// bytes are appended to a buffer a test can inspect, and inbound bytes
// are delivered straight back through Connection.DeliverInbound by
// the test driving it.
type fakeAdapter struct {
	mu       sync.Mutex
	written  []byte
	shutdown []Direction

	downstream      DownstreamHandler
	downstreamWindow int
}

func (a *fakeAdapter) AcquireOutbound(sizeHint int) zerocopy.Buffer {
	if sizeHint <= 0 {
		sizeHint = 64
	}
	return zerocopy.NewBuffer(make([]byte, sizeHint))
}

func (a *fakeAdapter) Commit(buf zerocopy.Buffer) {
	defer buf.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		p, err := buf.Read(4096)
		a.written = append(a.written, p...)
		if err != nil {
			return
		}
	}
}

func (a *fakeAdapter) IncrementReadWindow(n int) {}

func (a *fakeAdapter) Shutdown(dir Direction, code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown = append(a.shutdown, dir)
}

func (a *fakeAdapter) InstallDownstream(h DownstreamHandler, initialWindow int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.downstream = h
	a.downstreamWindow = initialWindow
}

func (a *fakeAdapter) writtenSoFar() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.written)
}

func (a *fakeAdapter) installedDownstream() DownstreamHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.downstream
}

// fakeDownstream is a DownstreamHandler recording whatever pass-through
// bytes it was handed after a protocol upgrade.
type fakeDownstream struct {
	mu        sync.Mutex
	delivered []byte
	shutdowns []Direction
}

func (f *fakeDownstream) DeliverInbound(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, b...)
}

func (f *fakeDownstream) OnShutdown(dir Direction, code int, freeNow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, dir)
}

func (f *fakeDownstream) deliveredSoFar() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.delivered)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestConnectionRoundTripContentLengthResponse(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	var resp *Response
	var respErr error
	done := make(chan struct{})
	req := NewRequest("GET", "/")
	req.Headers.Add("Host", "example.com")

	s, err := conn.MakeRequest(req, StreamCallbacks{
		OnBody: func(p []byte) (bool, error) { return true, nil },
		OnComplete: func(r *Response, err error) {
			resp, respErr = r, err
			close(done)
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Activate())

	waitFor(t, time.Second, func() bool {
		return len(adapter.writtenSoFar()) > 0
	})
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", adapter.writtenSoFar())

	conn.DeliverInbound([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnComplete")
	}
	require.NoError(t, respErr)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "ok", string(resp.Body()))
}

func TestConnectionCancelPendingStreamDoesNotTouchWire(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	var code ErrorCode
	var gotErr error
	done := make(chan struct{})

	first := NewRequest("GET", "/first")
	firstStream, err := conn.MakeRequest(first, StreamCallbacks{})
	require.NoError(t, err)

	second := NewRequest("GET", "/second")
	secondStream, err := conn.MakeRequest(second, StreamCallbacks{
		OnComplete: func(resp *Response, err error) {
			code, gotErr = ErrCodeCancelled, err
			close(done)
		},
	})
	require.NoError(t, err)

	require.NoError(t, firstStream.Activate())
	require.NoError(t, secondStream.Activate())
	secondStream.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled stream to complete")
	}
	assert.Equal(t, ErrCodeCancelled, code)
	assert.ErrorIs(t, gotErr, ErrStreamCancelled)

	_, secondCode, _, ok := secondStream.Result()
	assert.True(t, ok)
	assert.Equal(t, ErrCodeCancelled, secondCode)

	// The connection must still be usable for the stream ahead of the
	// cancelled one.
	assert.True(t, conn.IsOpen())
}

func TestConnectionIdleTimeoutClosesConnection(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{IdleTimeout: 20 * time.Millisecond})

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not close after idle timeout")
	}
	assert.False(t, conn.IsOpen())
}

func TestConnectionReportTransportErrorAggregatesWithCloseErr(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})

	conn.ReportTransportError(assert.AnError)
	<-conn.Done()

	err := conn.Err()
	assert.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

// TestConnectionPipelinesSequentialRequests activates two requests
// before either response arrives, then delivers both responses in one
// shot, and checks they resolve to the right stream in wire order.
func TestConnectionPipelinesSequentialRequests(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	activate := func(target string) *Stream {
		req := NewRequest("GET", target)
		req.Headers.Add("Host", "example.com")
		s, err := conn.MakeRequest(req, StreamCallbacks{
			OnComplete: func(resp *Response, err error) {
				mu.Lock()
				order = append(order, target+":"+strconv.Itoa(resp.Status))
				mu.Unlock()
				done <- struct{}{}
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.Activate())
		return s
	}

	activate("/a")
	activate("/b")

	want := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: example.com\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == want })

	conn.DeliverInbound([]byte(
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n" +
			"HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for pipelined responses")
		}
	}
	assert.Equal(t, []string{"/a:200", "/b:201"}, order)
}

// TestConnectionChunkedRequestAndResponseBody drives a chunked request
// body (with a trailer) out and a chunked response body back in over a
// single live Connection.
func TestConnectionChunkedRequestAndResponseBody(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	req := NewRequest("POST", "/upload")
	req.Headers.Add("Host", "example.com")
	req.Headers.Add("Transfer-Encoding", "chunked")
	req.Mode = TransferChunked

	var gotBody []byte
	var gotTrailer []HeaderField
	done := make(chan struct{})
	s, err := conn.MakeRequest(req, StreamCallbacks{
		OnBody: func(p []byte) (bool, error) {
			gotBody = append(gotBody, p...)
			return false, nil
		},
		OnTrailer: func(name, value string) {
			gotTrailer = append(gotTrailer, HeaderField{Name: name, Value: value})
		},
		OnComplete: func(resp *Response, err error) { close(done) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Activate())

	s.SetTrailer("X-Checksum", "abc")
	s.Chunks().Enqueue(NewDataChunk([]byte("hello")))
	s.Chunks().Enqueue(NewTerminationChunk())

	want := "POST /upload HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\nX-Checksum: abc\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == want })

	conn.DeliverInbound([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"2\r\nok\r\n0\r\nX-Reply: done\r\n\r\n"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunked response")
	}
	assert.Equal(t, "ok", string(gotBody))
	assert.Equal(t, []HeaderField{{Name: "X-Reply", Value: "done"}}, gotTrailer)
}

// TestConnectionExpect100ContinueReleasesBody checks that a body
// withheld pending Expect: 100-continue is sent only once the peer's
// 100 Continue arrives, and that it is reported via OnInfo.
func TestConnectionExpect100ContinueReleasesBody(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	req := NewRequest("POST", "/upload")
	req.Headers.Add("Host", "example.com")
	req.Headers.Add("Expect", "100-continue")
	req.Mode = TransferContentLength
	req.ContentLength = 5
	req.Body = NewBytesBody([]byte("hello"))

	var info *InfoResponse
	done := make(chan struct{})
	s, err := conn.MakeRequest(req, StreamCallbacks{
		OnInfo:     func(i *InfoResponse) { info = i },
		OnComplete: func(resp *Response, err error) { close(done) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Activate())

	head := "POST /upload HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == head })

	conn.DeliverInbound([]byte("HTTP/1.1 100 Continue\r\n\r\n"))

	waitFor(t, time.Second, func() bool { return strings.HasSuffix(adapter.writtenSoFar(), "hello") })
	require.NotNil(t, info)
	assert.Equal(t, 100, info.Status)

	conn.DeliverInbound([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnComplete")
	}
}

// TestConnectionOutgoingLengthIncorrectFailsStream checks that a body
// source shorter than its declared Content-Length fails the stream
// with ErrCodeOutgoingLengthIncorrect and takes the connection down,
// since the encoder has no way to resynchronise mid-body.
func TestConnectionOutgoingLengthIncorrectFailsStream(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})

	req := NewRequest("POST", "/short")
	req.Headers.Add("Host", "example.com")
	req.Mode = TransferContentLength
	req.ContentLength = 10
	req.Body = NewBytesBody([]byte("abc"))

	done := make(chan struct{})
	s, err := conn.MakeRequest(req, StreamCallbacks{
		OnComplete: func(resp *Response, err error) { close(done) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Activate())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream to fail")
	}

	_, code, gotErr, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, ErrCodeOutgoingLengthIncorrect, code)
	assert.Error(t, gotErr)

	<-conn.Done()
	assert.False(t, conn.IsOpen())
}

// TestConnectionUpgradeHandsOffToDownstream checks that a 101 response
// installs the request's UpgradeHandler on the adapter, forwards any
// bytes already buffered past the 101's blank line straight to it, and
// that the connection refuses further requests once switched.
func TestConnectionUpgradeHandsOffToDownstream(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	handler := &fakeDownstream{}
	req := NewRequest("GET", "/ws")
	req.Headers.Add("Host", "example.com")
	req.Headers.Add("Connection", "Upgrade")
	req.Headers.Add("Upgrade", "websocket")
	req.UpgradeHandler = handler

	upgradeDone := make(chan struct{})
	s, err := conn.MakeRequest(req, StreamCallbacks{
		OnComplete: func(resp *Response, err error) { close(upgradeDone) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Activate())

	want := "GET /ws HTTP/1.1\r\nHost: example.com\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == want })

	conn.DeliverInbound([]byte("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\ntunnel-bytes"))

	select {
	case <-upgradeDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upgrade response to complete")
	}

	assert.True(t, conn.SwitchedProtocols())
	waitFor(t, time.Second, func() bool { return conn.DownstreamInstalled() })
	waitFor(t, time.Second, func() bool { return handler.deliveredSoFar() == "tunnel-bytes" })
	assert.Same(t, handler, adapter.installedDownstream())

	assert.False(t, conn.NewRequestsAllowed())
	trailing := NewRequest("GET", "/after")
	trailing.Headers.Add("Host", "example.com")
	_, err = conn.MakeRequest(trailing, StreamCallbacks{})
	assert.ErrorIs(t, err, ErrSwitchedProtocols)
}

// TestConnectionBindNextWriterSkipsStreamsQueuedAfterClose pins a
// chunked stream mid-body (parked, awaiting its next chunk) so the
// writer cannot advance past it, activates a Connection: close stream
// and a further stream behind it while everything is still queued, and
// checks that only the close-triggering stream reaches the wire - the
// one behind it is completed with ErrConnectionClosed without ever
// being written.
func TestConnectionBindNextWriterSkipsStreamsQueuedAfterClose(t *testing.T) {
	adapter := &fakeAdapter{}
	conn := NewConnection(adapter, Options{})
	defer conn.Close(ErrCodeSuccess)

	blocker := NewRequest("POST", "/blocker")
	blocker.Headers.Add("Host", "example.com")
	blocker.Headers.Add("Transfer-Encoding", "chunked")
	blocker.Mode = TransferChunked
	bs, err := conn.MakeRequest(blocker, StreamCallbacks{})
	require.NoError(t, err)
	require.NoError(t, bs.Activate())

	blockerHead := "POST /blocker HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == blockerHead })

	// Both streams below are created (MakeRequest) while the connection
	// is still fully open, so neither call can itself be rejected by
	// NewRequestsAllowed() - only their queue position, set by the
	// activation order below, determines whether each reaches the wire.
	closing := NewRequest("GET", "/close")
	closing.Headers.Add("Host", "example.com")
	closing.Headers.Add("Connection", "close")
	cs, err := conn.MakeRequest(closing, StreamCallbacks{})
	require.NoError(t, err)

	trailingDone := make(chan struct{})
	var trailingErr error
	trailing := NewRequest("GET", "/after")
	trailing.Headers.Add("Host", "example.com")
	ts, err := conn.MakeRequest(trailing, StreamCallbacks{
		OnComplete: func(resp *Response, err error) {
			trailingErr = err
			close(trailingDone)
		},
	})
	require.NoError(t, err)

	// Activated back-to-back, in order, so both land on the connection's
	// queue behind the blocker and in front of each other - closing
	// first, trailing second - regardless of how the I/O goroutine
	// happens to be scheduled.
	require.NoError(t, cs.Activate())
	require.NoError(t, ts.Activate())

	waitFor(t, time.Second, func() bool { return !conn.NewRequestsAllowed() })

	// Nothing beyond the blocker's head can have reached the wire yet:
	// the blocker is parked awaiting its next chunk, and the writer
	// only ever advances strictly in queue order.
	assert.Equal(t, blockerHead, adapter.writtenSoFar())

	bs.Chunks().Enqueue(NewTerminationChunk())

	select {
	case <-trailingDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trailing stream to be rejected")
	}
	assert.ErrorIs(t, trailingErr, ErrConnectionClosed)

	want := blockerHead + "0\r\n\r\n" +
		"GET /close HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	waitFor(t, time.Second, func() bool { return adapter.writtenSoFar() == want })

	_, _, _, ok := ts.Result()
	require.True(t, ok)
}
