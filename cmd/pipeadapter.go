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

package cmd

import (
	"io"
	"net"
	"sync"

	"github.com/packetd/h1conn"
	"github.com/packetd/h1conn/internal/zerocopy"
	"github.com/packetd/h1conn/logger"
)

// connAdapter satisfies h1conn.BoundaryAdapter over a real net.Conn. It
// is the minimum viable byte pipeline: AcquireOutbound hands the
// encoder a plain heap buffer sized by sizeHint, Commit writes it
// straight to the socket, and a single background goroutine pumps
// inbound bytes into the Connection until the peer closes or Shutdown
// fires.
type connAdapter struct {
	conn net.Conn

	mu       sync.Mutex
	downstream h1conn.DownstreamHandler
}

func newConnAdapter(c net.Conn) *connAdapter {
	return &connAdapter{conn: c}
}

// AcquireOutbound implements h1conn.BoundaryAdapter.
func (a *connAdapter) AcquireOutbound(sizeHint int) zerocopy.Buffer {
	if sizeHint <= 0 {
		sizeHint = 4096
	}
	return zerocopy.NewBuffer(make([]byte, sizeHint))
}

// Commit implements h1conn.BoundaryAdapter.
func (a *connAdapter) Commit(buf zerocopy.Buffer) {
	defer buf.Close()
	for {
		p, err := buf.Read(4096)
		if len(p) > 0 {
			if _, werr := a.conn.Write(p); werr != nil {
				logger.Warnf("h1conn: demo adapter write error: %v", werr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// IncrementReadWindow implements h1conn.BoundaryAdapter. The demo
// adapter has no flow control of its own - the socket's kernel buffer
// already bounds how far ahead the peer can get - so this is a no-op.
func (a *connAdapter) IncrementReadWindow(n int) {}

// Shutdown implements h1conn.BoundaryAdapter.
func (a *connAdapter) Shutdown(dir h1conn.Direction, code int) {
	switch dir {
	case h1conn.DirectionRead:
		if cw, ok := a.conn.(interface{ CloseRead() error }); ok {
			cw.CloseRead()
			return
		}
	case h1conn.DirectionWrite:
		if cw, ok := a.conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
			return
		}
	}
	a.conn.Close()
}

// InstallDownstream implements h1conn.BoundaryAdapter.
func (a *connAdapter) InstallDownstream(h h1conn.DownstreamHandler, initialWindow int) {
	a.mu.Lock()
	a.downstream = h
	a.mu.Unlock()
}

// run pumps inbound bytes from the socket into c until the peer closes
// the connection or the socket errors. It blocks until the read loop
// exits and should be run in its own goroutine.
func (a *connAdapter) run(c *h1conn.Connection) {
	buf := make([]byte, 4096)
	for {
		n, err := a.conn.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])

			a.mu.Lock()
			downstream := a.downstream
			a.mu.Unlock()

			if downstream != nil {
				downstream.DeliverInbound(p)
			} else {
				c.DeliverInbound(p)
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrClosedPipe {
				c.ReportTransportError(err)
			}
			c.PeerClosed()
			return
		}
	}
}
