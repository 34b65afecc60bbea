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

// Package zerocopy defines the small buffer contract a boundary
// adapter hands to the encoder/decoder: buffers acquired from the
// adapter are written or read in place, never copied.
package zerocopy

import (
	"io"
)

// Reader reads n bytes from a buffer without copying them.
type Reader interface {
	Read(n int) ([]byte, error)
}

// Writer replaces a buffer's backing bytes without copying them. Write
// never fails: the caller owns p for as long as the buffer is live.
type Writer interface {
	Write(p []byte)
}

// Closer marks a Reader as exhausted (further Read calls return
// io.EOF).
type Closer interface {
	Close()
}

// Buffer is an outbound or inbound byte segment as handed across the
// boundary adapter: the encoder writes request bytes into one before
// committing it downstream, and the decoder reads response bytes out
// of one delivered by the adapter.
type Buffer interface {
	Writer
	Reader
	Closer
}

type buffer struct {
	r int
	b []byte
}

// NewBuffer wraps p as a Buffer without copying it. Callers must not
// mutate p afterwards - ownership passes to the Buffer until Close.
func NewBuffer(p []byte) Buffer {
	return &buffer{
		b: p,
	}
}

// Read implements Reader.
func (buf *buffer) Read(n int) ([]byte, error) {
	if buf.r == len(buf.b) {
		return nil, io.EOF
	}

	if buf.r+n >= len(buf.b) {
		b := buf.b[buf.r:len(buf.b)]
		buf.r = len(buf.b)
		return b, nil
	}

	b := buf.b[buf.r : buf.r+n]
	buf.r += n
	return b, nil
}

// Write implements Writer.
func (buf *buffer) Write(p []byte) {
	buf.b = p
	buf.r = 0
}

// Close implements Closer.
func (buf *buffer) Close() {
	buf.r = len(buf.b)
}
