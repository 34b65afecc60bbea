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

// ChunkExtension is one `;key=value` token on a chunk size line.
type ChunkExtension struct {
	Key   string
	Value string
}

// Chunk is one unit of a Transfer-Encoding: chunked request body. A
// Chunk whose DeclaredSize is zero is the termination chunk: it closes
// the chunked body (extensions are still permitted on it).
//
// Source is read until it reports Done(); the number of bytes actually
// read is compared against DeclaredSize, and any mismatch fails the
// stream with ErrCodeOutgoingLengthIncorrect.
type Chunk struct {
	Source       BodySource
	DeclaredSize int
	Extensions   []ChunkExtension
	OnComplete   func(err error)
}

// NewDataChunk builds a Chunk wrapping a fixed in-memory payload - the
// common case for callers that already have the whole chunk buffered.
func NewDataChunk(data []byte, ext ...ChunkExtension) *Chunk {
	return &Chunk{
		Source:       &bytesBodySource{b: data},
		DeclaredSize: len(data),
		Extensions:   ext,
	}
}

// NewTerminationChunk builds the zero-sized chunk that ends a chunked
// body. Trailer headers, if any, are supplied separately via
// Stream.SetTrailer before the termination chunk is enqueued.
func NewTerminationChunk(ext ...ChunkExtension) *Chunk {
	return &Chunk{
		Source:       &bytesBodySource{},
		DeclaredSize: 0,
		Extensions:   ext,
	}
}

func (c *Chunk) isTermination() bool {
	return c.DeclaredSize == 0
}

func (c *Chunk) complete(err error) {
	if c.OnComplete != nil {
		c.OnComplete(err)
	}
}

// bytesBodySource is the trivial BodySource backing NewDataChunk /
// NewTerminationChunk and no-body requests.
type bytesBodySource struct {
	b   []byte
	off int
}

func (s *bytesBodySource) ReadInto(p []byte) (int, error) {
	if s.off >= len(s.b) {
		return 0, nil
	}
	n := copy(p, s.b[s.off:])
	s.off += n
	return n, nil
}

func (s *bytesBodySource) Done() bool {
	return s.off >= len(s.b)
}

// NewBytesBody wraps a fixed byte slice as a BodySource, for use as a
// Request's Content-Length body.
func NewBytesBody(b []byte) BodySource {
	return &bytesBodySource{b: b}
}
