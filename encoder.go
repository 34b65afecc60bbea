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
	"fmt"
	"strings"
)

type encPhase uint8

const (
	encHead encPhase = iota
	encBody
	encDone
)

type chunkPhase uint8

const (
	chunkAwaiting chunkPhase = iota
	chunkHeader
	chunkData
	chunkTrailerCRLF
)

// encoder serialises one Request at a time into wire bytes, fed in
// caller-chosen slice sizes so it never needs a bigger buffer than the
// boundary adapter is willing to hand it. At most one stream is bound
// at a time - see Connection, which advances strictly in activation
// order.
type encoder struct {
	stream *Stream
	phase  encPhase

	head    []byte
	headOff int

	// awaitingContinue holds back body emission for an
	// Expect: 100-continue request until the stream's continue gate
	// opens.
	awaitingContinue bool

	// Content-Length body state.
	clWritten int64
	clProbed  bool

	// Chunked body state.
	chunkPhase  chunkPhase
	curChunk    *Chunk
	chunkRead   int
	hdr         []byte
	hdrOff      int
	trailerLeft int
}

// bind attaches the encoder to the next stream to write, building its
// request head up front (small and immutable, so there is no benefit
// to streaming its construction - only its emission is chunked across
// buffers).
func (e *encoder) bind(s *Stream) {
	*e = encoder{
		stream: s,
		phase:  encHead,
		head:   buildHead(s.request),
	}
}

func buildHead(r *Request) []byte {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.Target)
	b.WriteString(" HTTP/1.1\r\n")
	for _, f := range r.Headers.Fields() {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// finished reports whether the encoder has emitted every byte of its
// bound stream's request.
func (e *encoder) finished() bool {
	return e.stream == nil || e.phase == encDone
}

// parked reports whether the encoder is alive but has nothing to emit
// right now, either because a chunked body is awaiting its next chunk
// or because an Expect: 100-continue body is awaiting its gate.
func (e *encoder) parked() bool {
	return e.wake() != nil
}

// wake returns the channel to watch while parked, or nil if the
// encoder isn't parked.
func (e *encoder) wake() <-chan struct{} {
	if e.finished() || e.phase != encBody {
		return nil
	}
	if e.awaitingContinue {
		return e.stream.continueWait()
	}
	if e.stream.request.Mode == TransferChunked && e.chunkPhase == chunkAwaiting {
		return e.stream.chunks.Wait()
	}
	return nil
}

// advance writes up to maxLen bytes of the bound stream into the
// returned slice. An empty, nil-error result means either the stream
// is finished (finished() == true) or parked awaiting chunk data
// (parked() == true).
func (e *encoder) advance(maxLen int) ([]byte, error) {
	if e.finished() || maxLen <= 0 {
		return nil, nil
	}

	switch e.phase {
	case encHead:
		return e.advanceHead(maxLen), nil
	case encBody:
		if e.awaitingContinue {
			select {
			case <-e.stream.continueWait():
				e.awaitingContinue = false
			default:
				return nil, nil // parked; caller watches wake()
			}
		}
		switch e.stream.request.Mode {
		case TransferContentLength:
			return e.advanceContentLengthBody(maxLen)
		case TransferChunked:
			return e.advanceChunkedBody(maxLen)
		default:
			e.phase = encDone
			return nil, nil
		}
	default:
		return nil, nil
	}
}

func (e *encoder) advanceHead(maxLen int) []byte {
	remain := e.head[e.headOff:]
	n := min(len(remain), maxLen)
	out := remain[:n]
	e.headOff += n

	if e.headOff == len(e.head) {
		switch e.stream.request.Mode {
		case TransferContentLength, TransferChunked:
			e.phase = encBody
			if e.stream.continueWait() != nil {
				e.awaitingContinue = true
			}
		default:
			e.phase = encDone
		}
	}
	return out
}

func (e *encoder) advanceContentLengthBody(maxLen int) ([]byte, error) {
	r := e.stream.request
	remaining := r.ContentLength - e.clWritten
	if remaining <= 0 {
		if !e.clProbed {
			e.clProbed = true
			var probe [1]byte
			n, _ := r.Body.ReadInto(probe[:])
			if n > 0 {
				return nil, newCodedError(ErrCodeOutgoingLengthIncorrect,
					newError("request body for %s %s exceeds declared Content-Length %d", r.Method, r.Target, r.ContentLength))
			}
		}
		e.phase = encDone
		return nil, nil
	}

	want := maxLen
	if int64(want) > remaining {
		want = int(remaining)
	}
	buf := make([]byte, want)
	n, _ := r.Body.ReadInto(buf)
	if n == 0 {
		if r.Body.Done() {
			return nil, newCodedError(ErrCodeOutgoingLengthIncorrect,
				newError("request body for %s %s ended after %d bytes, declared Content-Length %d", r.Method, r.Target, e.clWritten, r.ContentLength))
		}
		return nil, nil
	}
	e.clWritten += int64(n)
	return buf[:n], nil
}

func (e *encoder) advanceChunkedBody(maxLen int) ([]byte, error) {
	for {
		switch e.chunkPhase {
		case chunkAwaiting:
			c, ok := e.stream.chunks.dequeue()
			if !ok {
				return nil, nil // parked; caller watches wake()
			}
			e.curChunk = c
			e.chunkRead = 0
			if c.isTermination() {
				e.hdr = buildTerminationHeader(c, e.stream.trailerFields())
			} else {
				e.hdr = buildChunkHeader(c)
			}
			e.hdrOff = 0
			e.chunkPhase = chunkHeader

		case chunkHeader:
			remain := e.hdr[e.hdrOff:]
			n := min(len(remain), maxLen)
			e.hdrOff += n
			out := remain[:n]
			if e.hdrOff == len(e.hdr) {
				if e.curChunk.isTermination() {
					e.curChunk.complete(nil)
					e.phase = encDone
					e.chunkPhase = chunkAwaiting
					e.curChunk = nil
				} else {
					e.chunkPhase = chunkData
				}
			}
			if len(out) > 0 {
				return out, nil
			}
			continue

		case chunkData:
			remaining := e.curChunk.DeclaredSize - e.chunkRead
			if remaining <= 0 {
				if !e.curChunk.Source.Done() {
					var probe [1]byte
					n, _ := e.curChunk.Source.ReadInto(probe[:])
					if n > 0 {
						err := newCodedError(ErrCodeOutgoingLengthIncorrect,
							newError("chunk exceeds declared size %d", e.curChunk.DeclaredSize))
						e.curChunk.complete(err)
						return nil, err
					}
				}
				e.chunkPhase = chunkTrailerCRLF
				e.trailerLeft = 2
				continue
			}
			want := maxLen
			if want > remaining {
				want = remaining
			}
			buf := make([]byte, want)
			n, _ := e.curChunk.Source.ReadInto(buf)
			if n == 0 {
				if e.curChunk.Source.Done() {
					err := newCodedError(ErrCodeOutgoingLengthIncorrect,
						newError("chunk ended after %d bytes, declared size %d", e.chunkRead, e.curChunk.DeclaredSize))
					e.curChunk.complete(err)
					return nil, err
				}
				return nil, nil
			}
			e.chunkRead += n
			return buf[:n], nil

		case chunkTrailerCRLF:
			crlf := []byte("\r\n")
			off := 2 - e.trailerLeft
			remain := crlf[off:]
			n := min(len(remain), maxLen)
			e.trailerLeft -= n
			out := remain[:n]
			if e.trailerLeft == 0 {
				e.curChunk.complete(nil)
				e.curChunk = nil
				e.chunkPhase = chunkAwaiting
			}
			if len(out) > 0 {
				return out, nil
			}
			continue
		}
	}
}

// buildTerminationHeader builds the last-chunk line of a chunked body
// together with its trailer-part and the final CRLF that ends the
// message, per RFC 7230 4.1: last-chunk CRLF trailer-part CRLF.
func buildTerminationHeader(c *Chunk, trailer []HeaderField) []byte {
	var b strings.Builder
	b.Write(buildChunkHeader(c))
	for _, f := range trailer {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func buildChunkHeader(c *Chunk) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%x", c.DeclaredSize)
	for _, ext := range c.Extensions {
		b.WriteByte(';')
		b.WriteString(ext.Key)
		if ext.Value != "" {
			b.WriteByte('=')
			b.WriteString(ext.Value)
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
