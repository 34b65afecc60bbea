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
	"bytes"
	"strconv"
	"strings"

	"github.com/packetd/h1conn/internal/hexsize"
	"github.com/packetd/h1conn/internal/splitio"
)

type decState uint8

const (
	decStatusLine decState = iota
	decHeaders
	decBodyContentLength
	decBodyCloseDelimited
	decChunkSize
	decChunkExt
	decChunkSizeCRLF
	decChunkData
	decChunkDataCR
	decChunkDataLF
	decTrailer
	decDone
)

var httpVersionPrefix = []byte("HTTP/1.1 ")

// decoder incrementally parses one response at a time off the wire,
// tolerating arbitrary fragmentation: feed may be called with as
// little as one byte and must make correct progress regardless of
// where the boundary adapter happened to split the stream.
type decoder struct {
	stream *Stream
	state  decState

	line []byte // accumulator for the line-oriented states

	status int
	reason string

	finalHeaders  bool // current head block belongs to the final response
	headerBlocked bool // OnHeaderBlockDone already fired for the final response

	allowCloseDelimited bool
	maxCapturedBody     int

	infos []InfoResponse // 1xx responses collected ahead of the final one

	expected  int64 // remaining Content-Length bytes
	hex       hexsize.Parser
	chunkSize int64
	chunkLeft int64
	crlfLeft  int
	chunkExt  []byte // accumulator for the current chunk-size line's raw extension bytes

	resp *Response
}

// decodeResult reports what feed accomplished with the bytes it was
// given.
type decodeResult struct {
	consumed int

	// bodyConsumed is the portion of consumed that was body data rather
	// than header/framing bytes - the connection charges only the
	// difference against the read-window, per the flow-control
	// invariant that body bytes the caller accepts never cost window
	// credit.
	bodyConsumed int

	complete bool // the bound stream's response finished; caller should move to the next stream
	upgrade  bool // response was 101 Switching Protocols; remaining bytes are raw pass-through
	err      error
}

// bind attaches the decoder to the stream whose response is next on
// the wire. allowCloseDelimited controls how a response with neither
// Content-Length nor chunked Transfer-Encoding is treated: such a body
// is only legal once the connection is already shutting down, since
// otherwise there is no way to tell where it ends short of actually
// closing. maxCapturedBody bounds how many bytes of body a stream
// opting into capture (via OnBody returning captureBody = true) will
// actually retain on Response.Body.
func (d *decoder) bind(s *Stream, allowCloseDelimited bool, maxCapturedBody int) {
	*d = decoder{
		stream:              s,
		state:                decStatusLine,
		allowCloseDelimited: allowCloseDelimited,
		maxCapturedBody:     maxCapturedBody,
		resp:                newResponse(maxCapturedBody),
	}
}

func (d *decoder) finished() bool {
	return d.stream == nil || d.state == decDone
}

// feed consumes a prefix of data, driving the stream's callbacks as it
// goes, and reports how much it used.
func (d *decoder) feed(data []byte) decodeResult {
	total := 0
	bodyTotal := 0
	for total < len(data) {
		n, res := d.step(data[total:])
		total += n
		bodyTotal += res.bodyConsumed
		res.consumed = total
		res.bodyConsumed = bodyTotal
		if res.complete || res.upgrade || res.err != nil {
			return res
		}
		if n == 0 {
			break
		}
	}
	return decodeResult{consumed: total, bodyConsumed: bodyTotal}
}

// step performs one unit of progress and reports how many bytes of
// data it consumed doing so.
func (d *decoder) step(data []byte) (int, decodeResult) {
	switch d.state {
	case decStatusLine, decHeaders, decTrailer:
		return d.stepLine(data)
	case decBodyContentLength:
		return d.stepContentLengthBody(data)
	case decBodyCloseDelimited:
		return d.stepCloseDelimitedBody(data)
	case decChunkSize:
		return d.stepChunkSize(data)
	case decChunkExt:
		return d.stepChunkExt(data)
	case decChunkSizeCRLF:
		return d.stepExpect(data, '\n', d.afterChunkSizeCRLF)
	case decChunkData:
		return d.stepChunkData(data)
	case decChunkDataCR:
		return d.stepExpect(data, '\r', func() decodeResult {
			d.state = decChunkDataLF
			return decodeResult{}
		})
	case decChunkDataLF:
		return d.stepExpect(data, '\n', func() decodeResult {
			d.state = decChunkSize
			d.hex.Reset()
			return decodeResult{}
		})
	default:
		return 0, decodeResult{}
	}
}

// stepExpect consumes a single expected byte (the CR or LF of a CRLF
// that closes a chunk-size line or a chunk's data).
func (d *decoder) stepExpect(data []byte, want byte, then func() decodeResult) (int, decodeResult) {
	if data[0] != want {
		return 1, decodeResult{err: newCodedError(ErrCodeProtocolError, newError("expected %q, got %q", want, data[0]))}
	}
	return 1, then()
}

// stepLine accumulates bytes until a full CRLF-terminated line is
// available, then dispatches it. It uses splitio.Scanner to find the
// line boundary within whatever fragment of data is available; a
// fragment with no terminator yet is buffered onto d.line and
// revisited the next time more bytes arrive.
func (d *decoder) stepLine(data []byte) (int, decodeResult) {
	sc := splitio.NewScanner(data)
	if !sc.Scan() {
		return 0, decodeResult{}
	}
	chunk := sc.Bytes()
	if len(chunk) == 0 || chunk[len(chunk)-1] != '\n' {
		d.line = append(d.line, chunk...)
		return len(chunk), decodeResult{}
	}
	d.line = append(d.line, chunk...)
	consumed := len(chunk)

	if len(d.line) < 2 || d.line[len(d.line)-2] != '\r' {
		d.line = d.line[:0]
		return consumed, decodeResult{err: newCodedError(ErrCodeProtocolError, newError("line not terminated by CRLF"))}
	}
	line := bytes.TrimRight(d.line, "\r\n")
	d.line = d.line[:0]

	var res decodeResult
	switch d.state {
	case decStatusLine:
		res = d.onStatusLine(line)
	case decHeaders:
		res = d.onHeaderLine(line)
	case decTrailer:
		res = d.onTrailerLine(line)
	}
	return consumed, res
}

func (d *decoder) onStatusLine(line []byte) decodeResult {
	if !bytes.HasPrefix(line, httpVersionPrefix) {
		return decodeResult{err: newCodedError(ErrCodeProtocolError, newError("malformed status line %q", line))}
	}
	rest := line[len(httpVersionPrefix):]
	sp := bytes.IndexByte(rest, ' ')
	var codeStr string
	if sp < 0 {
		codeStr = string(rest)
		d.reason = ""
	} else {
		codeStr = string(rest[:sp])
		d.reason = string(rest[sp+1:])
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return decodeResult{err: newCodedError(ErrCodeProtocolError, newError("malformed status code %q", codeStr))}
	}
	d.status = code
	d.finalHeaders = !(IsInformational(code) && code != 101)
	d.resp = newResponse(d.maxCapturedBody)
	d.resp.Status = code
	d.resp.Reason = d.reason
	if d.finalHeaders {
		d.resp.Info = d.infos
	}
	d.state = decHeaders
	return decodeResult{}
}

func (d *decoder) onHeaderLine(line []byte) decodeResult {
	if len(line) == 0 {
		return d.onHeaderBlockDone()
	}
	name, value, ok := splitHeaderLine(line)
	if !ok {
		return decodeResult{err: newCodedError(ErrCodeProtocolError, newError("malformed header line %q", line))}
	}
	d.resp.Headers.Add(name, value)
	if d.finalHeaders && d.stream.callbacks.OnHeader != nil {
		d.stream.callbacks.OnHeader(name, value)
	}
	return decodeResult{}
}

func splitHeaderLine(line []byte) (name, value string, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = string(bytes.TrimSpace(line[:idx]))
	value = string(bytes.TrimSpace(line[idx+1:]))
	return name, value, true
}

func (d *decoder) onHeaderBlockDone() decodeResult {
	if !d.finalHeaders {
		// A 1xx (excluding 101) informational response: record it and
		// go around again for the real status line. A 100 releases a
		// request body the encoder may be holding back pending it.
		info := InfoResponse{Status: d.status, Reason: d.reason, Headers: d.resp.Headers}
		d.infos = append(d.infos, info)
		if d.status == 100 {
			d.stream.signalContinue()
		}
		if d.stream.callbacks.OnInfo != nil {
			d.stream.callbacks.OnInfo(&info)
		}
		d.state = decStatusLine
		return decodeResult{}
	}

	// The final response arriving also releases a pending 100-continue
	// body wait, so the encoder goes on to send the body rather than
	// staying parked.
	d.stream.signalContinue()

	if d.status == 101 {
		return decodeResult{upgrade: true}
	}

	if d.stream.callbacks.OnStatus != nil {
		d.stream.callbacks.OnStatus(d.status, d.reason)
	}
	if d.stream.callbacks.OnHeaderBlockDone != nil {
		if err := d.stream.callbacks.OnHeaderBlockDone(); err != nil {
			return decodeResult{err: newCodedError(ErrCodeCallbackError, err)}
		}
	}

	if !hasResponseBody(d.status, d.stream.request.Method) {
		d.state = decDone
		return decodeResult{complete: true}
	}

	if d.resp.chunked() {
		d.state = decChunkSize
		return decodeResult{}
	}
	if n, ok := d.resp.contentLength(); ok {
		d.expected = n
		if n == 0 {
			d.state = decDone
			return decodeResult{complete: true}
		}
		d.state = decBodyContentLength
		return decodeResult{}
	}
	if d.allowCloseDelimited {
		d.state = decBodyCloseDelimited
		return decodeResult{}
	}
	return decodeResult{err: newCodedError(ErrCodeProtocolError,
		newError("response has neither Content-Length nor Transfer-Encoding, and connection is not closing"))}
}

func (d *decoder) onTrailerLine(line []byte) decodeResult {
	if len(line) == 0 {
		d.state = decDone
		return decodeResult{complete: true}
	}
	name, value, ok := splitHeaderLine(line)
	if !ok {
		return decodeResult{err: newCodedError(ErrCodeProtocolError, newError("malformed trailer line %q", line))}
	}
	d.resp.Trailer.Add(name, value)
	if d.stream.callbacks.OnTrailer != nil {
		d.stream.callbacks.OnTrailer(name, value)
	}
	return decodeResult{}
}

func (d *decoder) deliverBody(p []byte) error {
	if len(p) == 0 || d.stream.callbacks.OnBody == nil {
		return nil
	}
	capture, err := d.stream.callbacks.OnBody(p)
	if err != nil {
		return err
	}
	if capture {
		d.resp.body.Write(p)
	}
	return nil
}

func (d *decoder) stepContentLengthBody(data []byte) (int, decodeResult) {
	n := len(data)
	if int64(n) > d.expected {
		n = int(d.expected)
	}
	if err := d.deliverBody(data[:n]); err != nil {
		return n, decodeResult{err: newCodedError(ErrCodeCallbackError, err)}
	}
	d.expected -= int64(n)
	if d.expected == 0 {
		d.state = decDone
		return n, decodeResult{complete: true, bodyConsumed: n}
	}
	return n, decodeResult{bodyConsumed: n}
}

// stepCloseDelimitedBody forwards every byte it's given as body; the
// exchange only completes when the connection signals end-of-stream
// via endOfStream, since there is no length to count down.
func (d *decoder) stepCloseDelimitedBody(data []byte) (int, decodeResult) {
	if err := d.deliverBody(data); err != nil {
		return len(data), decodeResult{err: newCodedError(ErrCodeCallbackError, err)}
	}
	return len(data), decodeResult{bodyConsumed: len(data)}
}

// endOfStream is called by the connection when the peer has shut down
// its write half while a close-delimited body was in progress.
func (d *decoder) endOfStream() decodeResult {
	if d.state != decBodyCloseDelimited {
		return decodeResult{err: newCodedError(ErrCodeProtocolError, newError("connection closed mid-response"))}
	}
	d.state = decDone
	return decodeResult{complete: true}
}

func (d *decoder) stepChunkSize(data []byte) (int, decodeResult) {
	b := data[0]
	if hexsize.IsHexDigit(b) {
		if err := d.hex.Feed(b); err != nil {
			return 1, decodeResult{err: newCodedError(ErrCodeProtocolError, err)}
		}
		return 1, decodeResult{}
	}
	n, ok := d.hex.Value()
	if !ok {
		return 1, decodeResult{err: newCodedError(ErrCodeProtocolError, newError("empty chunk size"))}
	}
	d.chunkSize = int64(n)
	d.chunkLeft = d.chunkSize

	switch b {
	case ';':
		d.state = decChunkExt
		return 1, decodeResult{}
	case '\r':
		d.state = decChunkSizeCRLF
		return 1, decodeResult{}
	default:
		return 1, decodeResult{err: newCodedError(ErrCodeProtocolError, newError("malformed chunk size line"))}
	}
}

// stepChunkExt accumulates chunk-extension bytes (the raw text between
// the chunk size and the line's CRLF, leading ';' stripped) and hands
// them to the stream's OnChunkExtension callback once the line ends -
// the core parses extensions only enough to find where they end, and
// delivers them to the caller unparsed.
func (d *decoder) stepChunkExt(data []byte) (int, decodeResult) {
	idx := bytes.IndexByte(data, '\r')
	if idx < 0 {
		d.chunkExt = append(d.chunkExt, data...)
		return len(data), decodeResult{}
	}
	d.chunkExt = append(d.chunkExt, data[:idx]...)
	if len(d.chunkExt) > 0 && d.stream.callbacks.OnChunkExtension != nil {
		d.stream.callbacks.OnChunkExtension(d.chunkExt)
	}
	d.chunkExt = nil
	d.state = decChunkSizeCRLF
	return idx + 1, decodeResult{}
}

func (d *decoder) afterChunkSizeCRLF() decodeResult {
	if d.chunkSize == 0 {
		d.state = decTrailer
		return decodeResult{}
	}
	d.state = decChunkData
	return decodeResult{}
}

func (d *decoder) stepChunkData(data []byte) (int, decodeResult) {
	n := len(data)
	if int64(n) > d.chunkLeft {
		n = int(d.chunkLeft)
	}
	if err := d.deliverBody(data[:n]); err != nil {
		return n, decodeResult{err: newCodedError(ErrCodeCallbackError, err)}
	}
	d.chunkLeft -= int64(n)
	if d.chunkLeft == 0 {
		d.state = decChunkDataCR
	}
	return n, decodeResult{bodyConsumed: n}
}

// hasResponseBody reports whether a response of this status/method
// carries a body per RFC 7230 §3.3.3: HEAD, 1xx, 204 and 304 never do.
func hasResponseBody(status int, method string) bool {
	if strings.EqualFold(method, "HEAD") {
		return false
	}
	if IsInformational(status) || status == 204 || status == 304 {
		return false
	}
	return true
}
