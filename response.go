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

import "github.com/packetd/h1conn/internal/bufbytes"

// InfoResponse is a captured 1xx (excluding 101) response: a complete
// header block that precedes the stream's final Response.
type InfoResponse struct {
	Status  int
	Reason  string
	Headers *Headers
}

// Response is the response built incrementally by the decoder as it
// parses a stream's reply.
type Response struct {
	Status  int
	Reason  string
	Headers *Headers
	Info    []InfoResponse

	// Trailer holds chunked-body trailer fields, populated only once
	// the body has fully drained.
	Trailer *Headers

	// body accumulates body bytes only when the stream's OnBody
	// callback opts in by returning captureBody = true, up to the
	// connection's MaxCapturedBody limit; otherwise it stays empty and
	// bytes are only ever handed to the callback.
	body *bufbytes.Bytes
}

func newResponse(maxCapturedBody int) *Response {
	return &Response{
		Headers: NewHeaders(),
		Trailer: NewHeaders(),
		body:    bufbytes.New(maxCapturedBody),
	}
}

// Body returns the bytes captured so far, up to MaxCapturedBody. It
// is a copy; callers may retain and mutate it freely.
func (r *Response) Body() []byte {
	return r.body.Clone()
}

// IsInformational reports whether status is a 1xx code.
func IsInformational(status int) bool {
	return status >= 100 && status < 200
}

// chunked reports whether Transfer-Encoding's last token is "chunked".
func (r *Response) chunked() bool {
	tok, ok := r.Headers.lastToken("Transfer-Encoding")
	return ok && tok == "chunked"
}

// contentLength returns the declared Content-Length and whether it was
// present and well-formed.
func (r *Response) contentLength() (int64, bool) {
	v, ok := r.Headers.Get("Content-Length")
	if !ok {
		return 0, false
	}
	n, ok := parseDecimalUint(v)
	if !ok {
		return 0, false
	}
	return int64(n), true
}

func parseDecimalUint(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
