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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamActivateTwiceFails(t *testing.T) {
	activateCh := make(chan *Stream, 1)
	s := newStream("s-1", NewRequest("GET", "/"), StreamCallbacks{}, activateCh)

	assert.NoError(t, s.Activate())
	assert.Equal(t, ErrActivateTwice, s.Activate())
	assert.Same(t, s, <-activateCh)
}

func TestStreamCompleteFiresOnCompleteOnce(t *testing.T) {
	calls := 0
	s := newStream("s-1", NewRequest("GET", "/"), StreamCallbacks{
		OnComplete: func(resp *Response, err error) { calls++ },
	}, make(chan *Stream, 1))

	s.complete(nil, ErrCodeCancelled, ErrStreamCancelled)
	s.complete(nil, ErrCodeProtocolError, nil) // second call must be a no-op

	assert.Equal(t, 1, calls)
	resp, code, err, ok := s.Result()
	assert.True(t, ok)
	assert.Nil(t, resp)
	assert.Equal(t, ErrCodeCancelled, code)
	assert.Equal(t, ErrStreamCancelled, err)
}

func TestStreamCancelWithoutConnectionCompletesLocally(t *testing.T) {
	var gotErr error
	s := newStream("s-1", NewRequest("GET", "/"), StreamCallbacks{
		OnComplete: func(resp *Response, err error) { gotErr = err },
	}, make(chan *Stream, 1))

	s.Cancel()

	_, code, err, ok := s.Result()
	assert.True(t, ok)
	assert.Equal(t, ErrCodeCancelled, code)
	assert.Equal(t, ErrStreamCancelled, err)
	assert.Equal(t, ErrStreamCancelled, gotErr)
}

func TestStreamSetTrailerAccumulatesFields(t *testing.T) {
	s := newStream("s-1", NewRequest("POST", "/"), StreamCallbacks{}, make(chan *Stream, 1))

	assert.Nil(t, s.trailerFields())

	s.SetTrailer("X-A", "1")
	s.SetTrailer("X-B", "2")

	assert.Equal(t, []HeaderField{
		{Name: "X-A", Value: "1"},
		{Name: "X-B", Value: "2"},
	}, s.trailerFields())
}

func TestStreamChunksNilWithoutChunkedMode(t *testing.T) {
	s := newStream("s-1", NewRequest("GET", "/"), StreamCallbacks{}, make(chan *Stream, 1))
	assert.Nil(t, s.Chunks())
}
