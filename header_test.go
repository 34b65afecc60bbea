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

func TestHeadersGetAndValues(t *testing.T) {
	h := NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("Content-Type", "text/plain")
	h.Add("set-cookie", "b=2")

	v, ok := h.Get("Set-Cookie")
	assert.True(t, ok)
	assert.Equal(t, "a=1", v)

	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("SET-COOKIE"))
	assert.True(t, h.Has("content-type"))
	assert.False(t, h.Has("x-missing"))
	assert.Equal(t, 3, h.Len())
}

func TestHeadersFieldsPreservesOrder(t *testing.T) {
	h := NewHeaders()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("A", "3")

	fields := h.Fields()
	assert.Equal(t, []HeaderField{
		{Name: "A", Value: "1"},
		{Name: "B", Value: "2"},
		{Name: "A", Value: "3"},
	}, fields)
}

func TestHeadersHasToken(t *testing.T) {
	tests := []struct {
		name  string
		value string
		token string
		want  bool
	}{
		{name: "ExactMatch", value: "close", token: "close", want: true},
		{name: "CaseInsensitive", value: "Close", token: "close", want: true},
		{name: "CommaList", value: "keep-alive, Upgrade", token: "upgrade", want: true},
		{name: "NoMatch", value: "keep-alive", token: "close", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeaders()
			h.Add("Connection", tt.value)
			assert.Equal(t, tt.want, h.hasToken("Connection", tt.token))
		})
	}
}

func TestHeadersLastToken(t *testing.T) {
	h := NewHeaders()
	h.Add("Transfer-Encoding", "gzip")
	h.Add("Transfer-Encoding", "gzip, chunked")

	tok, ok := h.lastToken("Transfer-Encoding")
	assert.True(t, ok)
	assert.Equal(t, "chunked", tok)

	_, ok = h.lastToken("Missing")
	assert.False(t, ok)
}

func TestRequestWantsHelpers(t *testing.T) {
	r := NewRequest("GET", "/")
	assert.False(t, r.WantsClose())
	assert.False(t, r.WantsUpgrade())
	assert.False(t, r.Wants100Continue())

	r.Headers.Add("Connection", "upgrade, close")
	r.Headers.Add("Expect", "100-continue")
	assert.True(t, r.WantsClose())
	assert.True(t, r.WantsUpgrade())
	assert.True(t, r.Wants100Continue())
}
