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

import "strings"

// HeaderField is one name/value pair. Unlike net/http.Header, h1conn
// keeps headers as an ordered slice: duplicate names are preserved and
// emitted in the order the caller (or the decoder) added them, per the
// framing rules of RFC 7230.
type HeaderField struct {
	Name  string
	Value string
}

// Headers is an ordered, duplicate-preserving header list.
type Headers struct {
	fields []HeaderField
}

// NewHeaders returns an empty header list.
func NewHeaders() *Headers {
	return &Headers{}
}

// Add appends a header field, preserving any existing field of the
// same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Get returns the value of the first field matching name
// (case-insensitive), and whether it was found.
func (h *Headers) Get(name string) (string, bool) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return h.fields[i].Value, true
		}
	}
	return "", false
}

// Values returns every value for fields matching name
// (case-insensitive), in field order.
func (h *Headers) Values(name string) []string {
	var out []string
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			out = append(out, h.fields[i].Value)
		}
	}
	return out
}

// Has reports whether any field matches name (case-insensitive).
func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Fields returns the header list in emission/arrival order. Callers
// must not mutate the returned slice.
func (h *Headers) Fields() []HeaderField {
	return h.fields
}

// Len returns the number of header fields, counting duplicates.
func (h *Headers) Len() int {
	return len(h.fields)
}

// hasToken reports whether name's value(s) contain token as a
// comma-separated, case-insensitive element - used for the Connection
// and Expect checks.
func (h *Headers) hasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// lastToken returns the last comma-separated element of the last field
// matching name, lower-cased - used to check "the last entry in a
// Transfer-Encoding list is chunked" per RFC 7230 §3.3.1.
func (h *Headers) lastToken(name string) (string, bool) {
	vals := h.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	last := vals[len(vals)-1]
	parts := strings.Split(last, ",")
	tok := strings.TrimSpace(parts[len(parts)-1])
	if tok == "" {
		return "", false
	}
	return strings.ToLower(tok), true
}
