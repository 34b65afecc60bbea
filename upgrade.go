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

// handleUpgrade finalises the stream whose response just switched
// protocols and, if the request supplied an UpgradeHandler, installs
// it on the adapter as the new destination for inbound bytes. Any
// bytes already buffered past the 101 response's blank line belong to
// the new protocol and are handed to the handler directly rather than
// re-entering the decoder.
func (c *Connection) handleUpgrade() {
	s := c.dec.stream
	resp := c.dec.resp
	handler := s.request.UpgradeHandler

	c.switched.Store(true)
	if c.switchBoundary < 0 {
		c.switchBoundary = c.readIdx
	}
	c.completeReading(s, resp, nil)

	leftover := c.pendingIn
	c.pendingIn = nil
	c.dec = decoder{}

	if handler == nil {
		if len(leftover) > 0 {
			c.failConnection(newCodedError(ErrCodeUnexpectedData,
				newError("protocol switched with no downstream handler installed")))
		}
		return
	}

	c.downstreamInstalled.Store(true)
	c.adapter.InstallDownstream(handler, c.windowAvailable())
	if len(leftover) > 0 {
		handler.DeliverInbound(leftover)
	}
}
