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

package common

const (
	// App is the application name used for metric namespacing and
	// default config/log paths.
	App = "h1conn"

	// Version is the module version reported by the demo CLI.
	Version = "v0.1.0"

	// DefaultBufferSize is the default cap on how many bytes the encoder
	// emits per step, and so on the size it requests from the boundary
	// adapter for each outbound buffer.
	//
	// 4KiB comfortably holds a request/response head or several chunk
	// headers without forcing most small messages to split across
	// buffers, while staying small enough that many concurrent
	// connections don't dominate memory.
	DefaultBufferSize = 4096

	// DefaultReadWindow is the default initial read-window credit
	// granted to a new Connection.
	DefaultReadWindow = 1 << 20 // 1MiB

	// DefaultChunkQueueCapacity is the default bound on pending
	// outbound chunks per stream.
	DefaultChunkQueueCapacity = 64

	// DefaultMaxCapturedBody is the default cap on how many response
	// body bytes a stream retains on Response.Body when its OnBody
	// callback opts into capture.
	DefaultMaxCapturedBody = 1 << 20 // 1MiB
)
