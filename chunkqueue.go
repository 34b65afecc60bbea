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

import "sync"

// ChunkQueue is the bounded, single-producer/single-consumer FIFO of
// pending outbound chunks attached to a chunked-encoding stream. The
// producer (the user, possibly off the I/O thread) calls Enqueue; the
// consumer (the Encoder, always on the I/O thread) calls dequeue.
//
// Enqueue is safe from any thread. It never silently drops a chunk: if
// the queue is full it blocks the calling goroutine, which is a
// deliberate choice - backpressure on chunk production belongs to the
// caller, not to the core (see the connection's read/write loop, which
// never blocks on ChunkQueue).
type ChunkQueue struct {
	mu       sync.Mutex
	items    []*Chunk
	capacity int
	notify   chan struct{}
	closed   bool
	full     *sync.Cond
}

const defaultChunkQueueCapacity = 64

// NewChunkQueue returns a ChunkQueue bounded to capacity pending
// chunks. A capacity <= 0 uses a built-in default.
func NewChunkQueue(capacity int) *ChunkQueue {
	if capacity <= 0 {
		capacity = defaultChunkQueueCapacity
	}
	q := &ChunkQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	q.full = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a chunk, blocking the caller while the queue is at
// capacity. It wakes the encoder if it was parked waiting for data.
// Enqueue after the termination chunk or after Cancel is a no-op that
// immediately fires the chunk's completion callback with
// ErrConnectionClosed, so callers that keep writing after EOF never
// leak a buffer.
func (q *ChunkQueue) Enqueue(c *Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		c.complete(ErrConnectionClosed)
		return
	}
	for len(q.items) >= q.capacity {
		q.full.Wait()
		if q.closed {
			q.mu.Unlock()
			c.complete(ErrConnectionClosed)
			return
		}
	}
	q.items = append(q.items, c)
	terminated := c.isTermination()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if terminated {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	}
}

// dequeue pops the oldest pending chunk, if any. Only the encoder
// calls this, from the I/O thread.
func (q *ChunkQueue) dequeue() (*Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	q.full.Signal()
	return c, true
}

// Wait returns a channel that receives once more data may be
// available. The encoder selects on it while parked awaiting chunks.
func (q *ChunkQueue) Wait() <-chan struct{} {
	return q.notify
}

// cancel drains and fails every pending chunk - called on connection
// shutdown so outstanding completion callbacks still fire exactly
// once, letting the user release underlying buffers.
func (q *ChunkQueue) cancel(err error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.closed = true
	q.full.Broadcast()
	q.mu.Unlock()

	for _, c := range pending {
		c.complete(err)
	}
}
