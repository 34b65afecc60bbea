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

func TestChunkIsTermination(t *testing.T) {
	data := NewDataChunk([]byte("x"))
	term := NewTerminationChunk()

	assert.False(t, data.isTermination())
	assert.True(t, term.isTermination())
}

func TestChunkCompleteFiresOnComplete(t *testing.T) {
	var got error
	c := NewDataChunk([]byte("x"))
	c.OnComplete = func(err error) { got = err }

	c.complete(assert.AnError)
	assert.Equal(t, assert.AnError, got)
}

func TestBytesBodySourceReadsThenDone(t *testing.T) {
	src := NewBytesBody([]byte("abc"))

	buf := make([]byte, 2)
	n, err := src.ReadInto(buf)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, src.Done())

	n, err = src.ReadInto(buf)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, src.Done())

	n, err = src.ReadInto(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChunkQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewChunkQueue(4)

	a := NewDataChunk([]byte("a"))
	b := NewDataChunk([]byte("b"))
	q.Enqueue(a)
	q.Enqueue(b)

	got, ok := q.dequeue()
	assert.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.dequeue()
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, ok = q.dequeue()
	assert.False(t, ok)
}

func TestChunkQueueEnqueueAfterTerminationFailsImmediately(t *testing.T) {
	q := NewChunkQueue(4)
	q.Enqueue(NewTerminationChunk())
	_, _ = q.dequeue()

	var got error
	late := NewDataChunk([]byte("late"))
	late.OnComplete = func(err error) { got = err }
	q.Enqueue(late)

	assert.Equal(t, ErrConnectionClosed, got)
}

func TestChunkQueueCancelFailsPending(t *testing.T) {
	q := NewChunkQueue(4)

	var got1, got2 error
	c1 := NewDataChunk([]byte("a"))
	c1.OnComplete = func(err error) { got1 = err }
	c2 := NewDataChunk([]byte("b"))
	c2.OnComplete = func(err error) { got2 = err }
	q.Enqueue(c1)
	q.Enqueue(c2)

	q.cancel(ErrStreamCancelled)

	assert.Equal(t, ErrStreamCancelled, got1)
	assert.Equal(t, ErrStreamCancelled, got2)

	_, ok := q.dequeue()
	assert.False(t, ok)
}

func TestChunkQueueWaitSignalsOnEnqueue(t *testing.T) {
	q := NewChunkQueue(4)

	select {
	case <-q.Wait():
		t.Fatal("wait channel should not be ready before any enqueue")
	default:
	}

	q.Enqueue(NewDataChunk([]byte("a")))

	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be ready after enqueue")
	}
}
