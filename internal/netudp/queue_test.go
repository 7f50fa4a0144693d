package netudp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := newQueue()
	q.push(datagram{data: []byte("one")})
	q.push(datagram{data: []byte("two")})

	ctx := context.Background()
	d1, err := q.pop(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []byte("one"), d1)

	d2, err := q.pop(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []byte("two"), d2)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := newQueue()
	done := make(chan struct{})
	var got []byte

	go func() {
		data, err := q.pop(context.Background())
		assert.NoError(t, err)
		got = data
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(datagram{data: []byte("late")})

	select {
	case <-done:
		assert.Equal(t, []byte("late"), got)
	case <-time.After(time.Second):
		t.Fatal("pop never returned")
	}
}

func TestQueue_PopRespectsContextCancel(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_ErrorPropagates(t *testing.T) {
	q := newQueue()
	sentinel := assert.AnError
	q.push(datagram{err: sentinel})

	_, err := q.pop(context.Background())
	assert.ErrorIs(t, err, sentinel)
}
