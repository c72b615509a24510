package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePublishClaimAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8)

	require.NoError(t, q.Publish(ctx, []byte("first")))
	require.NoError(t, q.Publish(ctx, []byte("second")))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	d, err := q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []byte("first"), d.Payload)
	require.NoError(t, d.Ack(ctx))

	d, err = q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []byte("second"), d.Payload)
	require.NoError(t, d.Ack(ctx))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestMemoryQueueClaimTimeout(t *testing.T) {
	q := NewMemoryQueue(1)

	d, err := q.Claim(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMemoryQueueClaimCanceled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Claim(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueueFull(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	require.NoError(t, q.Publish(ctx, []byte("one")))
	assert.ErrorIs(t, q.Publish(ctx, []byte("two")), ErrQueueFull)
}

func TestDeliveryAckIdempotent(t *testing.T) {
	ctx := context.Background()
	calls := 0
	d := &Delivery{
		Payload: []byte("x"),
		ack: func(context.Context) error {
			calls++
			return nil
		},
	}

	require.NoError(t, d.Ack(ctx))
	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, 1, calls)
}
