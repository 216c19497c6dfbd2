package rabbitmq

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelPool(t *testing.T) {
	t.Run("Requires a connection manager", func(t *testing.T) {
		_, err := NewChannelPool(nil)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("Rejects a zero channel cap", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		_, err := NewChannelPool(manager, WithMaxChannels(0))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("Starts empty", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)
		assert.Equal(t, 0, pool.Size())
	})
}

func TestChannelPoolLifecycle(t *testing.T) {
	t.Run("Get on a disconnected manager fails", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)

		_, err = pool.Get(context.Background())
		assert.Error(t, err)
	})

	t.Run("Get after Close returns the pool-closed error", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)

		require.NoError(t, pool.Close())
		_, err = pool.Get(context.Background())
		assert.ErrorIs(t, err, ErrChannelPoolClosed)
	})

	t.Run("Close is idempotent", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)

		assert.NoError(t, pool.Close())
		assert.NoError(t, pool.Close())
	})

	t.Run("Put of nil is a no-op", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)

		pool.Put(nil)
		assert.Equal(t, 0, pool.Size())
	})

	t.Run("Puts racing Close do not panic", func(t *testing.T) {
		manager := NewConnectionManager("amqp://localhost")
		pool, err := NewChannelPool(manager)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					pool.Put(nil)
				}
			}()
		}
		assert.NoError(t, pool.Close())
		wg.Wait()

		_, err = pool.Get(context.Background())
		assert.ErrorIs(t, err, ErrChannelPoolClosed)
	})
}
