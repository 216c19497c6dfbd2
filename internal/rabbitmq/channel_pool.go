package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels for short-lived operations (publishes,
// topology declares). Pooling replaces the connection-per-publish pattern
// while keeping the confirm-before-return contract intact: channels are
// reused, confirmations are still awaited per publish.
type ChannelPool struct {
	manager *ConnectionManager
	maxSize int
	getWait time.Duration

	mu       sync.Mutex
	channels chan *amqp.Channel
	active   int
	closed   bool
}

// ChannelPoolOption configures the pool.
type ChannelPoolOption func(*ChannelPool)

// WithMaxChannels sets the maximum number of channels the pool will open.
func WithMaxChannels(n int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = n
	}
}

// WithGetWait bounds how long Get blocks when the pool is exhausted.
func WithGetWait(d time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.getWait = d
	}
}

// NewChannelPool creates a pool over the given connection manager.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	cp := &ChannelPool{
		manager: manager,
		maxSize: 10,
		getWait: 5 * time.Second,
	}
	for _, opt := range options {
		opt(cp)
	}

	if cp.maxSize < 1 {
		return nil, fmt.Errorf("%w: max channels must be at least 1", ErrInvalidConfiguration)
	}

	cp.channels = make(chan *amqp.Channel, cp.maxSize)
	return cp, nil
}

// Get retrieves a channel, opening a new one when under the size cap.
func (cp *ChannelPool) Get(ctx context.Context) (*amqp.Channel, error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}
	cp.mu.Unlock()

	select {
	case ch := <-cp.channels:
		if ch.IsClosed() {
			cp.discard()
			return cp.open()
		}
		return ch, nil
	default:
	}

	cp.mu.Lock()
	underCap := cp.active < cp.maxSize
	cp.mu.Unlock()
	if underCap {
		return cp.open()
	}

	select {
	case ch := <-cp.channels:
		if ch.IsClosed() {
			cp.discard()
			return cp.open()
		}
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cp.getWait):
		return nil, ErrChannelPoolExhausted
	}
}

// Put returns a channel to the pool; closed or surplus channels are dropped.
// The closed check and the send happen under one lock so a Put racing Close
// cannot slip a channel past the drain.
func (cp *ChannelPool) Put(ch *amqp.Channel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	if cp.closed || ch.IsClosed() {
		cp.mu.Unlock()
		ch.Close()
		cp.discard()
		return
	}

	select {
	case cp.channels <- ch:
		cp.mu.Unlock()
	default:
		cp.mu.Unlock()
		ch.Close()
		cp.discard()
	}
}

// Execute runs fn with a pooled channel, returning the channel afterwards.
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in channel execution: %v", r)
			}
		}()
		execErr = fn(ch)
	}()
	return execErr
}

// Close drains and closes every pooled channel. The buffered channel itself
// is never closed: Get and Put are gated by the closed flag instead, so a
// late Put can never hit a closed channel.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	for {
		select {
		case ch := <-cp.channels:
			if !ch.IsClosed() {
				ch.Close()
			}
		default:
			return nil
		}
	}
}

// Size reports the number of channels currently opened by the pool.
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.active
}

func (cp *ChannelPool) open() (*amqp.Channel, error) {
	ch, err := cp.manager.Channel()
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	cp.active++
	cp.mu.Unlock()
	return ch, nil
}

func (cp *ChannelPool) discard() {
	cp.mu.Lock()
	if cp.active > 0 {
		cp.active--
	}
	cp.mu.Unlock()
}
