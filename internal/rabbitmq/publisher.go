package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// returnGraceWindow is how long after a confirm the publisher waits for a
// basic.return to arrive. The broker sends the return before the ack, but the
// two are processed on different goroutines here.
const returnGraceWindow = 10 * time.Millisecond

// maxTrackedReturns bounds the per-channel return buffer so an unread backlog
// of unroutable messages cannot grow without limit.
const maxTrackedReturns = 64

// confirmation is the awaited side of a deferred publisher confirm.
// *amqp.DeferredConfirmation satisfies it.
type confirmation interface {
	Done() <-chan struct{}
	Acked() bool
}

// publishChannel is the confirm-capable subset of *amqp.Channel the publisher
// needs; tests substitute a fake.
type publishChannel interface {
	Confirm(noWait bool) error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithDeferredConfirm(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error)
}

// amqpPublishChannel adapts *amqp.Channel. It is a comparable value so the
// same underlying channel always maps to the same per-channel state.
type amqpPublishChannel struct {
	ch *amqp.Channel
}

func (a amqpPublishChannel) Confirm(noWait bool) error { return a.ch.Confirm(noWait) }

func (a amqpPublishChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	return a.ch.NotifyReturn(c)
}

func (a amqpPublishChannel) PublishWithDeferredConfirm(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error) {
	dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

// channelState tracks basic.returns for one channel. The broker library fans
// confirms and returns out to every registered listener with a blocking send
// from the connection reader goroutine, so listeners must be registered once
// per channel lifetime, never once per publish: an abandoned full listener
// wedges the reader and with it every channel on the connection.
type channelState struct {
	mu      sync.Mutex
	returns []amqp.Return
}

func (s *channelState) record(ret amqp.Return) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.returns) >= maxTrackedReturns {
		s.returns = s.returns[1:]
	}
	s.returns = append(s.returns, ret)
}

// takeReturn removes and reports the return matching the message id; an empty
// id matches the oldest return.
func (s *channelState) takeReturn(messageID string) (amqp.Return, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ret := range s.returns {
		if messageID == "" || ret.MessageId == messageID {
			s.returns = append(s.returns[:i], s.returns[i+1:]...)
			return ret, true
		}
	}
	return amqp.Return{}, false
}

// Publisher performs confirmed, mandatory publishes over pooled channels.
// Every publish waits for the broker's confirm before returning, and
// unroutable messages come back as ErrMessageUnroutable instead of vanishing.
// Confirms are awaited through deferred confirmations keyed by delivery tag;
// returns through a single per-channel listener drained on its own goroutine.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration

	mu     sync.Mutex
	states map[publishChannel]*channelState
}

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithConfirmTimeout bounds the wait for a broker confirm.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// NewPublisher creates a publisher over the given channel pool.
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		states:         make(map[publishChannel]*channelState),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish sends one message and waits for its confirm.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return p.wrap(exchange, routingKey, err)
	}
	defer p.pool.Put(ch)

	return p.publishOn(ctx, amqpPublishChannel{ch: ch}, exchange, routingKey, msg)
}

// PublishBatch sends the messages on one channel sharing a single confirm
// cycle. It returns how many messages at the head of the batch were
// confirmed; on error the caller knows messages [0, confirmed) succeeded.
func (p *Publisher) PublishBatch(ctx context.Context, exchange, routingKey string, msgs []amqp.Publishing) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	ch, err := p.pool.Get(ctx)
	if err != nil {
		return 0, p.wrap(exchange, routingKey, err)
	}
	defer p.pool.Put(ch)

	return p.publishBatchOn(ctx, amqpPublishChannel{ch: ch}, exchange, routingKey, msgs)
}

func (p *Publisher) publishOn(ctx context.Context, pc publishChannel, exchange, routingKey string, msg amqp.Publishing) error {
	st, err := p.stateFor(pc)
	if err != nil {
		return p.wrap(exchange, routingKey, fmt.Errorf("enable confirms: %w", err))
	}

	dc, err := pc.PublishWithDeferredConfirm(ctx, exchange, routingKey, true, false, msg)
	if err != nil {
		return p.wrap(exchange, routingKey, err)
	}

	select {
	case <-dc.Done():
		if !dc.Acked() {
			return p.wrap(exchange, routingKey, ErrPublishNotConfirmed)
		}

	case <-time.After(p.confirmTimeout):
		return p.wrap(exchange, routingKey, ErrConfirmTimeout)

	case <-ctx.Done():
		return ctx.Err()
	}

	// A returned message is still confirmed; check the return listener
	// before declaring success.
	if ret, ok := p.awaitReturn(st, msg.MessageId); ok {
		return p.wrap(exchange, routingKey, fmt.Errorf("%w: %s", ErrMessageUnroutable, ret.ReplyText))
	}
	return nil
}

func (p *Publisher) publishBatchOn(ctx context.Context, pc publishChannel, exchange, routingKey string, msgs []amqp.Publishing) (int, error) {
	st, err := p.stateFor(pc)
	if err != nil {
		return 0, p.wrap(exchange, routingKey, fmt.Errorf("enable confirms: %w", err))
	}

	confirmations := make([]confirmation, 0, len(msgs))
	for i, msg := range msgs {
		dc, err := pc.PublishWithDeferredConfirm(ctx, exchange, routingKey, true, false, msg)
		if err != nil {
			// Abort the rest of the batch, then settle what already went out.
			confirmed, waitErr := p.awaitConfirmations(ctx, st, msgs[:len(confirmations)], confirmations)
			if waitErr != nil {
				return confirmed, waitErr
			}
			return confirmed, p.wrap(exchange, routingKey, fmt.Errorf("publish message %d: %w", i, err))
		}
		confirmations = append(confirmations, dc)
	}

	return p.awaitConfirmations(ctx, st, msgs, confirmations)
}

// awaitConfirmations waits for every deferred confirmation in publish order
// under one shared timeout, then checks for returned messages.
func (p *Publisher) awaitConfirmations(ctx context.Context, st *channelState, msgs []amqp.Publishing, confirmations []confirmation) (int, error) {
	deadline := time.After(p.confirmTimeout)

	confirmed := 0
	for i, dc := range confirmations {
		select {
		case <-dc.Done():
			if !dc.Acked() {
				return confirmed, &PublishError{
					Err:       fmt.Errorf("%w: message %d nacked", ErrPublishNotConfirmed, i),
					Timestamp: time.Now(),
				}
			}
			confirmed++

		case <-deadline:
			return confirmed, &PublishError{
				Err:       fmt.Errorf("%w: confirmed %d/%d", ErrConfirmTimeout, confirmed, len(confirmations)),
				Timestamp: time.Now(),
			}

		case <-ctx.Done():
			return confirmed, ctx.Err()
		}
	}

	time.Sleep(returnGraceWindow)
	for i, msg := range msgs {
		if ret, ok := st.takeReturn(msg.MessageId); ok {
			return i, &PublishError{
				Exchange:   ret.Exchange,
				RoutingKey: ret.RoutingKey,
				Err:        fmt.Errorf("%w: %s", ErrMessageUnroutable, ret.ReplyText),
				Timestamp:  time.Now(),
			}
		}
	}
	return confirmed, nil
}

// stateFor returns the channel's confirm state, enabling confirm mode and
// registering the single return listener on first use. The pool hands a
// channel to one holder at a time, so first use is never concurrent.
func (p *Publisher) stateFor(pc publishChannel) (*channelState, error) {
	p.mu.Lock()
	if st, ok := p.states[pc]; ok {
		p.mu.Unlock()
		return st, nil
	}
	p.mu.Unlock()

	if err := pc.Confirm(false); err != nil {
		return nil, err
	}

	st := &channelState{}
	returns := pc.NotifyReturn(make(chan amqp.Return, maxTrackedReturns))
	go func() {
		for ret := range returns {
			st.record(ret)
		}
		// Listener channel closed means the AMQP channel died; drop its state.
		p.mu.Lock()
		delete(p.states, pc)
		p.mu.Unlock()
	}()

	p.mu.Lock()
	p.states[pc] = st
	p.mu.Unlock()
	return st, nil
}

func (p *Publisher) awaitReturn(st *channelState, messageID string) (amqp.Return, bool) {
	if ret, ok := st.takeReturn(messageID); ok {
		return ret, true
	}
	time.Sleep(returnGraceWindow)
	return st.takeReturn(messageID)
}

func (p *Publisher) wrap(exchange, routingKey string, err error) error {
	return &PublishError{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
