package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrChannelBusy means the queue stayed full for the whole send timeout.
	ErrChannelBusy = errors.New("event channel is busy")
	// ErrChannelClosed means the channel no longer accepts events.
	ErrChannelClosed = errors.New("event channel is closed")
)

const (
	DefaultChannelCapacity = 64
	DefaultSendTimeout     = 100 * time.Millisecond
)

// EventChannel is the bounded queue between command producers and the single
// application consumer. A full queue makes Send wait up to the send timeout and
// then fail with ErrChannelBusy; events are never silently dropped.
//
// Close stops new sends but keeps already queued events receivable, so the
// consumer can drain them.
type EventChannel struct {
	mu          sync.RWMutex
	closed      bool
	events      chan Event
	done        chan struct{}
	sealed      chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
}

// NewEventChannel creates a channel. Non-positive arguments select the defaults.
func NewEventChannel(capacity int, sendTimeout time.Duration) *EventChannel {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &EventChannel{
		events:      make(chan Event, capacity),
		done:        make(chan struct{}),
		sealed:      make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

// Send enqueues ev. Once Send returns nil the event will be delivered, even if the
// caller's context is cancelled afterwards.
func (c *EventChannel) Send(ctx context.Context, ev Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.events <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrChannelBusy
	}
}

// Receive blocks until an event is available. It returns false once the channel
// is closed and fully drained, or when ctx is done.
func (c *EventChannel) Receive(ctx context.Context) (Event, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	default:
	}

	select {
	case ev := <-c.events:
		return ev, true
	case <-c.done:
		// Senders that got in before Close may still be enqueueing.
		<-c.sealed
		select {
		case ev := <-c.events:
			return ev, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

// Close is idempotent. Blocked senders are released with ErrChannelClosed.
func (c *EventChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.sealed)
	})
}

// Closed reports whether Close has been called.
func (c *EventChannel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Len is the number of queued events.
func (c *EventChannel) Len() int { return len(c.events) }

// Cap is the queue capacity.
func (c *EventChannel) Cap() int { return cap(c.events) }
