package core

import "sync"

// NotificationType defines the type of notification being published.
type NotificationType string

const (
	DisplayChanged    NotificationType = "display"
	StatisticsChanged NotificationType = "statistics"
	CommandAccepted   NotificationType = "command"
	ScriptChanged     NotificationType = "script"
)

// Notification is the envelope for outbound state notifications. These flow from
// the application core to observers (websocket clients, MQTT) and are unrelated to
// the command EventChannel.
type Notification struct {
	Type    NotificationType `json:"type"`
	Payload any              `json:"payload"`
}

// Subscriber is a channel that receives notifications.
type Subscriber chan Notification

// NotificationBus handles pub/sub messaging for the application.
type NotificationBus struct {
	mu          sync.RWMutex
	subscribers map[NotificationType][]Subscriber
}

// NewNotificationBus creates a new NotificationBus.
func NewNotificationBus() *NotificationBus {
	return &NotificationBus{
		subscribers: make(map[NotificationType][]Subscriber),
	}
}

// Subscribe returns a channel that receives notifications of the given types.
func (b *NotificationBus) Subscribe(types ...NotificationType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(Subscriber, 100)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *NotificationBus) Unsubscribe(ch Subscriber, types ...NotificationType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		subs := b.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish distributes n to all subscribers of its type. A full subscriber misses
// the notification rather than blocking the publisher.
func (b *NotificationBus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[n.Type] {
		select {
		case sub <- n:
		default:
		}
	}
}
