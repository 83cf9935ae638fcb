package server

import "encoding/json"

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload any) Message {
	return Message{Type: msgType, Payload: payload}
}

// Inbound is a control message received from a WebSocket client.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster delivers messages to every connected client.
type Broadcaster interface {
	Broadcast(msg Message)
}

// ControlHandler handles inbound WebSocket control messages. Replies are
// broadcast so every open dashboard stays in sync.
type ControlHandler interface {
	Handle(msg Inbound, out Broadcaster)
}
