package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide-controller/internal/command"
	"tide-controller/internal/config"
	"tide-controller/internal/core"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload.([]byte)), retained: retained})
	return doneToken{}
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeScripts struct {
	mu      sync.Mutex
	ran     []string
	stopped int
}

func (s *fakeScripts) RunScript(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, name)
	return nil
}

func (s *fakeScripts) StopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func newTestBridge(t *testing.T, bus *core.NotificationBus) (*Client, *core.EventChannel, *fakePublisher, *fakeScripts) {
	t.Helper()
	events := core.NewEventChannel(4, time.Millisecond)
	d := command.NewDispatcher(command.NewDefaultRegistry(), events)
	scripts := &fakeScripts{}
	c := newBridge(config.MQTTConfig{Enabled: true, TopicPrefix: "tide/"}, d, scripts, bus, nil)
	pub := &fakePublisher{}
	c.pub = pub
	return c, events, pub, scripts
}

func TestNewClientDisabled(t *testing.T) {
	c := NewClient(config.MQTTConfig{Enabled: false}, nil, nil, nil, nil)
	assert.Nil(t, c)
	assert.NoError(t, c.Connect())
	c.Disconnect()
}

func TestDispatchMessage(t *testing.T) {
	c, events, pub, _ := newTestBridge(t, nil)

	c.handleCommand(nil, fakeMessage{topic: "tide/command/open", payload: []byte(`{"uri": "mqtt.png"}`)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := events.Receive(ctx)
	require.True(t, ok)
	open, ok := ev.(core.Open)
	require.True(t, ok)
	assert.Equal(t, "mqtt.png", open.URI)
	assert.Equal(t, core.SourceMQTT, open.Source)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tide/command/open/result", msgs[0].topic)
	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &result))
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, open.ID, result["event_id"])
}

func TestDispatchMessageRejected(t *testing.T) {
	c, events, pub, _ := newTestBridge(t, nil)

	c.dispatchMessage("tide/command/close", []byte(`{}`))
	c.dispatchMessage("tide/command/bogus", nil)

	assert.Equal(t, 0, events.Len())
	msgs := pub.all()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		var result map[string]string
		require.NoError(t, json.Unmarshal([]byte(m.payload), &result))
		assert.Equal(t, "error", result["status"])
		assert.NotEmpty(t, result["error"])
	}
}

func TestDispatchMessageIgnoresForeignTopics(t *testing.T) {
	c, events, pub, _ := newTestBridge(t, nil)

	c.dispatchMessage("other/command/clear", nil)
	c.dispatchMessage("tide/command/", nil)
	c.dispatchMessage("tide/command/clear/extra", nil)

	assert.Equal(t, 0, events.Len())
	assert.Empty(t, pub.all())
}

func TestScriptHandlers(t *testing.T) {
	c, _, _, scripts := newTestBridge(t, nil)

	c.handleScriptRun(nil, fakeMessage{topic: "tide/script/run", payload: []byte(" morning \n")})
	c.handleScriptStop(nil, fakeMessage{topic: "tide/script/stop"})

	assert.Equal(t, []string{"morning"}, scripts.ran)
	assert.Equal(t, 1, scripts.stopped)
}

func TestNotificationsArePublishedRetained(t *testing.T) {
	bus := core.NewNotificationBus()
	c, _, pub, _ := newTestBridge(t, bus)

	c.startForwarding()
	bus.Publish(core.Notification{Type: core.DisplayChanged, Payload: map[string]int{"count": 2}})

	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	msg := pub.all()[0]
	assert.Equal(t, "tide/display", msg.topic)
	assert.JSONEq(t, `{"count":2}`, msg.payload)
	assert.True(t, msg.retained)

	c.Disconnect()
	bus.Publish(core.Notification{Type: core.DisplayChanged, Payload: 1})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, pub.all(), 1)
}

func TestPublishWithoutConnection(t *testing.T) {
	c := newBridge(config.MQTTConfig{TopicPrefix: "tide"}, nil, nil, nil, nil)
	assert.NotPanics(t, func() { c.Publish("display", []byte("{}"), true) })
	assert.NotPanics(t, func() { c.publishNotification(core.Notification{Type: core.DisplayChanged, Payload: errors.New("x")}) })
}
