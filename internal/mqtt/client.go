// Package mqtt bridges an MQTT broker to the command routes. Messages on
// {prefix}/command/{name} are dispatched like HTTP requests and display state is
// published back as retained JSON.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tide-controller/internal/config"
	"tide-controller/internal/core"
	"tide-controller/internal/logger"
)

const (
	availabilityTopic = "availability"
	dispatchTimeout   = 5 * time.Second
	publishTimeout    = 5 * time.Second
)

// Dispatcher queues a command exactly like an HTTP request would.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, body []byte, meta core.Meta) (core.Event, error)
}

// ScriptControl starts and stops scripts. Optional.
type ScriptControl interface {
	RunScript(name string) error
	StopCurrent()
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Client struct {
	client     mqtt.Client
	pub        publisher
	cfg        config.MQTTConfig
	dispatcher Dispatcher
	scripts    ScriptControl
	bus        *core.NotificationBus
	prefix     string
	logger     *slog.Logger

	sub      core.Subscriber
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient creates the bridge. It returns nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig, d Dispatcher, scripts ScriptControl, bus *core.NotificationBus, log *slog.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}
	c := newBridge(cfg, d, scripts, bus, log)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// Keep retrying at startup so a broker that comes up later is still reached.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	// Commands must reach the event channel in arrival order.
	opts.SetOrderMatters(true)

	opts.SetWill(c.topic(availabilityTopic), "offline", 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("connection lost, retrying in background", logger.Error(err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("attempting to reconnect")
	})

	c.client = mqtt.NewClient(opts)
	c.pub = c.client
	return c
}

func newBridge(cfg config.MQTTConfig, d Dispatcher, scripts ScriptControl, bus *core.NotificationBus, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		cfg:        cfg,
		dispatcher: d,
		scripts:    scripts,
		bus:        bus,
		prefix:     strings.Trim(cfg.TopicPrefix, "/"),
		logger:     log.With(logger.Component("mqtt")),
		quit:       make(chan struct{}),
	}
}

func (c *Client) topic(sub string) string {
	return c.prefix + "/" + sub
}

// Connect starts the connection loop and the state publisher.
func (c *Client) Connect() error {
	if c == nil {
		return nil
	}
	c.logger.Info("connecting", slog.String("broker", c.cfg.Broker))

	token := c.client.Connect()
	// With ConnectRetry an error here is a configuration problem, not an
	// unreachable broker.
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	c.startForwarding()
	return nil
}

func (c *Client) startForwarding() {
	if c.bus == nil {
		return
	}
	c.sub = c.bus.Subscribe(core.DisplayChanged, core.StatisticsChanged, core.ScriptChanged)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.quit:
				return
			case n := <-c.sub:
				c.publishNotification(n)
			}
		}
	}()
}

// Disconnect publishes offline and closes the connection.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.quit) })
	if c.sub != nil {
		c.bus.Unsubscribe(c.sub, core.DisplayChanged, core.StatisticsChanged, core.ScriptChanged)
	}
	c.wg.Wait()

	if c.client == nil || !c.client.IsConnected() {
		return
	}
	c.logger.Info("disconnecting")

	token := c.client.Publish(c.topic(availabilityTopic), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		c.logger.Warn("timed out publishing offline status")
	} else if token.Error() != nil {
		c.logger.Warn("failed to publish offline status", logger.Error(token.Error()))
	}

	c.client.Disconnect(250)
	c.logger.Info("disconnected")
}

// Publish sends payload to {prefix}/{subtopic} without blocking the caller.
func (c *Client) Publish(subtopic string, payload []byte, retained bool) {
	if c.pub == nil {
		return
	}
	if c.client != nil && !c.client.IsConnected() {
		return
	}

	topic := c.topic(subtopic)
	token := c.pub.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warn("publish timed out", slog.String("topic", topic))
		} else if token.Error() != nil {
			c.logger.Warn("publish failed", slog.String("topic", topic), logger.Error(token.Error()))
		}
	}()
}

func (c *Client) publishNotification(n core.Notification) {
	data, err := json.Marshal(n.Payload)
	if err != nil {
		c.logger.Error("cannot encode notification", slog.String("type", string(n.Type)), logger.Error(err))
		return
	}
	c.Publish(string(n.Type), data, true)
}

// onConnect runs on paho's internal goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("connected to broker")

	topics := map[string]mqtt.MessageHandler{
		c.topic("command/+"):   c.handleCommand,
		c.topic("script/run"):  c.handleScriptRun,
		c.topic("script/stop"): c.handleScriptStop,
	}
	for topic, handler := range topics {
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("subscribe failed", slog.String("topic", topic), logger.Error(token.Error()))
		} else {
			c.logger.Debug("subscribed", slog.String("topic", topic))
		}
	}

	go c.Publish(availabilityTopic, []byte("online"), true)
}

func (c *Client) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	c.dispatchMessage(msg.Topic(), msg.Payload())
}

// dispatchMessage dispatches the command named by the last topic segment. The
// outcome is published to {prefix}/command/{name}/result.
func (c *Client) dispatchMessage(topic string, payload []byte) {
	name, ok := strings.CutPrefix(topic, c.topic("command/"))
	if !ok || name == "" || strings.Contains(name, "/") {
		c.logger.Debug("ignoring message", slog.String("topic", topic))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	result := map[string]string{"status": "ok"}
	ev, err := c.dispatcher.Dispatch(ctx, name, payload, core.Meta{Source: core.SourceMQTT})
	if err != nil {
		c.logger.Warn("command not queued", logger.Command(name), logger.Error(err))
		result = map[string]string{"status": "error", "error": err.Error()}
	} else {
		result["event_id"] = ev.Metadata().ID
	}

	data, _ := json.Marshal(result)
	c.Publish("command/"+name+"/result", data, false)
}

func (c *Client) handleScriptRun(_ mqtt.Client, msg mqtt.Message) {
	if c.scripts == nil {
		return
	}
	name := strings.TrimSpace(string(msg.Payload()))
	if err := c.scripts.RunScript(name); err != nil {
		c.logger.Warn("cannot run script", slog.String("script", name), logger.Error(err))
	}
}

func (c *Client) handleScriptStop(mqtt.Client, mqtt.Message) {
	if c.scripts != nil {
		c.scripts.StopCurrent()
	}
}
