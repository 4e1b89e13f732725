// Package bus wraps an MQTT publish/subscribe client for the
// charge-manager API (Component D): auto-reconnect, keepalive ping,
// and per-topic subscription callbacks, running underneath the
// reactor via the library's own background I/O goroutine.
//
// No repo in the retrieval pack carries a pub/sub message-bus
// dependency; original_source confirms the real system speaks MQTT
// (mosquitto_cpp.hpp, mqtt_client.cpp), so this package is grounded
// there rather than on an in-pack example, and uses the real
// ecosystem client github.com/eclipse/paho.mqtt.golang rather than a
// fabricated stub. See DESIGN.md for the explicit justification.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is a thin, JSON-payload wrapper around a paho client
// configured for auto-reconnect.
type Client struct {
	log *slog.Logger
	mq  mqtt.Client
}

// Options configures the broker connection.
type Options struct {
	BrokerURL string
	ClientID  string
	KeepAlive time.Duration
}

func Connect(log *slog.Logger, opts Options) (*Client, error) {
	mopts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(opts.KeepAlive / 2)

	mopts.OnConnectionLost = func(mqtt.Client, error) {
		log.Warn("bus connection lost; auto-reconnect engaged")
	}
	mopts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		log.Info("bus reconnecting")
	}

	c := &Client{log: log, mq: mqtt.NewClient(mopts)}
	token := c.mq.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	return c, nil
}

// Publish JSON-encodes payload and publishes it at QoS 0 (the bridge
// re-publishes on its own cadence, so at-most-once delivery is
// acceptable per design §5's "best effort" framing).
func (c *Client) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload for %s: %w", topic, err)
	}
	token := c.mq.Publish(topic, 0, false, body)
	token.Wait()
	return token.Error()
}

// Handler receives the raw JSON body of an inbound message.
type Handler func(topic string, payload []byte)

// Subscribe registers handler for topic (which may be a wildcard such
// as "prefix/#").
func (c *Client) Subscribe(topic string, handler Handler) error {
	token := c.mq.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) Disconnect() { c.mq.Disconnect(250) }

// TopicPrefix derives the bus topic prefix for one module interface,
// per design §6: "{module_id, interface}".
func TopicPrefix(moduleID, iface string) string {
	return fmt.Sprintf("%s/%s/", moduleID, iface)
}

// Interface names used to build topic prefixes.
const (
	InterfaceEVSEBoardSupport   = "evse_board_support"
	InterfaceEVBoardSupport     = "ev_board_support"
	InterfaceOverVoltageMonitor = "over_voltage_monitor"
)

// PrefixedPublisher adapts Client to the bsp.Publisher interface by
// prepending a fixed topic prefix to every publish.
type PrefixedPublisher struct {
	Client *Client
	Prefix string
}

func (p PrefixedPublisher) Publish(topic string, payload any) {
	if err := p.Client.Publish(p.Prefix+topic, payload); err != nil {
		p.Client.log.Error("bus publish failed", "topic", p.Prefix+topic, "err", err)
	}
}
