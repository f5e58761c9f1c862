package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// RealClient talks to an actual MQTT broker: it subscribes to the
// duty-set topic and publishes acks and lifecycle events. Messages
// published while disconnected are buffered and replayed on reconnect.
type RealClient struct {
	client  paho.Client
	handler CommandHandler

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealClient connects to the given broker and subscribes to the
// duty-set topic. The handler receives every well-formed flip point
// request; malformed payloads are logged and dropped.
func NewRealClient(broker string, handler CommandHandler) (*RealClient, error) {
	c := &RealClient{
		handler: handler,
		buffer:  newRingBuffer(32),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("zerocross-relay-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect)

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return c, nil
}

// onConnect runs on every (re)connect: renew the command subscription
// and replay anything buffered while offline.
func (c *RealClient) onConnect(client paho.Client) {
	token := client.Subscribe(TopicDutySet, 1, c.onDutyCommand)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: subscribe %s timeout", TopicDutySet)
	} else if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", TopicDutySet, err)
	}

	c.mu.Lock()
	pending := c.buffer.drainAll()
	c.mu.Unlock()
	for _, msg := range pending {
		client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replayed %d buffered messages", len(pending))
	}
}

func (c *RealClient) onDutyCommand(_ paho.Client, msg paho.Message) {
	v, err := ParseDutyCommand(msg.Payload())
	if err != nil {
		log.Printf("mqtt: %v", err)
		return
	}
	if c.handler != nil {
		c.handler(v)
	}
}

// PublishAck sends a duty acknowledgement, buffering it if disconnected.
func (c *RealClient) PublishAck(ack DutyAck) error {
	payload, err := FormatAckPayload(ack)
	if err != nil {
		return fmt.Errorf("format ack payload: %w", err)
	}
	return c.publish(TopicDutyAck, 0, false, payload)
}

// PublishSystem sends a system lifecycle event, buffering it if
// disconnected.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want delivery.
	return c.publish(TopicSystem, 1, event.Retained, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		c.mu.Lock()
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
