package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/status"
)

// Options configures the broker connection.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	SessionID  string
	BufferSize int // offline buffer capacity; 0 uses 256
}

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. While the broker is
// unreachable messages are buffered and replayed on reconnect.
type RealPublisher struct {
	client    paho.Client
	sessionID string

	mu        sync.Mutex
	buffer    *offlineBuffer
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// An unreachable broker is not an error: the client keeps retrying in the
// background and messages are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	p := &RealPublisher{
		sessionID: o.SessionID,
		buffer:    newOfflineBuffer(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	if reconnect {
		log.Printf("mqtt: reconnected, replaying %d buffered messages", len(pending))
	} else {
		log.Printf("mqtt: connected")
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		c.Publish(TopicSystem, 1, false, payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

// publish sends a message, or buffers it while disconnected.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishStatus sends a snapshot, QoS 0, retained.
func (p *RealPublisher) PublishStatus(snap *status.Snapshot) error {
	return p.publish(TopicStatus, 0, true, status.FormatSnapshot(snap))
}

// PublishEvent sends a pump transition, QoS 1, not retained.
func (p *RealPublisher) PublishEvent(event logic.Event) error {
	payload, err := FormatEventPayload(event, p.sessionID)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishSystem sends a system lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
