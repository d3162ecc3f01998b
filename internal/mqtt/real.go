package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/power-button/internal/logic"
)

const publishTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topic      string // topic prefix
	BufferSize int    // messages kept while disconnected
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// unreachable at startup is not an error: paho keeps retrying in the
// background and messages are buffered until it succeeds.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("no broker configured")
	}
	if opts.ClientID == "" {
		opts.ClientID = "power-button"
	}

	p := &RealPublisher{
		topics: NewTopics(opts.Topic),
		buf:    newRingBuffer(opts.BufferSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topics.System, WillPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	// Connect retries in the background; onConnect replays the buffer.
	p.client.Connect()
	log.Info().Str("broker", opts.Broker).Msg("mqtt: connecting")

	return p, nil
}

// onConnect replays anything buffered while the connection was down.
// The replay holds mu, so live publishes queue behind it and reach the
// broker after every older buffered message.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reconnect := p.everUp
	pending := p.buf.drainAll()
	log.Info().Bool("reconnect", reconnect).Int("buffered", len(pending)).Msg("mqtt: connected")

	// Handlers run on paho's goroutine; publishing from here must not wait
	// on tokens or it deadlocks the client.
	for _, m := range pending {
		client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err == nil {
			client.Publish(p.topics.System, 1, true, payload)
		}
	}
	p.connected = true
	p.everUp = true
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Warn().Err(err).Msg("mqtt: connection lost")
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends a controller transition to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(p.topics.Events, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	// Hand off under mu so a concurrent replay cannot be overtaken.
	token := p.client.Publish(topic, qos, retained, payload)
	p.mu.Unlock()

	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if n := p.buf.len(); n > 0 {
		log.Warn().Int("buffered", n).Msg("mqtt: closing with undelivered messages")
	}
	p.connected = false
	p.mu.Unlock()

	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
