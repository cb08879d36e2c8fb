package ports

import "context"

// Message is one inbound MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageHandler processes one inbound message. Handlers run on the broker's
// delivery goroutine and must not block for long.
type MessageHandler func(Message)

// Publisher sends messages with broker-level delivery acknowledgment.
type Publisher interface {
	// Publish sends payload to topic at QoS 1 and returns once the broker
	// acknowledged receipt, or with an error.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Connected reports whether the broker connection is currently open.
	Connected() bool
}

// Broker is a full MQTT session.
type Broker interface {
	Publisher

	// Connect opens the session. Subsequent connection losses are recovered
	// by the implementation, which re-establishes every subscription.
	Connect(ctx context.Context) error

	// Subscribe registers handler for topic filter at QoS 1. Subscriptions
	// made before Connect are applied once the session opens.
	Subscribe(topic string, handler MessageHandler) error

	// SetConnectionListener registers l for connection transitions. It must
	// be called before Connect.
	SetConnectionListener(l ConnectionListener)

	// Close disconnects and releases the session.
	Close()
}

// ConnectionListener is notified about broker connection transitions.
type ConnectionListener interface {
	OnConnect()
	OnConnectionLost(err error)
}
