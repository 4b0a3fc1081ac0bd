// Package bus is the event bus every SPEC_FULL component publishes and
// subscribes through: camera status, recorder start/stop/complete, and
// Segment Index file/tier-check notifications (spec.md §6). It wraps an
// embedded NATS server the same way Spatial-NVR's internal/core/eventbus.go
// does, adapted from that package's slog-based logging to this repo's plain
// log.Printf convention.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Config configures the embedded NATS server backing the bus.
type Config struct {
	Host     string
	Port     int // 0 selects the NATS default port, 4222
	StoreDir string
}

// Bus wraps an embedded NATS server and connection for process-internal
// publish/subscribe. One Bus per daemon process.
type Bus struct {
	server *server.Server
	conn   *nats.Conn

	subsMu sync.Mutex
	subs   map[string][]*nats.Subscription
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}
	if cfg.StoreDir != "" {
		opts.JetStream = true
		opts.StoreDir = cfg.StoreDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded nats server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after 2s")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded nats: %v", err)
	}

	log.Printf("[bus] started at %s", ns.ClientURL())

	return &Bus{
		server: ns,
		conn:   nc,
		subs:   make(map[string][]*nats.Subscription),
	}, nil
}

// Publish marshals data as JSON and publishes it to subject.
func (b *Bus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %v", subject, err)
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %v", subject, err)
	}
	return nil
}

// PublishEmpty publishes a zero-length payload, for fire-and-forget signals
// like tier.check.* (spec.md §6 lists it as carrying no payload).
func (b *Bus) PublishEmpty(subject string) error {
	if err := b.conn.Publish(subject, nil); err != nil {
		return fmt.Errorf("failed to publish to %s: %v", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject and tracks the subscription so
// Unsubscribe can cancel it.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %v", subject, err)
	}
	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// SubscribeJSON subscribes to subject and unmarshals each message into a
// freshly allocated T before calling handler.
func SubscribeJSON[T any](b *Bus, subject string, handler func(T)) (*nats.Subscription, error) {
	return b.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Printf("[bus] failed to unmarshal message on %s: %v", subject, err)
			return
		}
		handler(v)
	})
}

// QueueSubscribe subscribes with a queue group, so only one of several
// subscribers in the group receives each message.
func (b *Bus) QueueSubscribe(subject, queue string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to queue-subscribe to %s: %v", subject, err)
	}
	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe cancels every subscription registered for subject.
func (b *Bus) Unsubscribe(subject string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, sub := range b.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(b.subs, subject)
}

// Stop drains the connection and shuts down the embedded server.
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	log.Printf("[bus] stopped")
}

// ClientURL returns the embedded server's client connect URL, useful for
// auxiliary CLI tools (cmd/nvrctl) that want to connect directly.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}
