package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// startTestBroker runs an in-process MQTT broker on a free local port. The
// returned stop func may be called more than once.
func startTestBroker(t *testing.T) (*mochi.Server, string, func()) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pick port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("add auth hook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "t1", Address: addr})); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	var once sync.Once
	stop := func() { once.Do(func() { _ = server.Close() }) }
	t.Cleanup(stop)

	return server, "tcp://" + addr, stop
}

type connRecorder struct {
	mu        sync.Mutex
	connected int
	lost      int
}

func (r *connRecorder) OnConnect() {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
}

func (r *connRecorder) OnConnectionLost(error) {
	r.mu.Lock()
	r.lost++
	r.mu.Unlock()
}

func (r *connRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected, r.lost
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_RequiresBrokerURL(t *testing.T) {
	if _, err := New(Config{}, log.NewNoopLogger()); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestBroker_PublishWhileDisconnected(t *testing.T) {
	b, err := New(Config{BrokerURL: "tcp://127.0.0.1:1"}, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.Connected() {
		t.Fatal("new broker should not be connected")
	}
	err = b.Publish(context.Background(), "vending/shelf/1", []byte("1,1"))
	if !errors.Is(err, domain.ErrBrokerDisconnected) {
		t.Errorf("Publish() error = %v, want ErrBrokerDisconnected", err)
	}
}

func TestBroker_SubscribeAndPublish(t *testing.T) {
	server, url, _ := startTestBroker(t)

	b, err := New(Config{BrokerURL: url}, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &connRecorder{}
	b.SetConnectionListener(rec)

	var mu sync.Mutex
	var got []ports.Message
	// Subscribed before connect; applied by the connect handler.
	if err := b.Subscribe("vending/heartbit/+", func(m ports.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer b.Close()
	eventually(t, "connect callback", func() bool { c, _ := rec.counts(); return c == 1 })

	if err := server.Publish("vending/heartbit/4", []byte("alive"), false, 1); err != nil {
		t.Fatalf("server publish: %v", err)
	}
	eventually(t, "heartbeat delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0].Topic != "vending/heartbit/4" || string(got[0].Payload) != "alive" {
		t.Errorf("got message %s %q", got[0].Topic, got[0].Payload)
	}
	mu.Unlock()

	received := make(chan string, 1)
	if err := server.Subscribe("vending/shelf/+", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		received <- pk.TopicName + " " + string(pk.Payload)
	}); err != nil {
		t.Fatalf("server subscribe: %v", err)
	}

	if err := b.Publish(ctx, "vending/shelf/2", []byte("7,1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case msg := <-received:
		if msg != "vending/shelf/2 7,1" {
			t.Errorf("server received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received dispense command")
	}
}

func TestBroker_ConnectionLostNotifiesListener(t *testing.T) {
	_, url, stop := startTestBroker(t)

	b, err := New(Config{BrokerURL: url}, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &connRecorder{}
	b.SetConnectionListener(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer b.Close()
	eventually(t, "connect callback", func() bool { c, _ := rec.counts(); return c == 1 })

	stop()
	eventually(t, "connection lost callback", func() bool { _, l := rec.counts(); return l >= 1 })
	if b.Connected() {
		t.Error("Connected() should be false after the broker went away")
	}
}
