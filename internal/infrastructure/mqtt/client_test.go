package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/config"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:     true,
		TopicPrefix: "remoterelay-test",
		Broker:      config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "remoterelay-test"},
		QoS:         1,
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers = %v, want [tcp://localhost:1883]", opts.Servers)
	}
	if opts.ClientID != "remoterelay-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "remoterelay-test")
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS min version not applied")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testMQTTConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics(cfg.TopicPrefix), cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "remoterelay-test/bridge/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "remoterelay-test/bridge/status")
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var body statusPayload
	if err := json.Unmarshal(opts.WillPayload, &body); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if body.Status != StatusOffline || body.Reason != "unexpected_disconnect" {
		t.Errorf("will = %+v, want offline/unexpected_disconnect", body)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testMQTTConfig(), subscriptions: map[string]subscription{}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{cfg: testMQTTConfig(), subscriptions: map[string]subscription{}}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want %v", err, ErrInvalidTopic)
	}
	if err := c.Subscribe("a/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v, want %v", err, ErrInvalidQoS)
	}
	if err := c.Subscribe("a/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want %v", err, ErrSubscribeFailed)
	}
	if err := c.Subscribe("a/#", 0, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want %v", err, ErrNotConnected)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want %v", err, ErrNotConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

// connectOrSkip connects to a local broker, skipping when none is listening.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	cfg := testMQTTConfig()
	cfg.Broker.ClientID = fmt.Sprintf("remoterelay-test-%d", time.Now().UnixNano())

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port), time.Second)
	if err != nil {
		t.Skipf("no MQTT broker on %s:%d: %v", cfg.Broker.Host, cfg.Broker.Port, err)
	}
	conn.Close()

	c, err := Connect(cfg)
	if err != nil {
		t.Skipf("MQTT broker not usable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBrokerRoundTrip(t *testing.T) {
	c := connectOrSkip(t)
	topics := c.Topics()

	received := make(chan string, 1)
	err := c.Subscribe(topics.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
		if id, ok := topics.DeviceIDFromCommandTopic(topic); ok {
			received <- id + ":" + string(payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := c.Publish(topics.DeviceCommand("pc-1"), []byte(`{"action":"turn_on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if want := `pc-1:{"action":"turn_on"}`; got != want {
			t.Errorf("received = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
