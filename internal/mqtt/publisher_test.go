package mqtt

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"floradaemon/internal/report"
)

type recordingBus struct {
	published  []report.Message
	identities []string
	failTopic  string
	closed     bool
}

func (b *recordingBus) Publish(msg report.Message) error {
	if msg.Topic == b.failTopic {
		return errors.New("broker rejected")
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *recordingBus) SwitchIdentity(username string) error {
	b.identities = append(b.identities, username)
	return nil
}

func (b *recordingBus) Disconnect() {
	b.closed = true
}

func TestPublisherDeliversInOrder(t *testing.T) {
	bus := &recordingBus{failTopic: "miflora/bad"}
	p := NewPublisher(bus, zerolog.New(io.Discard))

	err := p.Deliver([]report.Message{
		{Topic: "miflora/a", Payload: []byte("1")},
		{Topic: "miflora/bad", Payload: []byte("2")},
		{Topic: "miflora/c", Payload: []byte("3")},
	})
	if err == nil {
		t.Fatal("expected joined error for the failed message")
	}
	if len(bus.published) != 2 || bus.published[0].Topic != "miflora/a" || bus.published[1].Topic != "miflora/c" {
		t.Errorf("published = %+v", bus.published)
	}
	if len(bus.identities) != 0 {
		t.Errorf("unexpected identity switches: %v", bus.identities)
	}

	if err := p.Close(); err != nil || !bus.closed {
		t.Errorf("Close() = %v, disconnected = %v", err, bus.closed)
	}
}

func TestPublisherSwitchesIdentity(t *testing.T) {
	bus := &recordingBus{}
	p := NewPublisher(bus, zerolog.New(io.Discard))

	err := p.Deliver([]report.Message{
		{Topic: "v1/devices/me/telemetry", Payload: []byte("{}"), Identity: "Fern"},
		{Topic: "v1/devices/me/telemetry", Payload: []byte("{}"), Identity: "Basil"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(bus.identities) != 2 || bus.identities[0] != "Fern" || bus.identities[1] != "Basil" {
		t.Errorf("identities = %v", bus.identities)
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	if err := p.Deliver([]report.Message{{Topic: "Fern", Payload: []byte(`{"light":1}`)}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got, want := buf.String(), "Data for \"Fern\": {\"light\":1}\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestClientConfig(t *testing.T) {
	cfg := Config{Host: "broker.local", Port: 8883, UseTLS: true}
	if got := cfg.BrokerURL(); got != "ssl://broker.local:8883" {
		t.Errorf("BrokerURL = %q", got)
	}

	if _, err := New(Config{}, zerolog.New(io.Discard)); err == nil {
		t.Error("expected error for missing hostname")
	}

	c, err := New(Config{Host: "localhost", Port: 1883}, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.GetConfig()
	if got.ClientID == "" || got.PublishTimeout != DefaultPublishTimeout {
		t.Errorf("defaults not applied: %+v", got)
	}
	if c.IsConnected() {
		t.Error("new client must not report connected")
	}
	if err := c.Publish(report.Message{Topic: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish before Connect = %v", err)
	}
	c.Disconnect()
}

func TestClientTLSMissingCA(t *testing.T) {
	_, err := New(Config{Host: "localhost", Port: 8883, UseTLS: true, TLSCACert: "/nonexistent/ca.pem"}, zerolog.New(io.Discard))
	if err == nil {
		t.Error("expected error for unreadable CA file")
	}
}

func TestSessionsCarryDeviceWills(t *testing.T) {
	fernWill := report.Message{Topic: "homie/fern/$state", Payload: []byte("disconnected"), QoS: 1, Retain: true}
	basilWill := report.Message{Topic: "homie/basil/$state", Payload: []byte("disconnected"), QoS: 1, Retain: true}

	s, err := NewSessions(Config{Host: "localhost", Port: 1883, ClientID: "flora"}, []report.Session{
		{Key: "fern", Will: &fernWill},
		{Key: "basil", Will: &basilWill},
	}, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	if w := s.Shared().GetConfig().Will; w != nil {
		t.Errorf("shared session will = %+v, want none", w)
	}

	for _, tt := range []struct {
		key  string
		will *report.Message
	}{
		{"fern", &fernWill},
		{"basil", &basilWill},
	} {
		c, ok := s.Device(tt.key)
		if !ok {
			t.Fatalf("no session for %s", tt.key)
		}
		cfg := c.GetConfig()
		if cfg.Will == nil || cfg.Will.Topic != tt.will.Topic || string(cfg.Will.Payload) != "disconnected" || !cfg.Will.Retain {
			t.Errorf("%s will = %+v", tt.key, cfg.Will)
		}
		if cfg.ClientID != "flora-"+tt.key {
			t.Errorf("%s client id = %q", tt.key, cfg.ClientID)
		}
	}

	if err := s.Publish(report.Message{Topic: "x", Session: "rose"}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Publish to unknown session = %v", err)
	}
	if err := s.Publish(report.Message{Topic: "x", Session: "fern"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish before Connect = %v", err)
	}
	s.Disconnect()
}

func TestSessionsRejectDuplicateKeys(t *testing.T) {
	_, err := NewSessions(Config{Host: "localhost", Port: 1883}, []report.Session{{Key: "fern"}, {Key: "fern"}}, zerolog.New(io.Discard))
	if err == nil {
		t.Error("expected error for duplicate session key")
	}
}
