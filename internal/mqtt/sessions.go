package mqtt

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"floradaemon/internal/report"
)

// ErrUnknownSession is returned for messages addressed to a session that was never opened
var ErrUnknownSession = errors.New("unknown MQTT session")

// Sessions owns the shared broker session plus one session per device for
// conventions that give every device its own last will. It implements Bus.
type Sessions struct {
	shared  *Client
	devices map[string]*Client
	order   []string
}

// NewSessions creates the shared client from cfg and a client per device
// session. Device clients reuse the broker settings under their own client
// ID and will. Nothing is connected yet.
func NewSessions(cfg Config, devices []report.Session, logger zerolog.Logger) (*Sessions, error) {
	shared, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Sessions{
		shared:  shared,
		devices: make(map[string]*Client, len(devices)),
	}

	base := shared.GetConfig()
	for _, d := range devices {
		if _, dup := s.devices[d.Key]; dup {
			return nil, fmt.Errorf("duplicate MQTT session %q", d.Key)
		}

		dcfg := base
		dcfg.ClientID = base.ClientID + "-" + d.Key
		dcfg.Will = d.Will

		client, err := New(dcfg, logger.With().Str("session", d.Key).Logger())
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", d.Key, err)
		}
		s.devices[d.Key] = client
		s.order = append(s.order, d.Key)
	}
	return s, nil
}

// Connect connects the shared session, then every device session in order.
func (s *Sessions) Connect() error {
	if err := s.shared.Connect(); err != nil {
		return err
	}
	for _, key := range s.order {
		if err := s.devices[key].Connect(); err != nil {
			return fmt.Errorf("session %s: %w", key, err)
		}
	}
	return nil
}

// Disconnect closes device sessions, then the shared one. Safe to call more than once.
func (s *Sessions) Disconnect() {
	for _, key := range s.order {
		s.devices[key].Disconnect()
	}
	s.shared.Disconnect()
}

// Publish sends msg on the session it names, or on the shared session.
func (s *Sessions) Publish(msg report.Message) error {
	if msg.Session == "" {
		return s.shared.Publish(msg)
	}
	client, ok := s.devices[msg.Session]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, msg.Session)
	}
	return client.Publish(msg)
}

// SwitchIdentity changes the credentials of the shared session.
func (s *Sessions) SwitchIdentity(username string) error {
	return s.shared.SwitchIdentity(username)
}

// Shared returns the shared session
func (s *Sessions) Shared() *Client {
	return s.shared
}

// Device returns the session opened for key
func (s *Sessions) Device(key string) (*Client, bool) {
	c, ok := s.devices[key]
	return c, ok
}
