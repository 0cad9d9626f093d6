// Package report turns sensor readings into publish instructions for the
// configured reporting mode, and describes the sensor fleet to downstream
// systems that auto-discover it.
//
// Every function here is pure: the same inputs always produce byte-identical
// messages. Delivering the messages is the caller's job.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"floradaemon/internal/sensor"
)

// Message is one publish instruction.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Identity, when set, is the bus username the message must be sent under.
	Identity string

	// Session, when set, names the per-device bus session that carries the
	// message. Empty means the shared session.
	Session string
}

// Session is a per-device bus connection a convention needs, with the will
// the broker publishes for that device if the connection drops.
type Session struct {
	Key  string
	Will *Message
}

// Env is what a convention needs besides the reading itself.
type Env struct {
	BaseTopic string
	Period    time.Duration
}

func (e Env) topic(parts ...string) string {
	return strings.Join(append([]string{e.BaseTopic}, parts...), "/")
}

// convention implements one reporting mode. Nil hooks mean "nothing to send".
type convention struct {
	encode   func(env Env, r *sensor.Reading) []Message
	announce func(env Env, sensors []*sensor.Handle, now time.Time) []Message
	failure  func(env Env, h *sensor.Handle) []Message
	will     func(env Env) *Message
	online   func(env Env) []Message
	offline  func(env Env, sensors []*sensor.Handle) []Message
	sessions func(env Env, sensors []*sensor.Handle) []Session
}

var conventions = map[Mode]convention{
	MQTTJSON: {
		encode:   encodeMQTTJSON,
		announce: announceMQTTJSON,
		will:     willMQTTJSON,
	},
	Homie: {
		encode:   encodeHomie,
		announce: announceHomie,
		failure:  failureHomie,
		offline:  offlineHomie,
		sessions: sessionsHomie,
	},
	Smarthome: {
		encode:  encodeSmarthome,
		will:    willSmarthome,
		online:  onlineSmarthome,
		offline: offlineSmarthome,
	},
	HomeAssistant: {
		encode:   encodeHomeAssistant,
		announce: announceHomeAssistant,
	},
	ThingsBoard: {
		encode: encodeThingsBoard,
	},
	WirenBoard: {
		encode:   encodeWirenBoard,
		announce: announceWirenBoard,
	},
	LocalJSON: {
		encode: encodeLocalJSON,
	},
}

// Encoder binds a mode to its convention. Construction is the only place an
// unsupported mode is detected.
type Encoder struct {
	mode Mode
	env  Env
	conv convention
}

// NewEncoder creates an Encoder for mode. An empty baseTopic selects the
// mode's default.
func NewEncoder(mode Mode, baseTopic string, period time.Duration) (*Encoder, error) {
	conv, ok := conventions[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, string(mode))
	}
	if baseTopic == "" || mode.IgnoresBaseTopic() {
		baseTopic = mode.DefaultBaseTopic()
	}
	return &Encoder{
		mode: mode,
		env:  Env{BaseTopic: strings.ToLower(baseTopic), Period: period},
		conv: conv,
	}, nil
}

// Mode returns the encoder's mode
func (e *Encoder) Mode() Mode { return e.mode }

// BaseTopic returns the effective base topic
func (e *Encoder) BaseTopic() string { return e.env.BaseTopic }

// Encode maps a reading to the messages published for it in one sweep.
func (e *Encoder) Encode(r *sensor.Reading) []Message {
	return e.conv.encode(e.env, r)
}

// Announce describes the whole sensor set once at startup.
func (e *Encoder) Announce(sensors []*sensor.Handle, now time.Time) []Message {
	if e.conv.announce == nil {
		return nil
	}
	return e.conv.announce(e.env, sensors, now)
}

// Failure returns messages published when a sensor could not be read.
func (e *Encoder) Failure(h *sensor.Handle) []Message {
	if e.conv.failure == nil {
		return nil
	}
	return e.conv.failure(e.env, h)
}

// Will returns the last-will message registered at connect, if any.
func (e *Encoder) Will() *Message {
	if e.conv.will == nil {
		return nil
	}
	return e.conv.will(e.env)
}

// Online returns lifecycle messages published right after connecting.
func (e *Encoder) Online() []Message {
	if e.conv.online == nil {
		return nil
	}
	return e.conv.online(e.env)
}

// Offline returns lifecycle messages published before a graceful disconnect.
func (e *Encoder) Offline(sensors []*sensor.Handle) []Message {
	if e.conv.offline == nil {
		return nil
	}
	return e.conv.offline(e.env, sensors)
}

// Sessions lists the per-device sessions the mode needs, in sensor order.
// Modes that publish everything on the shared session return nil.
func (e *Encoder) Sessions(sensors []*sensor.Handle) []Session {
	if e.conv.sessions == nil {
		return nil
	}
	return e.conv.sessions(e.env, sensors)
}

// mustJSON marshals types that cannot fail to marshal.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("report: marshal %T: %v", v, err))
	}
	return b
}

func retained(topic, payload string) Message {
	return Message{Topic: topic, Payload: []byte(payload), QoS: 1, Retain: true}
}
