package report

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned for reporting methods outside the closed set.
var ErrInvalidMode = errors.New("invalid reporting method")

// Mode selects the topic and payload convention used to publish readings.
type Mode string

const (
	MQTTJSON      Mode = "mqtt-json"
	Homie         Mode = "mqtt-homie"
	Smarthome     Mode = "mqtt-smarthome"
	HomeAssistant Mode = "homeassistant-mqtt"
	ThingsBoard   Mode = "thingsboard-json"
	WirenBoard    Mode = "wirenboard-mqtt"
	LocalJSON     Mode = "json"
)

// Modes lists every supported mode.
var Modes = []Mode{MQTTJSON, Homie, Smarthome, HomeAssistant, ThingsBoard, WirenBoard, LocalJSON}

// aliases maps descriptive names onto modes.
var aliases = map[string]Mode{
	"aggregate-json":               MQTTJSON,
	"self-describing-discovery":    Homie,
	"per-param-retained-discovery": Smarthome,
	"home-automation-discovery":    HomeAssistant,
	"flat-timestamped-retained":    WirenBoard,
	"local-json-dump":              LocalJSON,
}

// ParseMode resolves a configured reporting method.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if m, ok := aliases[name]; ok {
		return m, nil
	}
	for _, m := range Modes {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// UsesBus reports whether the mode publishes to the message bus.
func (m Mode) UsesBus() bool {
	return m != LocalJSON
}

// DefaultBaseTopic is used when the configuration sets no base topic.
func (m Mode) DefaultBaseTopic() string {
	switch m {
	case Homie:
		return "homie"
	case HomeAssistant:
		return "homeassistant"
	case ThingsBoard:
		return "v1/devices/me/telemetry"
	case WirenBoard, LocalJSON:
		return ""
	default:
		return "miflora"
	}
}

// IgnoresBaseTopic reports whether a configured base topic has no effect.
func (m Mode) IgnoresBaseTopic() bool {
	return m == WirenBoard || m == LocalJSON
}

func (m Mode) String() string {
	return string(m)
}
