package report

import (
	"strings"
	"time"

	"floradaemon/internal/sensor"
)

// discoveryPrefix is fixed by Home Assistant, independent of the base topic.
const discoveryPrefix = "homeassistant"

// expireAfter tells Home Assistant to mark a value unavailable after an hour without updates.
const expireAfter = "3600"

// DiscoveryConfig is the Home Assistant MQTT discovery payload for one entity.
type DiscoveryConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	UnitOfMeasurement string     `json:"unit_of_measurement"`
	DeviceClass       string     `json:"device_class,omitempty"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	Device            DeviceInfo `json:"device"`
	ExpireAfter       string     `json:"expire_after"`
}

// DeviceInfo groups the entities of one sensor into a device in Home Assistant
type DeviceInfo struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections"`
	Manufacturer string     `json:"manufacturer"`
	Name         string     `json:"name"`
	Model        string     `json:"model"`
	SWVersion    string     `json:"sw_version"`
}

func haStateTopic(env Env, h *sensor.Handle) string {
	return env.topic("sensor", strings.ToLower(h.Name), "state")
}

func encodeHomeAssistant(env Env, r *sensor.Reading) []Message {
	return []Message{{
		Topic:   haStateTopic(env, r.Sensor),
		Payload: mustJSON(valuesOf(r)),
	}}
}

func announceHomeAssistant(env Env, sensors []*sensor.Handle, _ time.Time) []Message {
	var msgs []Message
	for _, h := range sensors {
		device := deviceInfo(h)
		for _, p := range sensor.Parameters {
			topic := discoveryPrefix + "/sensor/" + strings.ToLower(h.Name) + "/" + string(p) + "/config"
			msgs = append(msgs, Message{
				Topic:   topic,
				Payload: mustJSON(generateDiscoveryConfig(env, h, p, device)),
				QoS:     1,
				Retain:  true,
			})
		}
	}
	return msgs
}

// generateDiscoveryConfig builds the discovery entity for parameter p of h.
func generateDiscoveryConfig(env Env, h *sensor.Handle, p sensor.Parameter, device DeviceInfo) DiscoveryConfig {
	info := paramTable[p]
	return DiscoveryConfig{
		Name:              h.Name + " " + titleCase(string(p)),
		UniqueID:          compactMAC(h.Address) + "-" + string(p),
		UnitOfMeasurement: info.Unit,
		DeviceClass:       info.DeviceClass,
		StateTopic:        haStateTopic(env, h),
		ValueTemplate:     "{{ value_json." + string(p) + " }}",
		Device:            device,
		ExpireAfter:       expireAfter,
	}
}

func deviceInfo(h *sensor.Handle) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{"MiFlora" + compactMAC(h.Address)},
		Connections:  [][]string{{"mac", h.Address}},
		Manufacturer: "Xiaomi",
		Name:         h.Name,
		Model:        "MiFlora Plant Sensor (HHCCJCY01)",
		SWVersion:    h.Firmware(),
	}
}

func compactMAC(mac string) string {
	return strings.ReplaceAll(strings.ToLower(mac), ":", "")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
