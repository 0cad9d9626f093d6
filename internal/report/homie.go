package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"floradaemon/internal/sensor"
)

const (
	homieVersion  = "3.0"
	homieNode     = "sensor"
	homieTimeFmt  = "2006-01-02T15:04:05-0700"
	homieFirmware = "miflora-firmware"
)

func homieDevice(env Env, h *sensor.Handle) string {
	return env.topic(homieSession(h))
}

// homieSession keys the device's own bus session, which carries its $state will.
func homieSession(h *sensor.Handle) string {
	return strings.ToLower(h.Name)
}

func onSession(key string, msgs []Message) []Message {
	for i := range msgs {
		msgs[i].Session = key
	}
	return msgs
}

func sessionsHomie(env Env, sensors []*sensor.Handle) []Session {
	sessions := make([]Session, 0, len(sensors))
	for _, h := range sensors {
		will := retained(homieDevice(env, h)+"/$state", "disconnected")
		sessions = append(sessions, Session{Key: homieSession(h), Will: &will})
	}
	return sessions
}

// homieProperties returns the parameters in announcement order (alphabetical).
func homieProperties() []sensor.Parameter {
	props := append([]sensor.Parameter(nil), sensor.Parameters...)
	sort.Slice(props, func(i, j int) bool { return props[i] < props[j] })
	return props
}

func announceHomie(env Env, sensors []*sensor.Handle, now time.Time) []Message {
	props := homieProperties()
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = string(p)
	}

	var msgs []Message
	for _, h := range sensors {
		device := homieDevice(env, h)
		node := device + "/" + homieNode

		deviceMsgs := []Message{
			retained(device+"/$homie", homieVersion),
			retained(device+"/$name", h.NamePretty),
			retained(device+"/$state", "ready"),
			retained(device+"/$mac", h.Address),
			retained(device+"/$stats", "interval,timestamp"),
			retained(device+"/$stats/interval", strconv.Itoa(int(env.Period/time.Second))),
			retained(device+"/$stats/timestamp", now.Format(homieTimeFmt)),
			retained(device+"/$fw/name", homieFirmware),
			retained(device+"/$fw/version", h.Firmware()),
			retained(device+"/$nodes", homieNode),
			retained(node+"/$name", "miflora"),
			retained(node+"/$properties", strings.Join(names, ",")),
		}

		for _, p := range props {
			info := paramTable[p]
			prop := node + "/" + string(p)
			deviceMsgs = append(deviceMsgs,
				retained(prop+"/$name", string(p)),
				retained(prop+"/$settable", "false"),
				retained(prop+"/$unit", info.Unit),
				retained(prop+"/$datatype", info.HomieDatatype),
				retained(prop+"/$format", info.HomieFormat),
				retained(prop+"/$retained", "true"),
			)
		}
		msgs = append(msgs, onSession(homieSession(h), deviceMsgs)...)
	}
	return msgs
}

func encodeHomie(env Env, r *sensor.Reading) []Message {
	device := homieDevice(env, r.Sensor)

	msgs := []Message{retained(device+"/$state", "ready")}
	for _, p := range sensor.Parameters {
		msgs = append(msgs, retained(device+"/"+homieNode+"/"+string(p), r.Format(p)))
	}
	msgs = append(msgs, retained(device+"/$stats/timestamp", r.Time.Format(homieTimeFmt)))
	return onSession(homieSession(r.Sensor), msgs)
}

func failureHomie(env Env, h *sensor.Handle) []Message {
	return onSession(homieSession(h), []Message{retained(homieDevice(env, h)+"/$state", "disconnected")})
}

func offlineHomie(env Env, sensors []*sensor.Handle) []Message {
	msgs := make([]Message, 0, len(sensors))
	for _, h := range sensors {
		msgs = append(msgs, failureHomie(env, h)...)
	}
	return msgs
}
