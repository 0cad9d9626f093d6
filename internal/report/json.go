package report

import (
	"bytes"
	"encoding/json"
	"time"

	"floradaemon/internal/sensor"
)

const announceTopic = "$announce"

// sensorInfo is the per-sensor entry of the $announce document.
type sensorInfo struct {
	NamePretty     string `json:"name_pretty"`
	MAC            string `json:"mac"`
	Refresh        int    `json:"refresh"`
	LocationClean  string `json:"location_clean"`
	LocationPretty string `json:"location_pretty"`
	Firmware       string `json:"firmware"`
	Topic          string `json:"topic"`
}

func encodeMQTTJSON(env Env, r *sensor.Reading) []Message {
	return []Message{{
		Topic:   env.topic(r.Sensor.Name),
		Payload: mustJSON(valuesOf(r)),
	}}
}

// announceMQTTJSON publishes one object keyed by sensor name, in configuration order.
func announceMQTTJSON(env Env, sensors []*sensor.Handle, _ time.Time) []Message {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range sensors {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(h.Name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(mustJSON(sensorInfo{
			NamePretty:     h.NamePretty,
			MAC:            h.Address,
			Refresh:        int(env.Period / time.Second),
			LocationClean:  h.Location,
			LocationPretty: h.LocationPretty,
			Firmware:       h.Firmware(),
			Topic:          env.topic(h.Name),
		}))
	}
	buf.WriteByte('}')

	return []Message{{Topic: env.topic(announceTopic), Payload: buf.Bytes(), Retain: true}}
}

func willMQTTJSON(env Env) *Message {
	return &Message{Topic: env.topic(announceTopic), Payload: []byte("{}"), Retain: true}
}

// encodeThingsBoard sends the aggregate under the device's own identity.
func encodeThingsBoard(env Env, r *sensor.Reading) []Message {
	return []Message{{
		Topic:    env.BaseTopic,
		Payload:  mustJSON(valuesOf(r)),
		Identity: r.Sensor.Name,
	}}
}

// localDump is the record printed in local JSON mode.
type localDump struct {
	values
	Timestamp  string `json:"timestamp"`
	Name       string `json:"name"`
	NamePretty string `json:"name_pretty"`
	MAC        string `json:"mac"`
	Firmware   string `json:"firmware"`
}

// encodeLocalJSON returns a single message whose topic is the sensor name;
// the local sink prints it instead of publishing.
func encodeLocalJSON(_ Env, r *sensor.Reading) []Message {
	return []Message{{
		Topic: r.Sensor.Name,
		Payload: mustJSON(localDump{
			values:     valuesOf(r),
			Timestamp:  r.Time.Format(time.DateTime),
			Name:       r.Sensor.Name,
			NamePretty: r.Sensor.NamePretty,
			MAC:        r.Sensor.Address,
			Firmware:   r.Sensor.Firmware(),
		}),
	}}
}

// smarthomeValue is the mqtt-smarthome status payload.
type smarthomeValue struct {
	Val json.RawMessage `json:"val"`
	TS  int64           `json:"ts"`
}

func encodeSmarthome(env Env, r *sensor.Reading) []Message {
	msgs := make([]Message, 0, len(sensor.Parameters))
	for _, p := range sensor.Parameters {
		msgs = append(msgs, Message{
			Topic: env.topic("status", r.Sensor.Name, string(p)),
			Payload: mustJSON(smarthomeValue{
				Val: json.RawMessage(r.Format(p)),
				TS:  r.Time.UnixMilli(),
			}),
			Retain: true,
		})
	}
	return msgs
}

func willSmarthome(env Env) *Message {
	return &Message{Topic: env.topic("connected"), Payload: []byte("0"), Retain: true}
}

func onlineSmarthome(env Env) []Message {
	return []Message{{Topic: env.topic("connected"), Payload: []byte("1"), Retain: true}}
}

func offlineSmarthome(env Env, _ []*sensor.Handle) []Message {
	return []Message{{Topic: env.topic("connected"), Payload: []byte("0"), Retain: true}}
}
