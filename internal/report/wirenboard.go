package report

import (
	"time"

	"floradaemon/internal/sensor"
)

// Wiren Board topics are absolute and ignore the base topic.

func wirenControls(h *sensor.Handle) string {
	return "/devices/" + h.Name + "/controls"
}

func announceWirenBoard(_ Env, sensors []*sensor.Handle, _ time.Time) []Message {
	var msgs []Message
	for _, h := range sensors {
		msgs = append(msgs, retained("/devices/"+h.Name+"/meta/name", h.Name))

		controls := wirenControls(h)
		for _, p := range homieProperties() {
			info := paramTable[p]
			msgs = append(msgs, retained(controls+"/"+string(p)+"/meta/type", info.WirenType))
			if info.WirenUnits != "" {
				msgs = append(msgs, retained(controls+"/"+string(p)+"/meta/units", info.WirenUnits))
			}
		}
		msgs = append(msgs, retained(controls+"/timestamp/meta/type", "text"))
	}
	return msgs
}

func encodeWirenBoard(_ Env, r *sensor.Reading) []Message {
	controls := wirenControls(r.Sensor)

	msgs := make([]Message, 0, len(sensor.Parameters)+1)
	for _, p := range sensor.Parameters {
		msgs = append(msgs, Message{Topic: controls + "/" + string(p), Payload: []byte(r.Format(p)), Retain: true})
	}
	return append(msgs, Message{
		Topic:   controls + "/timestamp",
		Payload: []byte(r.Time.Format(time.DateTime)),
		Retain:  true,
	})
}
