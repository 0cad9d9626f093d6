package report

import (
	"strconv"

	"floradaemon/internal/sensor"
)

// paramInfo describes how each parameter is announced to downstream systems.
type paramInfo struct {
	Unit        string
	DeviceClass string // Home Assistant, optional

	HomieDatatype string
	HomieFormat   string

	WirenType  string
	WirenUnits string // optional
}

var paramTable = map[sensor.Parameter]paramInfo{
	sensor.Light: {
		Unit: "lux", DeviceClass: "illuminance",
		HomieDatatype: "integer", HomieFormat: "0:50000",
		WirenType: "value", WirenUnits: "lux",
	},
	sensor.Temperature: {
		Unit: "°C", DeviceClass: "temperature",
		HomieDatatype: "float", HomieFormat: "*",
		WirenType: "temperature",
	},
	sensor.Moisture: {
		Unit: "%", DeviceClass: "humidity",
		HomieDatatype: "integer", HomieFormat: "0:100",
		WirenType: "rel_humidity",
	},
	sensor.Conductivity: {
		Unit:          "µS/cm",
		HomieDatatype: "integer", HomieFormat: "0:*",
		WirenType: "value", WirenUnits: "µS/cm",
	},
	sensor.Battery: {
		Unit: "%", DeviceClass: "battery",
		HomieDatatype: "integer", HomieFormat: "0:100",
		WirenType: "value", WirenUnits: "%",
	},
}

// celsius marshals with exactly one decimal place.
type celsius float64

func (c celsius) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(c), 'f', 1, 64)), nil
}

// values is the aggregate JSON object, keys in wire order.
type values struct {
	Light        int     `json:"light"`
	Temperature  celsius `json:"temperature"`
	Moisture     int     `json:"moisture"`
	Conductivity int     `json:"conductivity"`
	Battery      int     `json:"battery"`
}

func valuesOf(r *sensor.Reading) values {
	return values{
		Light:        r.Light,
		Temperature:  celsius(r.Temperature),
		Moisture:     r.Moisture,
		Conductivity: r.Conductivity,
		Battery:      r.Battery,
	}
}
