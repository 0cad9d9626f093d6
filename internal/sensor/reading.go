package sensor

import (
	"strconv"
	"time"
)

// Parameter is one of the values a plant sensor reports.
type Parameter string

const (
	Light        Parameter = "light"
	Temperature  Parameter = "temperature"
	Moisture     Parameter = "moisture"
	Conductivity Parameter = "conductivity"
	Battery      Parameter = "battery"
)

// Parameters lists the tracked parameters in wire order.
var Parameters = []Parameter{Light, Temperature, Moisture, Conductivity, Battery}

// Reading is one complete set of values captured from a sensor in a sweep.
// A failed fetch produces no Reading, so every field is always populated.
type Reading struct {
	Sensor *Handle
	Time   time.Time

	Light        int     // lux
	Temperature  float64 // °C
	Moisture     int     // %
	Conductivity int     // µS/cm
	Battery      int     // %
}

// Value returns the numeric value of p.
func (r *Reading) Value(p Parameter) float64 {
	switch p {
	case Light:
		return float64(r.Light)
	case Temperature:
		return r.Temperature
	case Moisture:
		return float64(r.Moisture)
	case Conductivity:
		return float64(r.Conductivity)
	case Battery:
		return float64(r.Battery)
	}
	return 0
}

// Format renders p the way text payloads carry it: integers without a
// fractional part and temperature with exactly one decimal place.
func (r *Reading) Format(p Parameter) string {
	if p == Temperature {
		return strconv.FormatFloat(r.Temperature, 'f', 1, 64)
	}
	return strconv.Itoa(int(r.Value(p)))
}
