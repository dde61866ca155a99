package telemetry

import (
	"encoding/json"
	"strconv"
)

// Reading is the telemetry record served to clients.
// Temp and Humidity are nil until the climate sensor has answered once.
type Reading struct {
	Temp     *float64
	Humidity *float64
	Soil     int
}

// readingJSON fixes the wire field names.
type readingJSON struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"hum"`
	Soil     int      `json:"soil"`
}

// MarshalJSON encodes {"temp": <num|null>, "hum": <num|null>, "soil": <int>}.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{Temp: r.Temp, Humidity: r.Humidity, Soil: r.Soil})
}

// UnmarshalJSON decodes the wire form.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var rj readingJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	r.Temp, r.Humidity, r.Soil = rj.Temp, rj.Humidity, rj.Soil
	return nil
}

// String renders the reading for log lines.
func (r Reading) String() string {
	return "temp=" + formatOptional(r.Temp) + " hum=" + formatOptional(r.Humidity) + " soil=" + strconv.Itoa(r.Soil) + "%"
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
