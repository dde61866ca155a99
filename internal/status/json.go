package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigation-node/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Pump          string            `json:"pump"`
	ControlActive bool              `json:"control_active"`
	DrySamples    int               `json:"dry_samples"`
	RunSeconds    float64           `json:"run_seconds"`
	Telemetry     telemetry.Reading `json:"telemetry"`
	LastEvent     *EventJSON        `json:"last_event,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Counts        CountsJSON        `json:"pump_counts"`
	Health        HealthJSON        `json:"health"`
	Network       *NetworkJSON      `json:"network,omitempty"`
	Config        ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// EventJSON is the JSON representation of the last pump transition.
type EventJSON struct {
	Timestamp  string  `json:"timestamp"`
	Type       string  `json:"type"`
	Reason     string  `json:"reason"`
	Moisture   int     `json:"moisture"`
	RunSeconds float64 `json:"run_seconds,omitempty"`
}

// CountsJSON is the JSON representation of pump transition counts.
type CountsJSON struct {
	Starts       int `json:"starts"`
	WetStops     int `json:"wet_stops"`
	TimeoutStops int `json:"timeout_stops"`
}

// HealthJSON reports hardware error counters.
type HealthJSON struct {
	Ticks           int `json:"ticks"`
	RelayFailures   int `json:"relay_failures"`
	ClimateFailures int `json:"climate_failures"`
	ADCFailures     int `json:"adc_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64  `json:"poll_ms"`
	WarmupMs      int64  `json:"warmup_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	RelayPin      int    `json:"relay_pin"`
	SensorBackend string `json:"sensor_backend"`
	CalDry        int    `json:"cal_dry"`
	CalWet        int    `json:"cal_wet"`
}

func buildInner(snap Snapshot) StatusInner {
	pump := string(snap.Controller.State)
	if pump == "" {
		pump = "UNKNOWN"
	}

	inner := StatusInner{
		Pump:          pump,
		ControlActive: snap.Controller.GateOpen,
		DrySamples:    snap.Controller.DrySamples,
		RunSeconds:    snap.RunTime().Seconds(),
		Telemetry:     snap.Reading,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Starts:       snap.Controller.Counts.Starts,
			WetStops:     snap.Controller.Counts.WetStops,
			TimeoutStops: snap.Controller.Counts.TimeoutStops,
		},
		Health: HealthJSON{
			Ticks:           snap.Health.Ticks,
			RelayFailures:   snap.Health.RelayFailures,
			ClimateFailures: snap.Health.Sensors.ClimateFailures,
			ADCFailures:     snap.Health.Sensors.ADCFailures,
		},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			WarmupMs:      snap.Config.WarmupMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			RelayPin:      snap.Config.RelayPin,
			SensorBackend: snap.Config.SensorBackend,
			CalDry:        snap.Config.CalDry,
			CalWet:        snap.Config.CalWet,
		},
	}

	if e := snap.LastEvent; e != nil {
		inner.LastEvent = &EventJSON{
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Type:       string(e.Type),
			Reason:     string(e.Reason),
			Moisture:   e.Moisture,
			RunSeconds: e.RunTime.Seconds(),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
