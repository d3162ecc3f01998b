package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Ready         bool         `json:"ready"`
	Outputs       OutputsJSON  `json:"outputs"`
	SafetyOff     SafetyJSON   `json:"safety_off"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// OutputsJSON reports commanded modes and actual line levels.
type OutputsJSON struct {
	LED               string `json:"led"`
	LEDOn             bool   `json:"led_on"`
	Relay             string `json:"relay"`
	RelayOn           bool   `json:"relay_on"`
	ShutdownRequested bool   `json:"shutdown_requested"`
}

// SafetyJSON reports the safety power-off countdown.
type SafetyJSON struct {
	Enabled        bool  `json:"enabled"`
	RemainingTicks int32 `json:"remaining_ticks"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PowerOn            int `json:"power_on"`
	ShutdownRequested  int `json:"shutdown_requested"`
	ConfirmedPowerOff  int `json:"confirmed_power_off"`
	SafetyTimeoutOff   int `json:"safety_timeout_off"`
	InvalidStateResets int `json:"invalid_state_resets"`
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
	Backend     string `json:"backend"`
	TickMs      int64  `json:"tick_ms"`
	PollMs      int64  `json:"poll_ms"`
	DebounceUs  int64  `json:"debounce_us"`
	FlashMs     int64  `json:"flash_ms"`
	SafetyOffMs int64  `json:"safety_off_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	Topic       string `json:"topic"`
	HTTPPort    string `json:"http_port"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	p := snap.Power
	c := p.Counts

	return StatusInner{
		State: orUnknown(string(p.State)),
		Ready: snap.Polled,
		Outputs: OutputsJSON{
			LED:               orUnknown(string(p.LED)),
			LEDOn:             p.LEDOn,
			Relay:             orUnknown(string(p.Relay)),
			RelayOn:           p.RelayOn,
			ShutdownRequested: p.ShutdownRequested,
		},
		SafetyOff: SafetyJSON{
			Enabled:        p.SafetyOffEnabled,
			RemainingTicks: p.SafetyOffRemaining,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			PowerOn:            c.PowerOn,
			ShutdownRequested:  c.ShutdownRequested,
			ConfirmedPowerOff:  c.ConfirmedPowerOff,
			SafetyTimeoutOff:   c.SafetyTimeoutOff,
			InvalidStateResets: c.InvalidStateResets,
		},
		Config: ConfigJSON{
			Backend:     snap.Config.Backend,
			TickMs:      snap.Config.TickMs,
			PollMs:      snap.Config.PollMs,
			DebounceUs:  snap.Config.DebounceUs,
			FlashMs:     snap.Config.FlashMs,
			SafetyOffMs: snap.Config.SafetyOffMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			Topic:       snap.Config.Topic,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
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
