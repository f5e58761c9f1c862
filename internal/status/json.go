package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
// Lifecycle events deliberately carry configuration and duty-cycle state
// only — measurements stay local to the daemon's log.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	FlipPoint     int           `json:"flip_point"`
	PendingFlip   *int          `json:"pending_flip_point,omitempty"`
	DutyPercent   float64       `json:"duty_percent"`
	Reconfig      *ReconfigJSON `json:"last_reconfig,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// ReconfigJSON is the JSON representation of the last duty-cycle swap.
type ReconfigJSON struct {
	Outcome string `json:"outcome"`
	From    int    `json:"from"`
	To      int    `json:"to"`
	Error   string `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Engine        string `json:"engine"`
	Chip          string `json:"chip"`
	PinZeroCross  int    `json:"pin_zero_cross"`
	PinRelay      int    `json:"pin_relay"`
	CycleLength   int    `json:"cycle_length"`
	CommitDelayUs int64  `json:"commit_delay_us"`
	GlitchUs      int64  `json:"glitch_us"`
	StatusMs      int64  `json:"status_ms"`
	Broker        string `json:"broker"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		FlipPoint:     snap.FlipPoint,
		DutyPercent:   snap.DutyPercent,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Engine:        snap.Config.Engine,
			Chip:          snap.Config.Chip,
			PinZeroCross:  snap.Config.PinZeroCross,
			PinRelay:      snap.Config.PinRelay,
			CycleLength:   snap.Config.CycleLength,
			CommitDelayUs: snap.Config.CommitDelayUs,
			GlitchUs:      snap.Config.GlitchUs,
			StatusMs:      snap.Config.StatusMs,
			Broker:        snap.Config.Broker,
		},
	}
	if snap.PendingFlip >= 0 {
		p := snap.PendingFlip
		inner.PendingFlip = &p
	}
	if snap.LastReconfig != nil {
		inner.Reconfig = &ReconfigJSON{
			Outcome: snap.LastReconfig.Outcome,
			From:    snap.LastReconfig.From,
			To:      snap.LastReconfig.To,
			Error:   snap.LastReconfig.Err,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON status, for one-shot CLI output.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT lifecycle event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
