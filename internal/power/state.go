package power

import "time"

// PowerState is the per-process power estimate for one sampling cycle. All
// records of a cycle share Timestamp and the telemetry fields.
type PowerState struct {
	Timestamp    time.Time `json:"timestamp"`
	PID          int       `json:"pid"`
	Name         string    `json:"name"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemKB        int64     `json:"mem_kb"`
	VoltageV     float64   `json:"voltage_v"`
	FreqHz       float64   `json:"freq_hz"`
	TemperatureC float64   `json:"temperature_c"`
	PDynMW       float64   `json:"p_dyn_mw"`
	PLeakMW      float64   `json:"p_leak_mw"`
	PTotalMW     float64   `json:"p_total_mw"`
}
