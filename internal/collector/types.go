package collector

// ProcessSnapshot holds one process's CPU utilization over a sampling window
// and its resident memory at the end of that window.
type ProcessSnapshot struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	MemKB      int64   `json:"mem_kb"`
}

// TelemetrySample holds the hardware state read for one core in one cycle.
// FreqHz and TemperatureC are zero when unavailable.
type TelemetrySample struct {
	CoreID       int     `json:"core_id"`
	VoltageV     float64 `json:"voltage_v"`
	FreqHz       float64 `json:"freq_hz"`
	TemperatureC float64 `json:"temperature_c"`
}
