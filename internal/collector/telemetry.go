package collector

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// DefaultVoltage is returned by Voltage when no regulator source is readable.
const DefaultVoltage = 0.95

// TelemetryConfig lists the sysfs sources tried, in order, for each reading.
// Paths are relative to the sysfs root; "{core}" is replaced by the core index.
type TelemetryConfig struct {
	DefaultVoltage     float64
	VoltageSources     []string // microvolts
	FrequencySources   []string // kHz
	TemperatureSources []string // millidegrees Celsius
	UseSensors         bool     // fall back to hwmon sensor enumeration for temperature
}

// DefaultTelemetryConfig returns the source hierarchy for a Raspberry Pi class
// SoC with cpufreq and a single thermal zone.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		DefaultVoltage: DefaultVoltage,
		VoltageSources: []string{
			"class/regulator/regulator.0/microvolts",
			"class/regulator/regulator.1/microvolts",
		},
		FrequencySources: []string{
			"devices/system/cpu/cpu{core}/cpufreq/scaling_cur_freq",
			"devices/system/cpu/cpu{core}/cpufreq/cpuinfo_cur_freq",
		},
		TemperatureSources: []string{
			"class/thermal/thermal_zone0/temp",
		},
		UseSensors: true,
	}
}

// TelemetryReader reads voltage, frequency, and temperature. Every read
// degrades to a default value; nothing here returns an error.
type TelemetryReader struct {
	cfg     TelemetryConfig
	sensors func() ([]host.TemperatureStat, error)
	log     *slog.Logger
}

// NewTelemetryReader creates a reader for the given source hierarchy.
// A nil logger discards output.
func NewTelemetryReader(cfg TelemetryConfig, logger *slog.Logger) *TelemetryReader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DefaultVoltage <= 0 {
		cfg.DefaultVoltage = DefaultVoltage
	}
	r := &TelemetryReader{cfg: cfg, log: logger}
	if cfg.UseSensors {
		r.sensors = host.SensorsTemperatures
	}
	return r
}

// Voltage returns the core supply voltage in volts, or the configured
// default when no source yields a positive value.
func (r *TelemetryReader) Voltage(core int) float64 {
	if uv, ok := firstPositive(r.cfg.VoltageSources, core); ok {
		return uv / 1e6
	}
	r.log.Debug("voltage unavailable, using default", "core", core, "volts", r.cfg.DefaultVoltage)
	return r.cfg.DefaultVoltage
}

// Frequency returns the current clock of core in Hz, or 0 if unavailable.
func (r *TelemetryReader) Frequency(core int) float64 {
	if khz, ok := firstPositive(r.cfg.FrequencySources, core); ok {
		return khz * 1e3
	}
	r.log.Debug("frequency unavailable", "core", core)
	return 0
}

// Temperature returns the SoC temperature in degrees Celsius, or 0 if
// unavailable.
func (r *TelemetryReader) Temperature() float64 {
	if milli, ok := firstPositive(r.cfg.TemperatureSources, 0); ok {
		return milli / 1e3
	}
	if r.sensors != nil {
		if c, ok := pickSensor(r.sensors()); ok {
			return c
		}
	}
	r.log.Debug("temperature unavailable")
	return 0
}

// Read returns all three readings for core.
func (r *TelemetryReader) Read(core int) TelemetrySample {
	return TelemetrySample{
		CoreID:       core,
		VoltageV:     r.Voltage(core),
		FreqHz:       r.Frequency(core),
		TemperatureC: r.Temperature(),
	}
}

// ReadAllCores returns a sample for every CPU listed under
// devices/system/cpu. Temperature is SoC-wide and read once.
func (r *TelemetryReader) ReadAllCores() map[int]TelemetrySample {
	cores := CoreIDs()
	temp := r.Temperature()
	out := make(map[int]TelemetrySample, len(cores))
	for _, id := range cores {
		out[id] = TelemetrySample{
			CoreID:       id,
			VoltageV:     r.Voltage(id),
			FreqHz:       r.Frequency(id),
			TemperatureC: temp,
		}
	}
	return out
}

// CoreIDs returns the indices of the CPUs present under sysfs.
func CoreIDs() []int {
	dirs, err := filepath.Glob(filepath.Join(sysfsRoot, "devices/system/cpu/cpu[0-9]*"))
	if err != nil {
		return nil
	}
	ids := make([]int, 0, len(dirs))
	for _, dir := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "cpu"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func firstPositive(sources []string, core int) (float64, bool) {
	for _, src := range sources {
		path := filepath.Join(sysfsRoot, strings.ReplaceAll(src, "{core}", strconv.Itoa(core)))
		v, err := readFloatFile(path)
		if err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// pickSensor prefers CPU/SoC sensors and otherwise takes the first positive
// reading. gopsutil may return readings alongside a partial-read error.
func pickSensor(stats []host.TemperatureStat, _ error) (float64, bool) {
	var fallback float64
	for _, s := range stats {
		if s.Temperature <= 0 {
			continue
		}
		key := strings.ToLower(s.SensorKey)
		for _, want := range []string{"cpu", "soc", "coretemp", "k10temp", "package"} {
			if strings.Contains(key, want) {
				return s.Temperature, true
			}
		}
		if fallback == 0 {
			fallback = s.Temperature
		}
	}
	return fallback, fallback > 0
}
