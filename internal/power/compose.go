package power

import (
	"context"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/collector"
)

// ProcessSampler is the source of per-process CPU and memory snapshots.
type ProcessSampler interface {
	Sample(delay time.Duration) ([]collector.ProcessSnapshot, error)
}

// TelemetryReader is the source of hardware telemetry.
type TelemetryReader interface {
	Read(core int) collector.TelemetrySample
}

// Composer joins one telemetry sample with one process sample through the
// power model.
type Composer struct {
	procs       ProcessSampler
	telemetry   TelemetryReader
	model       *Model
	coreID      int
	sampleDelay time.Duration
	now         func() time.Time
}

// NewComposer creates a Composer that reads telemetry from coreID and
// samples processes over sampleDelay.
func NewComposer(procs ProcessSampler, telemetry TelemetryReader, model *Model, coreID int, sampleDelay time.Duration) *Composer {
	return &Composer{
		procs:       procs,
		telemetry:   telemetry,
		model:       model,
		coreID:      coreID,
		sampleDelay: sampleDelay,
		now:         time.Now,
	}
}

// Compose produces one PowerState per sampled process. Telemetry is read once
// and the timestamp captured once, so every record shares them. Output order
// follows the process sampler.
func (c *Composer) Compose(coreID int) ([]PowerState, error) {
	tel := c.telemetry.Read(coreID)
	ts := c.now()

	procs, err := c.procs.Sample(c.sampleDelay)
	if err != nil {
		return nil, err
	}

	states := make([]PowerState, 0, len(procs))
	for _, p := range procs {
		pDyn := c.model.DynamicPower(tel.VoltageV, tel.FreqHz, p.CPUPercent/100)
		pLeak := c.model.LeakagePower(p.MemKB, tel.VoltageV)
		states = append(states, PowerState{
			Timestamp:    ts,
			PID:          p.PID,
			Name:         p.Name,
			CPUPercent:   p.CPUPercent,
			MemKB:        p.MemKB,
			VoltageV:     tel.VoltageV,
			FreqHz:       tel.FreqHz,
			TemperatureC: tel.TemperatureC,
			PDynMW:       pDyn,
			PLeakMW:      pLeak,
			PTotalMW:     pDyn + pLeak,
		})
	}
	return states, nil
}

// Cycle composes for the configured core.
func (c *Composer) Cycle(context.Context) ([]PowerState, error) {
	return c.Compose(c.coreID)
}

// ProcessView samples processes only. Its records carry the process fields
// and a timestamp; telemetry and power fields are zero.
type ProcessView struct {
	procs       ProcessSampler
	sampleDelay time.Duration
	now         func() time.Time
}

// NewProcessView creates a ProcessView over procs.
func NewProcessView(procs ProcessSampler, sampleDelay time.Duration) *ProcessView {
	return &ProcessView{procs: procs, sampleDelay: sampleDelay, now: time.Now}
}

// Cycle samples the process table once.
func (v *ProcessView) Cycle(context.Context) ([]PowerState, error) {
	ts := v.now()
	procs, err := v.procs.Sample(v.sampleDelay)
	if err != nil {
		return nil, err
	}
	states := make([]PowerState, len(procs))
	for i, p := range procs {
		states[i] = PowerState{
			Timestamp:  ts,
			PID:        p.PID,
			Name:       p.Name,
			CPUPercent: p.CPUPercent,
			MemKB:      p.MemKB,
		}
	}
	return states, nil
}
