// Package driver runs the sampling pipeline on a fixed cadence and hands
// each cycle's records to a sink.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

// State is the lifecycle state of a Driver.
type State int

const (
	Idle State = iota
	Running
	Stopped   // duration elapsed
	Cancelled // context cancelled
	Failed    // sink write failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Source produces one batch of records per call.
type Source interface {
	Cycle(ctx context.Context) ([]power.PowerState, error)
}

// Config sets the session cadence.
type Config struct {
	Interval time.Duration
	// Duration bounds the session. Zero runs until the context is cancelled.
	Duration time.Duration
}

// CycleStats describes one completed cycle.
type CycleStats struct {
	Index   int
	Started time.Time
	Took    time.Duration
	Records int
}

// Driver runs Source → Sink sequentially: a new cycle never starts before
// the previous one, including its measurement delay, has finished.
type Driver struct {
	cfg    Config
	source Source
	sink   Sink
	log    *slog.Logger

	// OnCycle, if set, is called after every cycle whose batch reached the sink.
	OnCycle func(CycleStats)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	state   State
	cycles  int
	skipped int
}

// New creates an idle Driver. A nil logger discards output.
func New(source Source, sink Sink, cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		cfg:    cfg,
		source: source,
		sink:   sink,
		log:    logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Cycles returns the number of batches delivered to the sink.
func (d *Driver) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// Skipped returns the number of cycles dropped because the source failed.
func (d *Driver) Skipped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipped
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run executes cycles until the duration elapses, ctx is cancelled, or the
// sink fails. Both bounds are checked only between cycles, so a session may
// overrun its duration by up to one interval. Cancellation and normal
// completion return nil; a sink error is returned and leaves the driver
// Failed. A source error skips that cycle's batch and is not fatal.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Idle {
		s := d.state
		d.mu.Unlock()
		return fmt.Errorf("driver already %s", s)
	}
	if d.cfg.Interval <= 0 {
		d.mu.Unlock()
		return errors.New("interval must be positive")
	}
	d.state = Running
	d.mu.Unlock()

	d.log.Info("session started", "interval", d.cfg.Interval, "duration", d.cfg.Duration)

	start := d.now()
	next := start
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			d.setState(Cancelled)
			d.log.Info("session cancelled", "cycles", d.Cycles())
			return nil
		}
		if d.cfg.Duration > 0 && d.now().Sub(start) >= d.cfg.Duration {
			d.setState(Stopped)
			d.log.Info("session completed", "cycles", d.Cycles())
			return nil
		}

		if err := d.runCycle(ctx, index); err != nil {
			d.setState(Failed)
			d.log.Error("session failed", "cycle", index, "err", err)
			return err
		}

		// Ticks missed by an overrunning cycle are dropped, not replayed.
		now := d.now()
		next = next.Add(d.cfg.Interval)
		for !next.After(now) {
			next = next.Add(d.cfg.Interval)
		}
		d.sleep(ctx, next.Sub(now))
	}
}

func (d *Driver) runCycle(ctx context.Context, index int) error {
	started := d.now()
	states, err := d.source.Cycle(ctx)
	if err != nil {
		d.mu.Lock()
		d.skipped++
		d.mu.Unlock()
		d.log.Warn("cycle skipped", "cycle", index, "err", err)
		return nil
	}
	if err := d.sink.WriteCycle(states); err != nil {
		return fmt.Errorf("write cycle %d: %w", index, err)
	}

	d.mu.Lock()
	d.cycles++
	d.mu.Unlock()

	stats := CycleStats{
		Index:   index,
		Started: started,
		Took:    d.now().Sub(started),
		Records: len(states),
	}
	d.log.Debug("cycle", "index", index, "records", stats.Records, "took", stats.Took)
	if d.OnCycle != nil {
		d.OnCycle(stats)
	}
	return nil
}
