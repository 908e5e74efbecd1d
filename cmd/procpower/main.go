package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/collector"
	"github.com/cptspacemanspiff/procpower/internal/config"
	"github.com/cptspacemanspiff/procpower/internal/driver"
	"github.com/cptspacemanspiff/procpower/internal/logging"
	"github.com/cptspacemanspiff/procpower/internal/power"
	"github.com/cptspacemanspiff/procpower/internal/powerlog"
	"github.com/cptspacemanspiff/procpower/internal/render"
)

const usageText = `procpower - per-process power estimator

Usage:
  procpower ps    [-r] [-interval=1.0] [-core=0] [-delay=0.05]
  procpower power [-r] [-interval=1.0] [-core=0] [-delay=0.05]
  procpower log   [-interval=1.0] [-duration=10.0] [-log-dir=logs]

Common flags:
  -config path   TOML or YAML config file
  -verbose       enable all log topics
  -log a,b       enable log topics: sampler,telemetry,driver
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	refresh    bool
	verbose    bool
	logTopics  string
}

// run executes one subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stdout, usageText)
		return 0
	}

	cmd := args[0]
	switch cmd {
	case "ps", "power", "log":
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(stderr, usageText)
		return 2
	}

	cfg, opts, err := parseFlags(cmd, args[1:], stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "procpower %s: %v\n", cmd, err)
		return 2
	}

	logger := logging.New(stderr, opts.verbose, opts.logTopics)
	source := newSource(cmd, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cmd == "log":
		err = runLog(ctx, source, cfg, stdout, logger)
	case opts.refresh:
		err = runLive(ctx, cmd, source, cfg, stdout, logger)
		if err == nil {
			fmt.Fprintln(stdout, "Live mode stopped.")
		}
	default:
		err = runOnce(ctx, cmd, source, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "procpower %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// parseFlags loads the optional config file and applies only the flags that
// were set on the command line over it.
func parseFlags(cmd string, args []string, stderr io.Writer) (*config.Config, options, error) {
	defaults := config.DefaultConfig()

	var opts options
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "TOML or YAML config file")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable all log topics")
	fs.StringVar(&opts.logTopics, "log", "", "comma-separated log topics")
	interval := fs.Float64("interval", defaults.Sampling.IntervalSeconds, "seconds between cycles")
	core := fs.Int("core", defaults.Sampling.CoreID, "core whose voltage and frequency are read")
	delay := fs.Float64("delay", defaults.Sampling.SampleDelaySeconds, "seconds between the two process snapshots")

	var duration *float64
	var logDir *string
	if cmd == "log" {
		duration = fs.Float64("duration", defaults.Sampling.DurationSeconds, "total logging time in seconds")
		logDir = fs.String("log-dir", defaults.Log.Dir, "directory for CSV logs")
	} else {
		fs.BoolVar(&opts.refresh, "refresh", false, "redraw the table every interval")
		fs.BoolVar(&opts.refresh, "r", false, "shorthand for -refresh")
	}

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if fs.NArg() > 0 {
		return nil, opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := defaults
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, opts, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			cfg.Sampling.IntervalSeconds = *interval
		case "core":
			cfg.Sampling.CoreID = *core
		case "delay":
			cfg.Sampling.SampleDelaySeconds = *delay
		case "duration":
			cfg.Sampling.DurationSeconds = *duration
		case "log-dir":
			cfg.Log.Dir = *logDir
		}
	})

	cfg, err := config.NormalizeAndValidate(cfg)
	if err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

func newSource(cmd string, cfg *config.Config, logger *slog.Logger) driver.Source {
	sampler := collector.NewProcessSampler(logging.Topic(logger, logging.TopicSampler))
	if cmd == "ps" {
		return power.NewProcessView(sampler, cfg.Sampling.SampleDelay())
	}
	telemetry := collector.NewTelemetryReader(cfg.Telemetry.CollectorConfig(), logging.Topic(logger, logging.TopicTelemetry))
	return power.NewComposer(sampler, telemetry, power.NewModel(cfg.Model), cfg.Sampling.CoreID, cfg.Sampling.SampleDelay())
}

func modeFor(cmd string) render.Mode {
	if cmd == "ps" {
		return render.ModePS
	}
	return render.ModePower
}

func runOnce(ctx context.Context, cmd string, source driver.Source, stdout io.Writer) error {
	states, err := source.Cycle(ctx)
	if err != nil {
		return err
	}
	render.NewText(stdout, modeFor(cmd), render.Banner(), 0).Render(states, false)
	return nil
}

// runLive redraws the table every interval until cancelled. Without a
// usable terminal it falls back to clearing and reprinting a text table.
func runLive(ctx context.Context, cmd string, source driver.Source, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	var draw driver.RenderFunc
	live, err := render.NewLive(modeFor(cmd), render.Banner(), cfg.Sampling.Interval())
	if err != nil {
		logger.Warn("full-screen mode unavailable, using text output", "err", err)
		draw = render.NewText(stdout, modeFor(cmd), render.Banner(), cfg.Sampling.Interval()).Render
	} else {
		defer live.Close()
		draw = live.Render
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if live != nil {
		go live.Watch(ctx, cancel)
	}

	d := driver.New(source, driver.Render(draw, true), driver.Config{
		Interval: cfg.Sampling.Interval(),
	}, logging.Topic(logger, logging.TopicDriver))
	return d.Run(ctx)
}

func runLog(ctx context.Context, source driver.Source, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	session, err := powerlog.Create(cfg.Log.Dir, time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Logging started: %s\n", session.Path())
	fmt.Fprintf(stdout, "Interval: %gs | Duration: %gs\n", cfg.Sampling.IntervalSeconds, cfg.Sampling.DurationSeconds)

	d := driver.New(source, session, driver.Config{
		Interval: cfg.Sampling.Interval(),
		Duration: cfg.Sampling.Duration(),
	}, logging.Topic(logger, logging.TopicDriver))
	runErr := d.Run(ctx)
	closeErr := session.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}

	fmt.Fprintf(stdout, "Logging completed: %s (%d cycles, %d skipped)\n", session.Path(), d.Cycles(), d.Skipped())
	return nil
}
