package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/config"
	"github.com/cptspacemanspiff/procpower/internal/logging"
	"github.com/cptspacemanspiff/procpower/internal/power"
	"github.com/cptspacemanspiff/procpower/internal/powerlog"
	"github.com/cptspacemanspiff/procpower/internal/render"
)

func TestRun_UsageAndUnknownCommand(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "no command", wantCode: 0, wantStdout: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: 0, wantStdout: "Usage:"},
		{name: "unknown", args: []string{"top"}, wantCode: 2, wantStderr: `unknown command "top"`},
		{name: "bad flag", args: []string{"ps", "-bogus"}, wantCode: 2, wantStderr: "flag provided but not defined"},
		{name: "duration on ps", args: []string{"ps", "-duration=5"}, wantCode: 2, wantStderr: "flag provided but not defined"},
		{name: "invalid interval", args: []string{"log", "-interval=0"}, wantCode: 2, wantStderr: "sampling.interval_seconds"},
		{name: "extra args", args: []string{"power", "now"}, wantCode: 2, wantStderr: "unexpected arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("run() = %d, want %d (stderr: %s)", code, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Fatalf("stdout = %q, want contains %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr = %q, want contains %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestParseFlags_OverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procpower.toml")
	err := os.WriteFile(path, []byte(`
[sampling]
interval_seconds = 2.0
duration_seconds = 60.0
core_id = 1

[log]
dir = "/tmp/from-file"
`), 0o644)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stderr bytes.Buffer
	cfg, opts, err := parseFlags("log", []string{"-config", path, "-duration=5", "-log-dir=/tmp/from-flag"}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if opts.configPath != path {
		t.Fatalf("configPath = %q, want %q", opts.configPath, path)
	}
	if cfg.Sampling.Interval() != 2*time.Second {
		t.Fatalf("Interval = %v, want 2s from file", cfg.Sampling.Interval())
	}
	if cfg.Sampling.Duration() != 5*time.Second {
		t.Fatalf("Duration = %v, want 5s from flag", cfg.Sampling.Duration())
	}
	if cfg.Sampling.CoreID != 1 {
		t.Fatalf("CoreID = %d, want 1 from file", cfg.Sampling.CoreID)
	}
	if cfg.Log.Dir != "/tmp/from-flag" {
		t.Fatalf("Log.Dir = %q, want /tmp/from-flag", cfg.Log.Dir)
	}
}

func TestParseFlags_RefreshShorthand(t *testing.T) {
	var stderr bytes.Buffer
	cfg, opts, err := parseFlags("power", []string{"-r", "-interval=0.5"}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if !opts.refresh {
		t.Fatal("refresh = false, want true")
	}
	if cfg.Sampling.Interval() != 500*time.Millisecond {
		t.Fatalf("Interval = %v, want 500ms", cfg.Sampling.Interval())
	}
}

func TestNewSource(t *testing.T) {
	cfg, _, err := parseFlags("ps", nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	logger := logging.New(io.Discard, false, "")
	if _, ok := newSource("ps", cfg, logger).(*power.ProcessView); !ok {
		t.Fatal("ps source is not a ProcessView")
	}
	if _, ok := newSource("power", cfg, logger).(*power.Composer); !ok {
		t.Fatal("power source is not a Composer")
	}
	if _, ok := newSource("log", cfg, logger).(*power.Composer); !ok {
		t.Fatal("log source is not a Composer")
	}
	if modeFor("ps") != render.ModePS || modeFor("log") != render.ModePower {
		t.Fatal("modeFor() mismatch")
	}
}

type fixedSource struct {
	states []power.PowerState
	err    error
	calls  int
}

func (s *fixedSource) Cycle(context.Context) ([]power.PowerState, error) {
	s.calls++
	return s.states, s.err
}

func logConfig(t *testing.T, interval, duration float64) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Log.Dir = t.TempDir()
	cfg.Sampling.IntervalSeconds = interval
	cfg.Sampling.DurationSeconds = duration
	return cfg
}

// readSessionLog returns the rows of the single log file in dir.
func readSessionLog(t *testing.T, dir string) [][]string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "power_log_*.csv"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("found %d log files, want 1: %v", len(matches), matches)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return rows
}

func TestRunLog_CancelledBeforeFirstCycle(t *testing.T) {
	cfg := logConfig(t, 1, 10)
	src := &fixedSource{states: []power.PowerState{{PID: 1, Name: "init"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	if err := runLog(ctx, src, cfg, &stdout, logging.New(io.Discard, false, "")); err != nil {
		t.Fatalf("runLog() error = %v", err)
	}

	if src.calls != 0 {
		t.Fatalf("source calls = %d, want 0", src.calls)
	}
	rows := readSessionLog(t, cfg.Log.Dir)
	if len(rows) != 1 || strings.Join(rows[0], ",") != strings.Join(powerlog.Header, ",") {
		t.Fatalf("log rows = %q, want header only", rows)
	}
	if !strings.Contains(stdout.String(), "Logging completed") {
		t.Fatalf("stdout = %q, want completion notice", stdout.String())
	}
}

func TestRunLog_BoundedSession(t *testing.T) {
	cfg := logConfig(t, 0.01, 0.025)
	src := &fixedSource{states: []power.PowerState{
		{PID: 42, Name: "stress", CPUPercent: 25},
		{PID: 7, Name: "bash"},
	}}

	var stdout bytes.Buffer
	if err := runLog(context.Background(), src, cfg, &stdout, logging.New(io.Discard, false, "")); err != nil {
		t.Fatalf("runLog() error = %v", err)
	}

	if src.calls < 1 {
		t.Fatal("source never called")
	}
	rows := readSessionLog(t, cfg.Log.Dir)
	if want := 1 + 2*src.calls; len(rows) != want {
		t.Fatalf("log has %d rows, want %d (header + 2 per cycle over %d cycles)", len(rows), want, src.calls)
	}
	if rows[1][1] != "42" || rows[2][1] != "7" {
		t.Fatalf("first cycle pids = %q, %q, want 42, 7", rows[1][1], rows[2][1])
	}
}

func TestRunLog_SourceErrorsSkipCycles(t *testing.T) {
	cfg := logConfig(t, 0.01, 0.025)
	src := &fixedSource{err: errors.New("read /proc: permission denied")}

	var stdout bytes.Buffer
	if err := runLog(context.Background(), src, cfg, &stdout, logging.New(io.Discard, false, "")); err != nil {
		t.Fatalf("runLog() error = %v, want nil for skipped cycles", err)
	}

	rows := readSessionLog(t, cfg.Log.Dir)
	if len(rows) != 1 {
		t.Fatalf("log has %d rows, want header only", len(rows))
	}
	if !strings.Contains(stdout.String(), "skipped)") || strings.Contains(stdout.String(), " 0 skipped") {
		t.Fatalf("stdout = %q, want non-zero skipped count", stdout.String())
	}
}

func TestRun_LogFileFailureExitsOne(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"log", "-log-dir", filepath.Join(blocker, "logs"), "-interval=0.01", "-duration=0.01"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("run() = %d, want 1 (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "create log directory") {
		t.Fatalf("stderr = %q, want log directory error", stderr.String())
	}
}
