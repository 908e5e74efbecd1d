// Package powerlog writes PowerState records to a per-session CSV file.
package powerlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

// Header is the first row of every log file.
var Header = []string{
	"timestamp",
	"pid",
	"name",
	"cpu_percent",
	"mem_kb",
	"voltage_v",
	"freq_hz",
	"temperature_c",
	"p_dyn_mw",
	"p_leak_mw",
	"p_total_mw",
}

const (
	fileTimeLayout   = "2006-01-02_15-04-05"
	recordTimeLayout = "2006-01-02 15:04:05"
)

// Session is one open log file. It is opened once, appended to once per
// cycle, and closed once.
type Session struct {
	path   string
	f      *os.File
	w      *csv.Writer
	closed bool
}

// FileName returns the log file name for a session started at ts.
func FileName(ts time.Time) string {
	return "power_log_" + ts.Format(fileTimeLayout) + ".csv"
}

// Create makes dir if needed, creates the session file named after started,
// and writes the header.
func Create(dir string, started time.Time) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, FileName(started))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	s := &Session{path: path, f: f, w: csv.NewWriter(f)}
	if err := s.flush(Header); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the session file path.
func (s *Session) Path() string {
	return s.path
}

// WriteCycle appends one row per record and flushes, so a crash leaves only
// complete lines.
func (s *Session) WriteCycle(states []power.PowerState) error {
	for _, ps := range states {
		if err := s.w.Write(Record(ps)); err != nil {
			return fmt.Errorf("write log row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	return nil
}

func (s *Session) flush(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Later calls do nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	werr := s.w.Error()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return werr
}

// Record formats one PowerState as a CSV row.
func Record(ps power.PowerState) []string {
	return []string{
		ps.Timestamp.Format(recordTimeLayout),
		strconv.Itoa(ps.PID),
		ps.Name,
		strconv.FormatFloat(ps.CPUPercent, 'f', 2, 64),
		strconv.FormatInt(ps.MemKB, 10),
		strconv.FormatFloat(ps.VoltageV, 'f', 3, 64),
		strconv.FormatFloat(ps.FreqHz, 'f', 0, 64),
		strconv.FormatFloat(ps.TemperatureC, 'f', 1, 64),
		strconv.FormatFloat(ps.PDynMW, 'f', 3, 64),
		strconv.FormatFloat(ps.PLeakMW, 'f', 3, 64),
		strconv.FormatFloat(ps.PTotalMW, 'f', 3, 64),
	}
}
