package powerlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 10, 19, 8, 5, 3, 0, time.Local)
	if got := FileName(ts); got != "power_log_2026-10-19_08-05-03.csv" {
		t.Fatalf("FileName() = %q", got)
	}
}

func TestRecord_Formatting(t *testing.T) {
	ps := power.PowerState{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 600, time.Local),
		PID:          1234,
		Name:         "python3",
		CPUPercent:   12.3456,
		MemKB:        20480,
		VoltageV:     0.95,
		FreqHz:       1.5e9,
		TemperatureC: 47.26,
		PDynMW:       12.34567,
		PLeakMW:      0.0974,
		PTotalMW:     12.44307,
	}

	want := []string{
		"2026-01-02 03:04:05", "1234", "python3", "12.35", "20480",
		"0.950", "1500000000", "47.3", "12.346", "0.097", "12.443",
	}
	got := Record(ps)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Record() = %v, want %v", got, want)
	}
}

func TestSession_WritesHeaderAndRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	started := time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local)

	s, err := Create(dir, started)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Path() != filepath.Join(dir, "power_log_2026-05-06_07-08-09.csv") {
		t.Fatalf("Path() = %q", s.Path())
	}

	ts := started.Add(time.Second)
	cycle := []power.PowerState{
		{Timestamp: ts, PID: 1, Name: "init", CPUPercent: 0.5, MemKB: 100},
		{Timestamp: ts, PID: 2, Name: "with,comma", CPUPercent: 1, MemKB: 200},
	}
	if err := s.WriteCycle(cycle); err != nil {
		t.Fatalf("WriteCycle() error = %v", err)
	}

	// Rows are flushed per cycle, before Close.
	rows := readCSV(t, s.Path())
	if len(rows) != 3 {
		t.Fatalf("file has %d rows before Close, want 3", len(rows))
	}

	if err := s.WriteCycle(cycle[:1]); err != nil {
		t.Fatalf("WriteCycle() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows = readCSV(t, s.Path())
	if len(rows) != 4 {
		t.Fatalf("file has %d rows, want 4", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Header, ",") {
		t.Fatalf("header = %v, want %v", rows[0], Header)
	}
	if rows[2][2] != "with,comma" {
		t.Fatalf("name column = %q, want quoted field preserved", rows[2][2])
	}
	for i, row := range rows {
		if len(row) != len(Header) {
			t.Fatalf("row %d has %d columns, want %d", i, len(row), len(Header))
		}
	}
}

func TestCreate_DirectoryError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := Create(filepath.Join(blocker, "logs"), time.Now())
	if err == nil {
		t.Fatal("Create() error = nil, want directory error")
	}
	if !strings.Contains(err.Error(), "create log directory") {
		t.Fatalf("Create() error = %q, want contains %q", err.Error(), "create log directory")
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestSession_CloseTwice(t *testing.T) {
	s, err := Create(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strings.Join(Header, ",") {
		t.Fatalf("log contents = %q, want header only", got)
	}
}
