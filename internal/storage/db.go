package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

const schema = `
CREATE TABLE IF NOT EXISTS power_states (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ms INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	name TEXT NOT NULL,
	cpu_percent REAL NOT NULL,
	mem_kb INTEGER NOT NULL,
	voltage_v REAL NOT NULL,
	freq_hz REAL NOT NULL,
	temperature_c REAL NOT NULL,
	p_dyn_mw REAL NOT NULL,
	p_leak_mw REAL NOT NULL,
	p_total_mw REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_power_states_ts ON power_states(timestamp_ms);
`

const stateColumns = "timestamp_ms, pid, name, cpu_percent, mem_kb, voltage_v, freq_hz, temperature_c, p_dyn_mw, p_leak_mw, p_total_mw"

// DB wraps a SQLite database of PowerState history.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// WriteCycle stores one cycle's batch.
func (d *DB) WriteCycle(states []power.PowerState) error {
	return d.InsertPowerStates(states)
}

// InsertPowerStates batch-inserts records in a single transaction.
func (d *DB) InsertPowerStates(states []power.PowerState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO power_states (" + stateColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range states {
		if _, err := stmt.Exec(s.Timestamp.UnixMilli(), s.PID, s.Name, s.CPUPercent, s.MemKB,
			s.VoltageV, s.FreqHz, s.TemperatureC, s.PDynMW, s.PLeakMW, s.PTotalMW); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestPowerStates returns every record of the most recent cycle, highest
// total power first. It returns nil when the store is empty.
func (d *DB) LatestPowerStates() ([]power.PowerState, error) {
	return d.queryStates(
		"SELECT " + stateColumns + " FROM power_states WHERE timestamp_ms = (SELECT MAX(timestamp_ms) FROM power_states) ORDER BY p_total_mw DESC, pid",
	)
}

// PowerStatesInRange returns records with fromMs <= timestamp <= toMs
// (unix milliseconds), oldest first.
func (d *DB) PowerStatesInRange(fromMs, toMs int64) ([]power.PowerState, error) {
	return d.queryStates(
		"SELECT "+stateColumns+" FROM power_states WHERE timestamp_ms >= ? AND timestamp_ms <= ? ORDER BY timestamp_ms, pid",
		fromMs, toMs,
	)
}

func (d *DB) queryStates(query string, args ...any) ([]power.PowerState, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var states []power.PowerState
	for rows.Next() {
		var s power.PowerState
		var tsMs int64
		if err := rows.Scan(&tsMs, &s.PID, &s.Name, &s.CPUPercent, &s.MemKB,
			&s.VoltageV, &s.FreqHz, &s.TemperatureC, &s.PDynMW, &s.PLeakMW, &s.PTotalMW); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(tsMs)
		states = append(states, s)
	}
	return states, rows.Err()
}

// ProcessEnergy summarizes one process's power over a time range.
type ProcessEnergy struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	Samples    int     `json:"samples"`
	AvgPowerMW float64 `json:"avg_power_mw"`
	MaxPowerMW float64 `json:"max_power_mw"`
}

// TopConsumers returns the processes with the highest average total power in
// the range, keyed by pid and name since pids are reused.
func (d *DB) TopConsumers(fromMs, toMs int64, limit int) ([]ProcessEnergy, error) {
	rows, err := d.db.Query(
		`SELECT pid, name, COUNT(*), AVG(p_total_mw), MAX(p_total_mw) FROM power_states
		 WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		 GROUP BY pid, name
		 ORDER BY AVG(p_total_mw) DESC, pid
		 LIMIT ?`,
		fromMs, toMs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProcessEnergy
	for rows.Next() {
		var e ProcessEnergy
		if err := rows.Scan(&e.PID, &e.Name, &e.Samples, &e.AvgPowerMW, &e.MaxPowerMW); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
