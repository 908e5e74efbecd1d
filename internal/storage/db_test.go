package storage

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func cycleAt(ms int64, states ...power.PowerState) []power.PowerState {
	ts := time.UnixMilli(ms)
	out := make([]power.PowerState, len(states))
	for i, s := range states {
		s.Timestamp = ts
		s.PTotalMW = s.PDynMW + s.PLeakMW
		out[i] = s
	}
	return out
}

func TestPowerStatesRoundTrip(t *testing.T) {
	db := openTestDB(t)

	first := cycleAt(1000,
		power.PowerState{PID: 1, Name: "init", CPUPercent: 1.5, MemKB: 1000, VoltageV: 0.95, FreqHz: 1.5e9, TemperatureC: 40, PDynMW: 7, PLeakMW: 1},
	)
	second := cycleAt(2000,
		power.PowerState{PID: 1, Name: "init", CPUPercent: 0.5, MemKB: 1000, VoltageV: 0.95, FreqHz: 1.5e9, TemperatureC: 41, PDynMW: 2, PLeakMW: 1},
		power.PowerState{PID: 9, Name: "ffmpeg", CPUPercent: 80, MemKB: 90000, VoltageV: 0.95, FreqHz: 1.5e9, TemperatureC: 41, PDynMW: 300, PLeakMW: 4},
	)
	if err := db.InsertPowerStates(first); err != nil {
		t.Fatalf("InsertPowerStates(first) error = %v", err)
	}
	if err := db.WriteCycle(second); err != nil {
		t.Fatalf("WriteCycle(second) error = %v", err)
	}

	latest, err := db.LatestPowerStates()
	if err != nil {
		t.Fatalf("LatestPowerStates() error = %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("LatestPowerStates() returned %d rows, want 2", len(latest))
	}
	if latest[0].PID != 9 || latest[0].PTotalMW != 304 {
		t.Fatalf("LatestPowerStates()[0] = %+v, want pid 9 with 304 mW first", latest[0])
	}
	if latest[0].Timestamp.UnixMilli() != 2000 {
		t.Fatalf("Timestamp = %v, want 2000ms", latest[0].Timestamp.UnixMilli())
	}
	if latest[1].TemperatureC != 41 || latest[1].FreqHz != 1.5e9 {
		t.Fatalf("LatestPowerStates()[1] = %+v, want telemetry preserved", latest[1])
	}

	ranged, err := db.PowerStatesInRange(0, 1500)
	if err != nil {
		t.Fatalf("PowerStatesInRange() error = %v", err)
	}
	if len(ranged) != 1 || ranged[0].CPUPercent != 1.5 {
		t.Fatalf("PowerStatesInRange() = %#v, want the first cycle only", ranged)
	}
}

func TestLatestPowerStates_Empty(t *testing.T) {
	db := openTestDB(t)

	latest, err := db.LatestPowerStates()
	if err != nil {
		t.Fatalf("LatestPowerStates() error = %v", err)
	}
	if latest != nil {
		t.Fatalf("LatestPowerStates() = %#v, want nil", latest)
	}
}

func TestInsertPowerStates_Empty(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertPowerStates(nil); err != nil {
		t.Fatalf("InsertPowerStates(nil) error = %v", err)
	}
}

func TestTopConsumers(t *testing.T) {
	db := openTestDB(t)

	for i, ms := range []int64{1000, 2000, 3000} {
		err := db.InsertPowerStates(cycleAt(ms,
			power.PowerState{PID: 1, Name: "init", PDynMW: 1, PLeakMW: 1},
			power.PowerState{PID: 2, Name: "chrome", PDynMW: float64(100 * (i + 1)), PLeakMW: 10},
			power.PowerState{PID: 3, Name: "sshd", PDynMW: 20, PLeakMW: 0},
		))
		if err != nil {
			t.Fatalf("InsertPowerStates(ms=%d) error = %v", ms, err)
		}
	}
	// pid 2 reused by a different program
	if err := db.InsertPowerStates(cycleAt(3500, power.PowerState{PID: 2, Name: "bash", PDynMW: 1})); err != nil {
		t.Fatalf("InsertPowerStates(reuse) error = %v", err)
	}

	top, err := db.TopConsumers(0, 10000, 2)
	if err != nil {
		t.Fatalf("TopConsumers() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("TopConsumers() returned %d rows, want 2", len(top))
	}
	if top[0].PID != 2 || top[0].Name != "chrome" || top[0].Samples != 3 {
		t.Fatalf("top[0] = %+v, want chrome with 3 samples", top[0])
	}
	if top[0].AvgPowerMW != 210 || top[0].MaxPowerMW != 310 {
		t.Fatalf("top[0] avg/max = %v/%v, want 210/310", top[0].AvgPowerMW, top[0].MaxPowerMW)
	}
	if top[1].Name != "sshd" {
		t.Fatalf("top[1] = %+v, want sshd", top[1])
	}
}

func TestInsertPowerStates_RollsBackOnExecError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	db := &DB{db: sqlDB}
	states := cycleAt(1000,
		power.PowerState{PID: 1, Name: "a"},
		power.PowerState{PID: 2, Name: "b"},
	)

	insert := regexp.QuoteMeta("INSERT INTO power_states (" + stateColumns + ")")
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(insert)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := db.InsertPowerStates(states); err == nil {
		t.Fatal("InsertPowerStates() error = nil, want exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertPowerStates_CommitsOnce(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	db := &DB{db: sqlDB}
	ts := time.UnixMilli(4242)
	states := []power.PowerState{{Timestamp: ts, PID: 7, Name: "x", CPUPercent: 3, MemKB: 9, VoltageV: 1, FreqHz: 2, TemperatureC: 3, PDynMW: 4, PLeakMW: 5, PTotalMW: 9}}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO power_states")).
		ExpectExec().
		WithArgs(int64(4242), 7, "x", 3.0, int64(9), 1.0, 2.0, 3.0, 4.0, 5.0, 9.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := db.InsertPowerStates(states); err != nil {
		t.Fatalf("InsertPowerStates() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
