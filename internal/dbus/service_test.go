package dbus

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/procpower/internal/power"
	"github.com/cptspacemanspiff/procpower/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("db.Close() error = %v", err)
		}
	})

	return NewService(db), db
}

func TestService_InvalidArguments(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		call func() *godbus.Error
	}{
		{
			name: "GetHistory negative from",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(-1, 0)
				return err
			},
		},
		{
			name: "GetHistory to before from",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(10, 9)
				return err
			},
		},
		{
			name: "GetHistory range too large",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(0, maxRangeMs+1)
				return err
			},
		},
		{
			name: "GetTopConsumers zero limit",
			call: func() *godbus.Error {
				_, err := svc.GetTopConsumers(0, 10, 0)
				return err
			},
		},
		{
			name: "GetTopConsumers limit too large",
			call: func() *godbus.Error {
				_, err := svc.GetTopConsumers(0, 10, maxLimit+1)
				return err
			},
		},
		{
			name: "GetTopConsumers bad range",
			call: func() *godbus.Error {
				_, err := svc.GetTopConsumers(5, 1, 10)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Fatal("call error = nil, want validation error")
			}
		})
	}
}

func TestService_Queries(t *testing.T) {
	svc, db := newTestService(t)

	ts := time.UnixMilli(5000)
	err := db.InsertPowerStates([]power.PowerState{
		{Timestamp: ts, PID: 1, Name: "init", PDynMW: 1, PLeakMW: 1, PTotalMW: 2},
		{Timestamp: ts, PID: 2, Name: "make", PDynMW: 90, PLeakMW: 10, PTotalMW: 100},
	})
	if err != nil {
		t.Fatalf("InsertPowerStates() error = %v", err)
	}

	out, derr := svc.GetCurrentStates()
	if derr != nil {
		t.Fatalf("GetCurrentStates() error = %v", derr)
	}
	var current []power.PowerState
	if err := json.Unmarshal([]byte(out), &current); err != nil {
		t.Fatalf("unmarshal current: %v", err)
	}
	if len(current) != 2 || current[0].Name != "make" {
		t.Fatalf("GetCurrentStates() = %s, want make first", out)
	}

	out, derr = svc.GetHistory(0, 4999)
	if derr != nil {
		t.Fatalf("GetHistory() error = %v", derr)
	}
	if out != "null" {
		t.Fatalf("GetHistory() before data = %s, want null", out)
	}

	out, derr = svc.GetTopConsumers(0, 10000, 1)
	if derr != nil {
		t.Fatalf("GetTopConsumers() error = %v", derr)
	}
	var top []storage.ProcessEnergy
	if err := json.Unmarshal([]byte(out), &top); err != nil {
		t.Fatalf("unmarshal top: %v", err)
	}
	if len(top) != 1 || top[0].PID != 2 || top[0].AvgPowerMW != 100 {
		t.Fatalf("GetTopConsumers() = %s, want make at 100 mW", out)
	}
}
