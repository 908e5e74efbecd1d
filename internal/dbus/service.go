package dbus

import (
	"encoding/json"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/procpower/internal/storage"
)

const (
	busName   = "io.github.cptspacemanspiff.ProcPower"
	objPath   = "/io/github/cptspacemanspiff/ProcPower"
	ifaceName = "io.github.cptspacemanspiff.ProcPower"

	maxRangeMs = 366 * 24 * 60 * 60 * 1000
	maxLimit   = 500
)

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="GetCurrentStates">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_ms"/>
      <arg direction="in" type="x" name="to_ms"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetTopConsumers">
      <arg direction="in" type="x" name="from_ms"/>
      <arg direction="in" type="x" name="to_ms"/>
      <arg direction="in" type="i" name="limit"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Service exposes stored power states over D-Bus.
type Service struct {
	store *storage.DB
}

// NewService creates a new D-Bus service.
func NewService(store *storage.DB) *Service {
	return &Service{store: store}
}

// Export registers the service on the session bus.
func (s *Service) Export() (*godbus.Conn, error) {
	conn, err := godbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	if err := conn.Export(s, objPath, ifaceName); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	return conn, nil
}

// GetCurrentStates returns the most recent cycle as JSON.
func (s *Service) GetCurrentStates() (string, *godbus.Error) {
	states, err := s.store.LatestPowerStates()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(states)
}

// GetHistory returns all records in [fromMs, toMs] as JSON.
func (s *Service) GetHistory(fromMs, toMs int64) (string, *godbus.Error) {
	if err := validateRange(fromMs, toMs); err != nil {
		return "", err
	}
	states, err := s.store.PowerStatesInRange(fromMs, toMs)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(states)
}

// GetTopConsumers returns the highest average-power processes in
// [fromMs, toMs] as JSON.
func (s *Service) GetTopConsumers(fromMs, toMs int64, limit int32) (string, *godbus.Error) {
	if err := validateRange(fromMs, toMs); err != nil {
		return "", err
	}
	if limit < 1 || limit > maxLimit {
		return "", godbus.MakeFailedError(fmt.Errorf("limit must be between 1 and %d, got %d", maxLimit, limit))
	}
	top, err := s.store.TopConsumers(fromMs, toMs, int(limit))
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(top)
}

func validateRange(fromMs, toMs int64) *godbus.Error {
	if fromMs < 0 || toMs < 0 {
		return godbus.MakeFailedError(fmt.Errorf("time range must be non-negative, got [%d, %d]", fromMs, toMs))
	}
	if toMs < fromMs {
		return godbus.MakeFailedError(fmt.Errorf("time range end %d before start %d", toMs, fromMs))
	}
	if toMs-fromMs > maxRangeMs {
		return godbus.MakeFailedError(fmt.Errorf("time range exceeds 366 days"))
	}
	return nil
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
