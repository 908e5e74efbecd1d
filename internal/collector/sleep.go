package collector

import (
	"io"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	signalPrepareForSleep    = "org.freedesktop.login1.Manager.PrepareForSleep"
	signalPrepareForShutdown = "org.freedesktop.login1.Manager.PrepareForShutdown"
)

// SleepMonitor listens for systemd-logind PrepareForSleep/PrepareForShutdown
// signals. After a resume the CPU frequency and thermal state usually differ
// from what was read before suspend, so the daemon uses Wake to refresh its
// telemetry and run pending retention work.
type SleepMonitor struct {
	conn *dbus.Conn
	done chan struct{}
	wake chan struct{}
	log  *slog.Logger
}

// NewSleepMonitor creates a new sleep monitor connected to the system bus.
func NewSleepMonitor(logger *slog.Logger) (*SleepMonitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err = conn.AddMatchSignal(
			dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, err
		}
	}

	m := newSleepMonitor(conn, logger)
	go m.listen()
	return m, nil
}

func newSleepMonitor(conn *dbus.Conn, logger *slog.Logger) *SleepMonitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SleepMonitor{
		conn: conn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		log:  logger,
	}
}

// Wake returns a channel that receives a value each time the system wakes from sleep.
func (m *SleepMonitor) Wake() <-chan struct{} {
	return m.wake
}

// Close stops the monitor.
func (m *SleepMonitor) Close() {
	close(m.done)
}

func (m *SleepMonitor) listen() {
	ch := make(chan *dbus.Signal, 16)
	m.conn.Signal(ch)
	defer m.conn.RemoveSignal(ch)

	for {
		select {
		case sig := <-ch:
			m.handle(sig)
		case <-m.done:
			return
		}
	}
}

// handle processes one logind signal. Pending wake notifications are
// coalesced.
func (m *SleepMonitor) handle(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	switch sig.Name {
	case signalPrepareForShutdown:
		if active {
			m.log.Info("system preparing for shutdown/hibernate")
		}
	case signalPrepareForSleep:
		if active {
			m.log.Info("system going to sleep")
			return
		}
		m.log.Info("system woke up")
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}
