package driver

import (
	"errors"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

// Sink receives one batch of records per cycle. It must not retain or mutate
// the slice.
type Sink interface {
	WriteCycle(states []power.PowerState) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(states []power.PowerState) error

func (f SinkFunc) WriteCycle(states []power.PowerState) error {
	return f(states)
}

// RenderFunc draws one batch. live is true when the output will be cleared and
// redrawn on the next cycle, false for a single-shot table.
type RenderFunc func(states []power.PowerState, live bool)

// Render adapts a RenderFunc to a Sink. Rendering never fails.
func Render(fn RenderFunc, live bool) Sink {
	return SinkFunc(func(states []power.PowerState) error {
		fn(states, live)
		return nil
	})
}

type multiSink []Sink

// Sinks fans each batch out to every sink in order. All sinks are called even
// when one fails; the errors are joined.
func Sinks(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) WriteCycle(states []power.PowerState) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteCycle(states); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrorHandler is told about a failed best-effort write.
type ErrorHandler func(sink string, err error)

// BestEffort wraps a sink whose failures must not end the session. Errors are
// passed to handle (if non-nil) and swallowed.
func BestEffort(name string, sink Sink, handle ErrorHandler) Sink {
	return SinkFunc(func(states []power.PowerState) error {
		if err := sink.WriteCycle(states); err != nil && handle != nil {
			handle(name, err)
		}
		return nil
	})
}
