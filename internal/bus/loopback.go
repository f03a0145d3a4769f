package bus

import (
	"context"
	"log/slog"
)

// Loopback is an in-process [Bus] for tests and brokerless single-node
// setups. Publish dispatches synchronously.
type Loopback struct {
	disp *dispatcher
}

var _ Bus = (*Loopback)(nil)

// NewLoopback returns an empty in-process bus.
func NewLoopback(log *slog.Logger) *Loopback {
	return &Loopback{disp: newDispatcher(log)}
}

func (b *Loopback) Publish(_ context.Context, ev Event) error {
	b.disp.dispatch(ev)
	return nil
}

func (b *Loopback) Subscribe(jobID string) (<-chan Event, func()) {
	return b.disp.subscribe(jobID)
}
