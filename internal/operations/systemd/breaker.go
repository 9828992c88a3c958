package systemd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// breakerSupervisor short-circuits supervisor calls after repeated failures
type breakerSupervisor struct {
	Supervisor
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker wraps s so that after two consecutive failures the remaining
// calls fail fast with gobreaker.ErrOpenState.
func WithBreaker(s Supervisor, logger *logrus.Entry) Supervisor {
	settings := gobreaker.Settings{
		Name:        "supervisor-breaker",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker state changed from %v to %v", from, to)
		},
	}

	return &breakerSupervisor{
		Supervisor: s,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *breakerSupervisor) run(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (b *breakerSupervisor) DaemonReload(ctx context.Context) error {
	return b.run(func() error { return b.Supervisor.DaemonReload(ctx) })
}

func (b *breakerSupervisor) Enable(ctx context.Context, unit string) error {
	return b.run(func() error { return b.Supervisor.Enable(ctx, unit) })
}

func (b *breakerSupervisor) Restart(ctx context.Context, unit string) error {
	return b.run(func() error { return b.Supervisor.Restart(ctx, unit) })
}

func (b *breakerSupervisor) ActiveState(ctx context.Context, unit string) (string, error) {
	var state string
	err := b.run(func() error {
		var err error
		state, err = b.Supervisor.ActiveState(ctx, unit)
		return err
	})
	return state, err
}
