package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
)

// deps holds the collaborators every service in this package shares.
type deps struct {
	logger   *zap.Logger
	observer ports.RunObserver
	clock    ports.Clock
	newID    func() string
}

func defaultDeps() deps {
	return deps{
		logger:   zap.L(),
		observer: noopObserver{},
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Option customizes a service.
type Option func(*deps)

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver sets the run observer.
func WithObserver(o ports.RunObserver) Option {
	return func(d *deps) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c ports.Clock) Option {
	return func(d *deps) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithIDGenerator replaces the UUID generator for snapshot and response ids.
func WithIDGenerator(f func() string) Option {
	return func(d *deps) {
		if f != nil {
			d.newID = f
		}
	}
}

type noopObserver struct{}

func (noopObserver) RunStarted(ctx context.Context, _ *domain.Snapshot, _ []domain.Provider) context.Context {
	return ctx
}
func (noopObserver) ResponseRecorded(context.Context, *domain.ProviderResponse, string) {}
func (noopObserver) RunFinished(context.Context, *domain.Snapshot, time.Duration, error) {}
func (noopObserver) SnapshotsReset(context.Context, string, string, []string)            {}
