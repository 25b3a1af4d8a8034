package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
)

// ServiceFactory builds application services on a shared deterministic clock
// and identifier sequence.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
}

// ServiceFactoryOption configures a ServiceFactory.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory returns a factory at ReferenceTime in UTC issuing "sync-N" ids.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("sync"),
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the factory clock.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(f *ServiceFactory) {
		f.Clock = clock
	}
}

// WithIDGenerator overrides the identifier sequence.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(f *ServiceFactory) {
		f.IDGenerator = generator
	}
}

// WithLocation sets the zone used for working hours and buckets.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(f *ServiceFactory) {
		f.Location = loc
	}
}

// NewLedger builds a ledger over events.
func (f *ServiceFactory) NewLedger(events application.SyncEventRepository, logger *slog.Logger) *application.Ledger {
	return application.NewLedgerWithLogger(events, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), logger)
}

// NewLearningService builds the learning service over stats.
func (f *ServiceFactory) NewLearningService(stats application.StatsStore, logger *slog.Logger) *application.LearningService {
	return application.NewLearningServiceWithLogger(stats, f.Location, f.Clock.NowFunc(), logger)
}

// CoordinatorDeps captures what a commit coordinator needs beyond the factory defaults.
type CoordinatorDeps struct {
	Provider  application.BookingProvider
	Refresher calendar.Refresher
	Ledger    *application.Ledger
	Outcomes  application.OutcomeRecorder
	Config    application.CoordinatorConfig
	Logger    *slog.Logger
}

// NewCommitCoordinator builds a coordinator. A zero StalenessWindow falls back
// to five minutes and the location to the factory's.
func (f *ServiceFactory) NewCommitCoordinator(deps CoordinatorDeps) *application.CommitCoordinator {
	cfg := deps.Config
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = f.Location
	}
	return application.NewCommitCoordinatorWithLogger(deps.Provider, deps.Refresher, deps.Ledger, deps.Outcomes, cfg, f.Clock.NowFunc(), deps.Logger)
}

// NewAvailabilityService builds the slot search over provider using the
// default 06:00 to 22:00 window in the factory's location.
func (f *ServiceFactory) NewAvailabilityService(provider calendar.Provider, defaultHorizon int, logger *slog.Logger) *application.AvailabilityService {
	window := availability.DefaultWindow()
	window.Location = f.Location
	finder := availability.NewFinder(availability.NewExtractor(provider, window), window, f.Clock.NowFunc())
	return application.NewAvailabilityServiceWithLogger(finder, f.Location, defaultHorizon, f.Clock.NowFunc(), logger)
}
