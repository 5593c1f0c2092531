package service_registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/presence-engine/internal/metrics_collectors"
	"github.com/benmeehan/presence-engine/internal/registry"
	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/benmeehan/presence-engine/internal/state_managers"
	"github.com/benmeehan/presence-engine/internal/transport/ws"
	"github.com/benmeehan/presence-engine/internal/utils"
	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/benmeehan/presence-engine/pkg/notify"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/rs/zerolog"
)

// Dependencies are the adapters the engine is assembled from.
type Dependencies struct {
	Store       store.KeyedStore
	Catalog     repository.DeviceCatalog
	Ledger      repository.HistoryLedger
	Notifier    notify.Notifier
	Resolver    location.AddressResolver // optional
	Broadcaster services.Broadcaster
}

// ServiceRegistry manages the lifecycle of the engine's services.
type ServiceRegistry struct {
	services *orderedmap.OrderedMap[string, registry.Service]
	Logger   zerolog.Logger

	// Set by RegisterServices.
	Session *services.SessionService
	Hub     *ws.Hub
}

// NewServiceRegistry initializes a new service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: orderedmap.NewOrderedMap[string, registry.Service](),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services.Get(name); exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services.Set(name, svc)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return sr.services.Keys()
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	var started []string

	for el := sr.services.Front(); el != nil; el = el.Next() {
		sr.Logger.Info().Msgf("Starting service: %s", el.Key)
		if err := el.Value.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", el.Key)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(started) - 1; i >= 0; i-- {
				svc, _ := sr.services.Get(started[i])
				_ = svc.Stop()
			}
			return fmt.Errorf("failed to start %s: %w", el.Key, err)
		}
		started = append(started, el.Key)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for el := sr.services.Back(); el != nil; el = el.Prev() {
		if err := el.Value.Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", el.Key, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices assembles the engine from config and deps and registers
// its services so that producers stop before the consumers they feed.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) error {
	alertZone, err := time.LoadLocation(config.Notifications.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load alert timezone: %w", err)
	}

	recovery := services.NewStoreRecovery(deps.Store, sr.Logger)

	dispatch := services.NewDispatchService(sr.Logger)
	alerts := services.NewAlertService(deps.Catalog, deps.Ledger, deps.Notifier, deps.Resolver, alertZone, sr.Logger)
	alerts.Register(dispatch)

	scheduler := services.NewNotificationScheduler(deps.Store, config.DebounceWindow(), dispatch, recovery, sr.Logger)
	liveness := services.NewLivenessService(config.LivenessWindow(), state_managers.NewEvictionSet(), sr.Logger)
	presence := services.NewPresenceRegistry(deps.Store, sr.Logger)

	session := services.NewSessionService(presence, liveness, scheduler, deps.Catalog, deps.Ledger,
		deps.Broadcaster, recovery, sr.Logger)
	hub := ws.NewHub(config.Server.Address, config.Server.HeartbeatInterval, session, sr.Logger)
	hub.QueueLen = dispatch.Len
	hub.Metrics = sr.newMetrics(hub, dispatch, liveness)
	session.Terminator = hub

	// Only the in-process store needs a sweeper to announce expirations.
	var sweeper registry.Service
	if ms, ok := deps.Store.(*store.MemoryStore); ok {
		sweeper = ms
	}

	servicesInOrder := []struct {
		name    string
		enabled bool
		svc     registry.Service
	}{
		{name: "store-sweeper", enabled: sweeper != nil, svc: sweeper},
		{name: "dispatch", enabled: true, svc: dispatch},
		{name: "scheduler", enabled: true, svc: scheduler},
		{name: "liveness", enabled: true, svc: liveness},
		{name: "hub", enabled: true, svc: hub},
	}

	var registered []string
	for _, s := range servicesInOrder {
		if s.enabled {
			sr.RegisterService(s.name, s.svc)
			registered = append(registered, s.name)
		}
	}

	sr.Session = session
	sr.Hub = hub
	sr.Logger.Info().Msgf("Registered services in order: %v", registered)
	return nil
}

func (sr *ServiceRegistry) newMetrics(hub *ws.Hub, dispatch *services.DispatchService, liveness *services.LivenessService) *metrics_collectors.MetricsRegistry {
	metrics := metrics_collectors.NewMetricsRegistry()
	metrics.Register(&metrics_collectors.GaugeMetricCollector{
		MetricName: "connections",
		Summary:    "Open device websockets on this instance.",
		Read:       hub.Len,
	})
	metrics.Register(&metrics_collectors.GaugeMetricCollector{
		MetricName: "dispatch_queue",
		Summary:    "Fired notifications waiting for delivery.",
		Read:       dispatch.Len,
	})
	metrics.Register(&metrics_collectors.GaugeMetricCollector{
		MetricName: "pending_evictions",
		Summary:    "Silent connections awaiting their heartbeat tick.",
		Read:       liveness.PendingEvictions,
	})
	metrics.Register(&metrics_collectors.GoroutineMetricCollector{Logger: sr.Logger})
	metrics.Register(&metrics_collectors.ProcessMetricCollector{Logger: sr.Logger})
	return metrics
}
