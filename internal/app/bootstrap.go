package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/uber-go/tally/v4"

	"taskcycle/internal/catalog"
	"taskcycle/internal/config"
	"taskcycle/internal/eventbus"
	"taskcycle/internal/metrics"
	"taskcycle/internal/notifier"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/engine"
	"taskcycle/internal/task/recurrence"
	"taskcycle/internal/task/scheduler"
	"taskcycle/internal/task/sweep"
	"taskcycle/internal/task/workflow"
	logx "taskcycle/pkg/logx"
)

// components is everything New builds from one config snapshot.
type components struct {
	logs     *logx.Service
	log      logx.Logger
	scope    tally.Scope
	metrics  io.Closer
	bus      eventbus.Bus
	store    storage.Store
	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	sweeper  *sweep.Sweeper
	flows    *workflow.Service
	defaults catalog.Defaults
}

// bootstrap wires the components. On error everything opened so far is
// closed again.
func bootstrap(cfg *config.Config) (c components, err error) {
	c.logs, c.log = logx.New(mapLoggingConfig(cfg))
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	mc, err := mapMetricsConfig(cfg)
	if err != nil {
		return c, err
	}
	c.scope, c.metrics = metrics.New(mc, c.log.With(logx.String("comp", "metrics")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return c, err
	}
	c.store, err = storage.Open(sc, c.log)
	if errors.Is(err, storage.ErrDisabled) {
		return c, fmt.Errorf("storage: %w", err)
	}
	if err != nil {
		return c, err
	}

	c.defaults, err = mapDefaults(cfg)
	if err != nil {
		return c, err
	}

	c.bus = eventbus.New()
	pub := eventbus.NewPublisher(c.bus, c.log, eventbus.WithRetries(publishRetries(cfg)))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return c, err
	}
	c.engine = engine.New(engCfg, c.log, c.scope)
	c.sched = scheduler.New(mapSchedulerConfig(cfg), c.engine, c.log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return c, err
	}
	c.notif = notifier.New(ncfg, c.store, c.bus, c.log)

	c.sweeper = sweep.New(c.store, pub, c.log, sweep.WithScope(c.scope))
	c.flows = workflow.New(c.store, recurrence.New(c.log.With(logx.String("comp", "recurrence")), nil), c.log)
	return c, nil
}

// close is safe to call more than once.
func (c *components) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
	if c.metrics != nil {
		_ = c.metrics.Close()
		c.metrics = nil
	}
	if c.logs != nil {
		_ = c.logs.Close()
		c.logs = nil
	}
}
