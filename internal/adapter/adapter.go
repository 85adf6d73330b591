package adapter

import (
	"context"
	"fmt"
	"log"

	"github.com/unidrive/core/internal/config"
	"github.com/unidrive/core/internal/engine"
	"github.com/unidrive/core/internal/fuse"
	"github.com/unidrive/core/internal/metrics"
	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/internal/resolver"
	"github.com/unidrive/core/internal/tasks"
	"github.com/unidrive/core/pkg/api"
	"github.com/unidrive/core/pkg/health"
	"github.com/unidrive/core/pkg/status"
)

// Gateway is the composition root: it builds every enabled mount into a
// live driver, wires the engine and task manager over the resulting
// resolver, and starts whichever of the monitoring API and FUSE mount the
// configuration enables.
type Gateway struct {
	cfg *config.Configuration

	resolver *resolver.Resolver
	Engine   *engine.Engine
	Tasks    *tasks.Manager

	metrics       *metrics.Collector
	healthTracker *health.Tracker
	statusTracker *status.Tracker
	apiServer     *api.Server
	fuseSession   *fuse.Session

	started    bool
	healthStop context.CancelFunc
}

// New constructs a Gateway against reg (normally registry.Default(), after
// the caller has blank-imported the driver packages it wants available).
// It does not build any mount or start any component; call Start for that.
func New(cfg *config.Configuration, reg *registry.Registry) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	res := resolver.New(reg)
	taskMgr := tasks.New(cfg.Engine.MaxConcurrentTasks, cfg.Engine.PerDriverConcurrency, cfg.Engine.TaskRetentionWindow)
	eng := engine.New(res, cfg.Engine, cfg.Cache, taskMgr)

	return &Gateway{
		cfg:           cfg,
		resolver:      res,
		Engine:        eng,
		Tasks:         taskMgr,
		healthTracker: health.NewTracker(health.DefaultConfig()),
		statusTracker: status.NewTracker(status.DefaultTrackerConfig()),
	}, nil
}

// Start builds every enabled mount, then brings up metrics, health
// polling, the monitoring API, and (if configured) the FUSE mount, in that
// order. A failure partway through leaves already-started components
// running; call Stop to tear everything down.
func (g *Gateway) Start(ctx context.Context) error {
	if g.started {
		return fmt.Errorf("gateway already started")
	}

	log.Printf("Starting gateway with %d configured mounts", len(g.cfg.Mounts))

	for _, m := range g.cfg.Mounts {
		if !m.Enabled {
			continue
		}
		if err := g.resolver.Mount(ctx, m); err != nil {
			return fmt.Errorf("mount %q (%s): %w", m.ID, m.DriverKind, err)
		}
		g.healthTracker.RegisterComponent(m.ID)
		log.Printf("Mounted %s (%s) at %s", m.ID, m.DriverKind, m.MountPath)
	}

	var err error
	g.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled: g.cfg.Monitoring.Metrics.Enabled,
		Port:    g.cfg.Global.MetricsPort,
		Labels:  g.cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	if err := g.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics collector: %w", err)
	}

	if g.cfg.Monitoring.HealthChecks.Enabled {
		healthCtx, cancel := context.WithCancel(context.Background())
		g.healthStop = cancel
		go g.healthTracker.StartHealthChecks(healthCtx, g.checkMountHealth)
	}

	g.apiServer = api.NewServer(api.ServerConfig{
		Address:       fmt.Sprintf(":%d", g.cfg.Global.HealthPort),
		EnableMetrics: g.cfg.Monitoring.Metrics.Enabled,
	}, g.statusTracker, g.healthTracker)
	g.apiServer.StartBackground()

	if g.cfg.Global.FUSEMountPoint != "" {
		session, err := fuse.Mount(g.Engine, g.cfg.Global.FUSEMountPoint, &fuse.Config{
			ReadOnly: g.cfg.Global.FUSEReadOnly,
		})
		if err != nil {
			return fmt.Errorf("failed to mount FUSE filesystem at %s: %w", g.cfg.Global.FUSEMountPoint, err)
		}
		g.fuseSession = session
		log.Printf("FUSE mount live at %s", g.cfg.Global.FUSEMountPoint)
	}

	g.started = true
	log.Printf("Gateway started successfully")
	return nil
}

// Stop tears down the FUSE mount (flushing buffered writes), the health
// checks, the monitoring API, and the metrics collector, in that order.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.started {
		return fmt.Errorf("gateway not started")
	}

	log.Printf("Stopping gateway...")
	var lastErr error

	if g.fuseSession != nil {
		if err := g.fuseSession.Unmount(); err != nil {
			log.Printf("Error unmounting FUSE filesystem: %v", err)
			lastErr = err
		}
	}

	if g.healthStop != nil {
		g.healthStop()
	}

	if g.apiServer != nil {
		if err := g.apiServer.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
			lastErr = err
		}
	}

	if g.metrics != nil {
		if err := g.metrics.Stop(ctx); err != nil {
			log.Printf("Error stopping metrics collector: %v", err)
			lastErr = err
		}
	}

	g.started = false
	log.Printf("Gateway stopped")
	return lastErr
}

// checkMountHealth is the per-component probe StartHealthChecks drives: a
// cheap List at the mount's own root confirms the driver is still
// reachable without touching application data.
func (g *Gateway) checkMountHealth(mountID string) error {
	for _, m := range g.resolver.List() {
		if m.ID == mountID && m.Enabled {
			ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Monitoring.HealthChecks.Timeout)
			defer cancel()
			_, err := g.Engine.List(ctx, m.MountPath)
			return err
		}
	}
	return fmt.Errorf("mount %q no longer configured", mountID)
}

// ListMounts returns the live mount table, enabled or not, for an
// administration UI or CLI to render.
func (g *Gateway) ListMounts() []config.MountRecord {
	return g.resolver.List()
}

// AddMount validates and builds a new mount while the gateway is running.
func (g *Gateway) AddMount(ctx context.Context, record config.MountRecord) error {
	return g.resolver.Mount(ctx, record)
}

// RemoveMount drains and removes a mount while the gateway is running.
func (g *Gateway) RemoveMount(id string) error {
	return g.resolver.Unmount(id)
}

// ReconfigureMount hot-swaps a mount's driver instance in place.
func (g *Gateway) ReconfigureMount(ctx context.Context, id string, newConfig map[string]any) error {
	return g.resolver.Reconfigure(ctx, id, newConfig)
}
