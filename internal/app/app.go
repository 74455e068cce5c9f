package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"riskgate/internal/admission"
	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/engine"
	"riskgate/internal/exitrules"
	"riskgate/internal/history"
	"riskgate/internal/logger"
	"riskgate/internal/monitoring"
	"riskgate/internal/profile"
	"riskgate/internal/scaleout"
	"riskgate/internal/scheduler"
	"riskgate/internal/server"
	"riskgate/internal/signal"
	"riskgate/internal/sizing"
)

// App owns application-level orchestration: build dependencies from config,
// run the engine loops and the HTTP server, shut everything down together.
type App struct {
	cfg    *config.Config
	engine *engine.Engine
	http   *server.Server
	store  *history.Store
	health *monitoring.Health
	broker *broker.BinanceBroker
}

// New builds the application object without starting it.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	bk := broker.NewBinanceBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Testnet)

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	ladders, err := scaleout.NewRegistry(cfg.ScaleOut.LaddersPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load scale-out ladders: %w", err)
	}

	catalog := profile.NewCatalog(cfg.Profiles)
	active := profile.NewActiveState(
		catalog.MustGet(profile.Balanced),
		cfg.Profiles.Selector.Cooldown(),
		cfg.Profiles.Selector.MaxSwitchesPerDay,
	)
	selector := profile.NewSelector(catalog, cfg.Profiles.Selector)

	sizer := sizing.New(cfg.Sizing)
	pipeline := admission.New(cfg.Admission, cfg.Styles, sizer)

	scaleMgr := scaleout.NewManager(cfg.ScaleOut, ladders)
	exits := exitrules.New(cfg.Exit, scaleMgr)

	metrics := monitoring.New(nil)
	health := monitoring.NewHealth()

	signals := signal.NewTrendProvider(bk, cfg.Broker.KlineLimit, "trend")

	eng := engine.New(engine.Deps{
		Cfg:      cfg,
		Catalog:  catalog,
		Active:   active,
		Selector: selector,
		Pipeline: pipeline,
		Exits:    exits,
		Broker:   bk,
		Executor: bk,
		Signals:  signals,
		Store:    store,
		Metrics:  metrics,
		Health:   health,
	})

	httpSrv, err := server.New(server.Config{
		Addr:   cfg.App.HTTPAddr,
		Engine: eng,
		Store:  store,
		Health: health,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{cfg: cfg, engine: eng, http: httpSrv, store: store, health: health, broker: bk}, nil
}

// Run starts the engine loops and the HTTP server and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()

	if err := a.broker.Ping(ctx); err != nil {
		logger.Warnf("broker ping failed, starting disconnected: %v", err)
		a.health.Report("broker", false, err.Error())
	} else {
		a.health.Report("broker", true, "")
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		sched := scheduler.NewAlignedScheduler(gctx, a.cfg.Engine.PollInterval(), 0)
		sched.RunImmediately = true
		sched.Start(func() { a.engine.Cycle(gctx) })
		return nil
	})

	group.Go(func() error {
		scheduler.Every(gctx, a.cfg.Engine.SelectorInterval(), func() {
			a.engine.EvaluateProfile(gctx)
		})
		return nil
	})

	group.Go(func() error {
		return a.http.Start()
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	logger.Infof("riskgate running (env=%s poll=%s selector=%s)",
		a.cfg.App.Env, a.cfg.Engine.PollInterval(), a.cfg.Engine.SelectorInterval())
	return group.Wait()
}

// Engine exposes the engine instance for test harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
