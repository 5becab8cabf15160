package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tracklane/tracklane/pkg/actions"
	"github.com/tracklane/tracklane/pkg/conditions"
	"github.com/tracklane/tracklane/pkg/config"
	"github.com/tracklane/tracklane/pkg/definitions"
	"github.com/tracklane/tracklane/pkg/engine"
	"github.com/tracklane/tracklane/pkg/stores"
	"github.com/tracklane/tracklane/pkg/telemetry"
)

// app holds everything a command needs, built from the loaded configuration.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	rules  *engine.RuleCache
	engine *engine.RulesEngine
	loader *definitions.Loader
	memory *redis.Client
	logger zerolog.Logger
}

// newApp loads the configuration, opens and migrates the database and wires the
// engine. debug forces per-node debug details on.
func newApp(ctx context.Context, g *globalOptions, debug bool) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(g.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	a := &app{cfg: cfg, tel: tel, logger: logger}

	a.store, err = stores.NewSQLiteStore(stores.Config{
		Path:   cfg.Database.Path,
		Logger: logger,
	})
	if err != nil {
		return nil, a.fail(err)
	}
	if err := a.store.Init(ctx); err != nil {
		return nil, a.fail(err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, a.fail(err)
	}

	evaluator, err := conditions.New(conditions.Dialect(cfg.Segmentation.Dialect), cfg.Segmentation.MaxSteps, logger)
	if err != nil {
		return nil, a.fail(err)
	}

	var memory actions.MemoryClient
	if cfg.Redis.Enabled {
		a.memory, err = actions.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, a.fail(err)
		}
		memory = a.memory
	}

	opts := append(tel.EngineOptions(),
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		engine.WithDebug(cfg.Engine.Debug || debug),
	)

	a.rules = engine.NewRuleCache(a.store.Rules(), cfg.Engine.RuleCacheTTL.Std(), opts...)

	a.engine, err = engine.New(engine.Dependencies{
		Rules:      a.rules,
		Flows:      a.store.Flows(),
		Executor:   actions.NewPipelineExecutor(actions.DefaultRegistry(memory), logger),
		Segments:   a.store.Segments(),
		Conditions: evaluator,
		Profiles:   a.store.Profiles(),
		Audit:      a.store.Debug(),
		Events:     a.store.Events(),
	}, logger, opts...)
	if err != nil {
		return nil, a.fail(err)
	}

	a.loader = definitions.NewLoader(definitions.Targets{
		Rules:    a.store.Rules(),
		Flows:    a.store.Flows(),
		Segments: a.store.Segments(),
		Profiles: a.store.Profiles(),
		Events:   a.store.Events(),
	}, logger)

	return a, nil
}

// loadConfiguredDefinitions applies definitions.paths, if any.
func (a *app) loadConfiguredDefinitions(ctx context.Context) error {
	if len(a.cfg.Definitions.Paths) == 0 {
		return nil
	}
	if _, err := a.loader.Load(ctx, a.cfg.Definitions.Paths); err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	return nil
}

// profile returns the stored profile id, or a new one when it does not exist.
func (a *app) profile(ctx context.Context, id string) (*engine.Profile, error) {
	p, err := a.store.Profiles().Get(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		a.logger.Debug().Str("profile_id", id).Msg("Profile not found, starting a new one")
		return engine.NewProfile(id), nil
	}
	return p, err
}

func (a *app) fail(err error) error {
	return errors.Join(err, a.Close())
}

// Close releases the database, redis and telemetry.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
