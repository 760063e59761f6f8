package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"studysched/internal/config"
	"studysched/internal/eventbus"
	"studysched/internal/plan"
	"studysched/internal/runtime/supervisor"
	"studysched/internal/services/scheduling"
	"studysched/internal/storage"
	"studysched/internal/survey"
	logx "studysched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	plans   *plan.Registry
	surveys *survey.Catalog
	sched   *scheduling.Service
}

// Sources are the study files a config points at, loaded and validated.
type Sources struct {
	Plans   []plan.Plan
	Surveys *survey.Catalog
}

// LoadSources reads the plan file and the optional survey catalog named by
// cfg. Every plan must validate against the configured study.
func LoadSources(cfg *config.Config, resolve func(string) string) (Sources, error) {
	if strings.TrimSpace(cfg.Study.ID) == "" {
		return Sources{}, fmt.Errorf("study.id is required")
	}
	if strings.TrimSpace(cfg.Plans) == "" {
		return Sources{}, fmt.Errorf("plans is required")
	}
	plans, err := plan.LoadFile(resolve(cfg.Plans))
	if err != nil {
		return Sources{}, err
	}
	// Validate through a throwaway registry so duplicate guids are caught too.
	if _, err := plan.NewRegistry(cfg.Study, plans...); err != nil {
		return Sources{}, err
	}
	var cat *survey.Catalog
	if p := strings.TrimSpace(cfg.Surveys); p != "" {
		if cat, err = survey.LoadCatalog(resolve(p)); err != nil {
			return Sources{}, err
		}
	}
	return Sources{Plans: plans, Surveys: cat}, nil
}

// ValidateConfig checks everything a reload would apply, without side
// effects.
func ValidateConfig(cfg *config.Config, resolve func(string) string) error {
	var errs []error
	if _, err := scheduling.ConfigFrom(cfg.Scheduling); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg, resolve); err != nil {
		errs = append(errs, err)
	}
	if _, err := LoadSources(cfg, resolve); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg, cfgm.ResolvePath); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.Component("app"))

	sc, err := mapStorageConfig(cfg, cfgm.ResolvePath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	src, err := LoadSources(cfg, cfgm.ResolvePath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	plans, err := plan.NewRegistry(cfg.Study, src.Plans...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	schedCfg, err := scheduling.ConfigFrom(cfg.Scheduling)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bus := eventbus.New()
	deps := scheduling.Deps{
		Plans:      plans,
		Activities: store,
		Events:     store,
		Bus:        bus,
	}
	if src.Surveys != nil {
		deps.Surveys = src.Surveys
	}
	schedSvc, err := scheduling.New(schedCfg, deps, log.With(logx.Component("scheduling")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("study loaded",
		logx.String("study", cfg.Study.ID),
		logx.Int("plans", plans.Len()),
		logx.Bool("survey_catalog", src.Surveys != nil),
	)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		plans:   plans,
		surveys: src.Surveys,
		sched:   schedSvc,
	}, nil
}

func (a *App) Scheduling() *scheduling.Service { return a.sched }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the background loops: config watching, hot-reload fan-out and
// the debug event log.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg, a.cfgm.ResolvePath)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("health_id", e.HealthID),
					logx.Time("time", e.Time),
				)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.apply(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// apply fans a committed config out to the live components. Sections that
// cannot change at runtime only produce a warning.
func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("logging") {
		a.logs.Apply(next.Logging.Logx())
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed("scheduling") {
		if cfg, err := scheduling.ConfigFrom(next.Scheduling); err != nil {
			a.log.Warn("invalid scheduling config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(cfg)
		}
	}
	if changed("study") || changed("plans") || changed("surveys") {
		a.reloadSources(next)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// ReloadSources re-reads the plan file and survey catalog of the current
// config. Editing those files does not touch the config file, so the watcher
// never sees it; the CLI triggers this on SIGHUP.
func (a *App) ReloadSources() {
	a.reloadSources(a.cfgm.Get())
}

func (a *App) reloadSources(cfg *config.Config) {
	src, err := LoadSources(cfg, a.cfgm.ResolvePath)
	if err != nil {
		a.log.Warn("study sources rejected; keeping previous", logx.Err(err))
		return
	}
	if err := a.plans.Replace(cfg.Study, src.Plans); err != nil {
		a.log.Warn("plans rejected; keeping previous", logx.Err(err))
		return
	}
	switch {
	case src.Surveys != nil && a.surveys != nil:
		a.surveys.Replace(src.Surveys.Versions())
	case (src.Surveys == nil) != (a.surveys == nil):
		a.log.Warn("survey catalog added or removed; restart required for changes to take effect")
	}
	a.log.Info("study sources reloaded", logx.Int("plans", a.plans.Len()))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, err)
		} else if err != nil {
			a.log.Warn("supervisor did not stop in time", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
