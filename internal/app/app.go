package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/grpcserver"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/notify"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/scheduler"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/web"
)

// Options selects what New builds around the coordinator
type Options struct {
	// Serve builds the web, gRPC, health and scheduler surfaces
	Serve   bool
	Version string
	// Loader overrides the configured model backend
	Loader model.Loader
}

// App owns one coordinator and everything wired around it
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Services    *service.Manager
	Health      *health.Manager
	Coordinator *coordinator.Coordinator
	Sources     *camera.Registry
	Sinks       *notify.Fanout
	State       *state.Manager
	MQTT        *notify.MQTTSink
	Web         *web.Server
	GRPC        *grpcserver.Server
	Scheduler   *scheduler.Scheduler

	opts   Options
	ffmpeg *video.FFmpegWrapper
}

// New builds the application from a validated configuration
func New(cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Services: service.NewManager(log, cfg.Counter.Notify.EventBusSize),
		Sinks:    notify.NewFanout(),
		opts:     opts,
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}
	loader := opts.Loader
	if loader == nil {
		if loader, err = model.LoaderFor(modelCfg, log); err != nil {
			return nil, err
		}
	}

	var grabber camera.FrameGrabber
	if camera.NeedsGrabber(cfg.Counter.Sources) {
		if a.ffmpeg, err = video.NewFFmpegWrapper(log); err != nil {
			return nil, fmt.Errorf("ffmpeg is required for rtsp and usb sources: %w", err)
		}
		grabber = a.ffmpeg
	}
	if a.Sources, err = camera.BuildRegistry(cfg.Counter.Sources, grabber, log); err != nil {
		return nil, err
	}

	if err := a.buildSinks(); err != nil {
		return nil, err
	}

	a.Coordinator = coordinator.New(
		model.NewManager(modelCfg, loader, log.Named("model")),
		a.Sources,
		a.Sinks,
		coordinator.Options{
			FetchTimeout:     cfg.Counter.Inference.FetchTimeout,
			InferenceTimeout: cfg.Counter.Inference.InferenceTimeout,
			LoadTimeout:      cfg.Counter.Inference.LoadTimeout,
			NotifyTimeout:    cfg.Counter.Notify.DeliveryTimeout,
			JPEGQuality:      cfg.Counter.Inference.JPEGQuality,
		},
		log.Named("coordinator"),
		coordinator.WithStateListener(a.onStateChange),
	)

	if opts.Serve {
		if err := a.buildServers(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) buildSinks() error {
	cc := a.Config.Counter

	a.Sinks.Add("bus", notify.NewBusSink(a.Services.GetEventBus(), cc.InstanceID))

	if cc.Notify.MQTT.Enabled {
		a.MQTT = notify.NewMQTTSink(cc.Notify.MQTT, cc.InstanceID, a.Logger)
		a.Services.Register(a.MQTT)
		a.Sinks.Add("mqtt", a.MQTT)
	}

	if cc.State.Enabled {
		mgr, err := state.NewManager(cc.State.DBPath, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		a.State = mgr
		a.Sinks.Add("state", state.NewResultSink(mgr, cc.InstanceID))
	}
	return nil
}

func (a *App) buildServers() error {
	cc := a.Config.Counter

	a.GRPC = grpcserver.NewServer(&cc.GRPC, a.Logger)
	a.Coordinator.AddStateListener(a.GRPC.OnStateChange)
	a.Services.Register(a.GRPC)

	a.Web = web.NewServer(&cc.Web, a.Coordinator, a.Sources, a.Logger)
	a.Web.SetVersion(a.opts.Version)
	a.Services.Register(a.Web)

	sched, err := scheduler.New(cc.Scheduler, a.Coordinator, a.Logger)
	if err != nil {
		return err
	}
	a.Scheduler = sched
	a.Services.Register(sched)

	a.Health = health.NewManager(a.Logger, a.Services)
	a.Health.RegisterChecker(health.NewCoordinatorChecker(a.Coordinator))
	a.Health.RegisterChecker(health.NewSourcesChecker(a.Sources, cc.Inference.FetchTimeout))
	a.Health.RegisterChecker(health.NewStorageChecker(cc.DataDir))
	if a.State != nil {
		a.Health.RegisterChecker(health.NewDatabaseChecker(a.State))
	}
	if a.MQTT != nil {
		a.Health.RegisterChecker(health.NewMQTTChecker(a.MQTT))
	}
	if cc.Model.Backend == "remote" {
		a.Health.RegisterChecker(health.NewInferenceServiceChecker(cc.Model.Path))
	}
	return nil
}

// Start restores the last result, starts the services and loads the model.
// A model load failure is returned as a detection.ErrModelLoad error; the
// services keep running so the failure stays visible.
func (a *App) Start(ctx context.Context) error {
	a.restore(ctx)

	if a.Health != nil {
		if err := a.Health.Start(ctx, a.Config.Counter.Health.Port); err != nil {
			return err
		}
	}
	if err := a.Services.Start(ctx); err != nil {
		return err
	}

	if err := a.Coordinator.Start(ctx); err != nil {
		if !errors.Is(err, detection.ErrModelLoad) {
			err = detection.NewError(detection.KindModelLoad, "", err)
		}
		return err
	}
	return nil
}

func (a *App) restore(ctx context.Context) {
	if a.State == nil || !a.Config.Counter.State.RestoreOnStart {
		return
	}
	r, err := a.State.LoadResult(ctx, a.Config.Counter.InstanceID)
	if err != nil {
		a.Logger.Warn("Failed to restore last result", "error", err)
		return
	}
	if r != nil && a.Coordinator.Seed(r) {
		a.Logger.Info("Restored last result",
			"source_id", r.SourceID(),
			"count", r.Count(),
			"observed_at", r.ObservedAt(),
		)
	}
}

// onStateChange publishes coordinator transitions and records model load outcomes
func (a *App) onStateChange(from, to coordinator.State) {
	bus := a.Services.GetEventBus()
	bus.Publish(service.Event{
		Type:   service.EventTypeStateChanged,
		Source: "coordinator",
		Data: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	})

	var modelState string
	switch {
	case from == coordinator.StateLoading && to == coordinator.StateReady:
		modelState = "loaded"
		bus.Publish(service.Event{
			Type:   service.EventTypeModelLoaded,
			Source: "coordinator",
			Data:   map[string]interface{}{"model_path": a.Config.Counter.Model.Path},
		})
	case from == coordinator.StateLoading && to == coordinator.StateFailed:
		modelState = "failed"
		bus.Publish(service.Event{
			Type:   service.EventTypeModelFailed,
			Source: "coordinator",
			Data:   map[string]interface{}{"model_path": a.Config.Counter.Model.Path},
		})
	default:
		return
	}

	if a.State != nil {
		key := state.ModelStateKey(a.Config.Counter.InstanceID)
		if err := a.State.SaveSystemState(context.Background(), key, modelState); err != nil {
			a.Logger.Warn("Failed to record model state", "error", err)
		}
	}
}

// OnConfigChange applies a reloaded configuration. Only the schedule is
// applied live; model, source and transport changes need a restart.
func (a *App) OnConfigChange(ctx context.Context, oldConfig, newConfig *config.Config) error {
	if config.ModelChanged(oldConfig, newConfig) {
		a.Logger.Warn("Model configuration changed, restart required to apply it")
	}
	if !sourcesEqual(oldConfig.Counter.Sources, newConfig.Counter.Sources) {
		a.Logger.Warn("Source configuration changed, restart required to apply it")
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Reschedule(newConfig.Counter.Scheduler); err != nil {
			return fmt.Errorf("failed to reschedule: %w", err)
		}
	}
	return nil
}

func sourcesEqual(a, b []config.SourceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close stops every service, the coordinator and the database
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Health != nil {
		err = multierr.Append(err, a.Health.Stop(ctx))
	}
	// pending notifications drain before the sinks stop
	err = multierr.Append(err, a.Coordinator.Close(ctx))
	err = multierr.Append(err, a.Services.Shutdown(ctx))
	return multierr.Append(err, a.closeResources())
}

func (a *App) closeResources() error {
	if a.State == nil {
		return nil
	}
	err := a.State.Close()
	a.State = nil
	return err
}
