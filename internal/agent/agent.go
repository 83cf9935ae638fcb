// Package agent wires the application together and runs the single consumer
// that applies queued events to the display wall.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tide-controller/internal/command"
	"tide-controller/internal/config"
	"tide-controller/internal/core"
	"tide-controller/internal/logger"
	"tide-controller/internal/mqtt"
	"tide-controller/internal/scheduler"
	"tide-controller/internal/script"
	"tide-controller/internal/server"
	"tide-controller/internal/stats"
	"tide-controller/internal/status"
)

const defaultShutdownTimeout = 10 * time.Second

type Agent struct {
	config *config.Config
	logger *slog.Logger

	events     *core.EventChannel
	bus        *core.NotificationBus
	display    *core.DisplayGroup
	stats      *stats.Recorder
	status     *status.Exposer
	dispatcher *command.Dispatcher
	applier    *Applier

	scripts    *script.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewAgent builds every component. It fails when the HTTP port cannot be bound.
func NewAgent(cfg *config.Config, build status.BuildInfo, log *slog.Logger) (*Agent, error) {
	if log == nil {
		log = logger.Discard()
	}

	a := &Agent{
		config:  cfg,
		logger:  log.With(logger.Component("agent")),
		events:  core.NewEventChannel(cfg.Events.Capacity, cfg.SendTimeout()),
		bus:     core.NewNotificationBus(),
		display: core.NewDisplayGroup(cfg.Display.Name, cfg.Display.Width, cfg.Display.Height),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.stats = stats.NewRecorder(reg)
	if err := a.stats.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.status = status.NewExposer(a.stats, a.display, status.ConfigView{
		DisplayName: cfg.Display.Name,
		Width:       cfg.Display.Width,
		Height:      cfg.Display.Height,
		Prefix:      cfg.Server.Prefix,
		StartedAt:   time.Now(),
		Build:       build,
	})

	registry := command.NewDefaultRegistry()
	a.dispatcher = command.NewDispatcher(registry, a.events,
		command.WithRecorder(a.stats),
		command.WithLogger(log),
	)
	a.applier = NewApplier(a.display, cfg.SessionsDir, cfg.ScreenshotsDir, log)

	a.scripts = script.NewEngine(a.dispatcher, registry.Routes(), cfg.ScriptsDir, a.bus, log)
	a.scheduler = scheduler.NewScheduler(a.dispatcher, a.scripts, cfg.SchedulesFile, log)

	srv, err := server.New(server.Options{
		Addr:           cfg.Addr(),
		Prefix:         cfg.Server.Prefix,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, server.Deps{
		Dispatcher: a.dispatcher,
		Status:     a.status,
		Bus:        a.bus,
		Schedules:  a.scheduler,
		Scripts:    a.scripts,
		Control:    NewControlHandler(a.scheduler, a.scripts, log),
		Gatherer:   reg,
		Logger:     log,
	})
	if err != nil {
		a.scripts.Close()
		return nil, err
	}
	a.server = srv

	a.mqttClient = mqtt.NewClient(cfg.MQTT, a.dispatcher, a.scripts, a.bus, log)

	return a, nil
}

// Addr is the bound HTTP address.
func (a *Agent) Addr() string { return a.server.Addr() }

// Run serves requests and applies events until ctx is done or an exit command
// arrives, then shuts everything down. Cancellation drains the queue; an exit
// command discards whatever is queued behind it.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.Serve(); err != nil {
			a.logger.Error("http server failed", logger.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				a.logger.Error("mqtt setup failed", logger.Error(err))
			}
		}()
	}

	a.scheduler.Start()
	a.notify()

	a.logger.Info("agent ready", slog.String("addr", a.Addr()), slog.String("display", a.config.Display.Name))
	exitRequested := a.consume(ctx)

	err := a.Shutdown(!exitRequested)
	select {
	case serr := <-serveErr:
		return errors.Join(serr, err)
	default:
		return err
	}
}

// consume applies events in arrival order. It reports whether it stopped
// because of an exit command.
func (a *Agent) consume(ctx context.Context) bool {
	for {
		ev, ok := a.events.Receive(ctx)
		if !ok {
			return false
		}
		if _, exit := ev.(core.Exit); exit {
			m := ev.Metadata()
			a.logger.Info("exit requested", logger.EventID(m.ID), logger.Source(m.Source))
			a.stats.RecordEvent(string(ev.Command()))
			return true
		}
		a.apply(ev)
	}
}

func (a *Agent) apply(ev core.Event) {
	m := ev.Metadata()
	start := time.Now()

	err := a.applier.Apply(ev)
	if errors.Is(err, errUnknownWindow) {
		a.logger.Info("close ignored", logger.EventID(m.ID), logger.Error(err))
		err = nil
	}
	a.stats.SetQueueDepth(a.events.Len())

	if err != nil {
		a.logger.Warn("event failed",
			logger.Command(string(ev.Command())), logger.EventID(m.ID), logger.Source(m.Source), logger.Error(err))
		return
	}

	a.stats.RecordEvent(string(ev.Command()))
	a.stats.RecordWindowCount(a.display.Count())
	a.logger.Debug("event applied",
		logger.Command(string(ev.Command())), logger.EventID(m.ID), logger.Duration(time.Since(start)))
	a.notify()
}

// notify publishes the current display and statistics to observers.
func (a *Agent) notify() {
	a.bus.Publish(core.Notification{Type: core.DisplayChanged, Payload: a.status.Dashboard()})
	a.bus.Publish(core.Notification{Type: core.StatisticsChanged, Payload: a.status.Statistics()})
}

// Shutdown stops the producers first, then the HTTP server, then closes the
// event channel. With drain set the queued events are still applied; otherwise
// they are discarded. Safe to call more than once.
func (a *Agent) Shutdown(drain bool) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down", slog.Bool("drain", drain))

		a.scheduler.Stop()
		a.scripts.Close()
		a.mqttClient.Disconnect()

		timeout := a.config.ShutdownTimeout()
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.shutdownErr = fmt.Errorf("http shutdown: %w", err)
		}

		a.events.Close()
		applied, discarded := 0, 0
		for {
			ev, ok := a.events.Receive(context.Background())
			if !ok {
				break
			}
			if _, exit := ev.(core.Exit); exit || !drain {
				discarded++
				continue
			}
			a.apply(ev)
			applied++
		}
		a.stats.SetQueueDepth(0)

		if discarded > 0 {
			a.logger.Warn("queued events discarded", slog.Int("count", discarded))
		}
		a.logger.Info("agent stopped", slog.Int("drained", applied))
	})
	return a.shutdownErr
}
