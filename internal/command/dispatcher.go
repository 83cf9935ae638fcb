package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tide-controller/internal/core"
	"tide-controller/internal/logger"
)

// Dispatch outcomes, used as metric labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeUnknown   = "unknown"
	OutcomeInvalid   = "invalid"
	OutcomeBusy      = "busy"
	OutcomeClosed    = "closed"
	OutcomeCancelled = "cancelled"
)

// UnregisteredName is recorded in place of names that match no route.
const UnregisteredName = "_unregistered"

// Recorder receives one outcome per dispatch attempt.
type Recorder interface {
	RecordCommand(name, outcome string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now for event stamping.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher validates commands and queues the resulting events. Every ingress
// (HTTP, scheduler, scripts, MQTT) goes through it. It holds no per-request state.
type Dispatcher struct {
	registry *Registry
	events   *core.EventChannel
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over a frozen registry and an event channel.
func NewDispatcher(registry *Registry, events *core.EventChannel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		events:   events,
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("dispatcher"))
	return d
}

// Registry exposes the routes served by this dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch looks up name, validates body and queues exactly one event. On any
// error no event has been queued.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, body []byte, meta core.Meta) (core.Event, error) {
	route, err := d.registry.Lookup(name)
	if err != nil {
		// Arbitrary client paths must not become metric labels.
		d.record(UnregisteredName, OutcomeUnknown)
		d.logger.DebugContext(ctx, "unknown command", logger.Command(name), logger.Source(meta.Source))
		return nil, err
	}

	ev, err := route.Decode(body)
	if err != nil {
		d.record(name, OutcomeInvalid)
		d.logger.DebugContext(ctx, "command rejected",
			logger.Command(name), logger.Source(meta.Source), logger.RequestID(meta.RequestID), logger.Error(err))
		return nil, err
	}

	if meta.ID == "" {
		meta.ID = core.NewEventID()
	}
	meta.AcceptedAt = d.now()
	ev = core.WithMeta(ev, meta)

	if err := d.events.Send(ctx, ev); err != nil {
		switch {
		case errors.Is(err, core.ErrChannelBusy):
			d.record(name, OutcomeBusy)
			d.logger.WarnContext(ctx, "event channel full", logger.Command(name), logger.RequestID(meta.RequestID))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			d.record(name, OutcomeCancelled)
		default:
			d.record(name, OutcomeClosed)
			d.logger.ErrorContext(ctx, "failed to queue event",
				logger.Command(name), logger.RequestID(meta.RequestID), logger.Error(err))
		}
		return nil, err
	}

	d.record(name, OutcomeAccepted)
	d.logger.InfoContext(ctx, "command accepted",
		logger.Command(name), logger.Source(meta.Source), logger.EventID(meta.ID), logger.RequestID(meta.RequestID))
	return ev, nil
}

func (d *Dispatcher) record(name, outcome string) {
	if d.recorder != nil {
		d.recorder.RecordCommand(name, outcome)
	}
}
