// Package stats gathers usage statistics of the wall: how many commands were
// received, which events were applied and how many windows are open. Counters
// are mirrored into Prometheus collectors.
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time copy of the statistics. It is rebuilt on every call
// to Recorder.Snapshot and never shared.
type Snapshot struct {
	EventCount             uint64                       `json:"event_count"`
	LastEvent              string                       `json:"last_event"`
	LastEventAt            time.Time                    `json:"last_event_date,omitzero"`
	WindowCount            int                          `json:"window_count"`
	AccumulatedWindowCount uint64                       `json:"accumulated_window_count"`
	CountsSince            time.Time                    `json:"counts_since"`
	Commands               map[string]map[string]uint64 `json:"commands"`
	QueueDepth             int                          `json:"queue_depth"`
	CollectedAt            time.Time                    `json:"collected_at"`
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu sync.RWMutex

	eventCount       uint64
	lastEvent        string
	lastEventAt      time.Time
	windowCount      int
	accumulatedCount uint64
	countsSince      time.Time
	commands         map[string]map[string]uint64
	queueDepth       int
	now              func() time.Time

	commandsTotal *prometheus.CounterVec
	appliedTotal  *prometheus.CounterVec
	windows       prometheus.Gauge
	depth         prometheus.Gauge
	accumulated   prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

// NewRecorder creates a recorder. Collectors are registered with Register.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	now := time.Now
	return &Recorder{
		commands:    make(map[string]map[string]uint64),
		countsSince: now(),
		now:         now,
		registerer:  registerer,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide",
			Name:      "commands_total",
			Help:      "Remote commands received, by command and outcome",
		}, []string{"command", "outcome"}),
		appliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide",
			Name:      "events_applied_total",
			Help:      "Events applied by the application core",
		}, []string{"command"}),
		windows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tide",
			Name:      "windows",
			Help:      "Windows currently open on the wall",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tide",
			Name:      "event_queue_depth",
			Help:      "Events waiting to be applied",
		}),
		accumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tide",
			Name:      "windows_opened_total",
			Help:      "Windows opened since start",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (r *Recorder) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{r.commandsTotal, r.appliedTotal, r.windows, r.depth, r.accumulated} {
		if err := r.registerer.Register(c); err != nil {
			return err
		}
	}
	r.registered = true
	return nil
}

// RecordCommand counts one dispatch attempt.
func (r *Recorder) RecordCommand(name, outcome string) {
	r.mu.Lock()
	byOutcome, ok := r.commands[name]
	if !ok {
		byOutcome = make(map[string]uint64)
		r.commands[name] = byOutcome
	}
	byOutcome[outcome]++
	r.mu.Unlock()

	r.commandsTotal.WithLabelValues(name, outcome).Inc()
}

// RecordEvent counts an event applied by the application core.
func (r *Recorder) RecordEvent(name string) {
	r.mu.Lock()
	r.eventCount++
	r.lastEvent = name
	r.lastEventAt = r.now()
	r.mu.Unlock()

	r.appliedTotal.WithLabelValues(name).Inc()
}

// RecordWindowCount updates the open window count. Increases are added to the
// accumulated count.
func (r *Recorder) RecordWindowCount(n int) {
	r.mu.Lock()
	var added int
	if n > r.windowCount {
		added = n - r.windowCount
		r.accumulatedCount += uint64(added)
	}
	r.windowCount = n
	r.mu.Unlock()

	r.windows.Set(float64(n))
	if added > 0 {
		r.accumulated.Add(float64(added))
	}
}

// SetQueueDepth records the current event backlog.
func (r *Recorder) SetQueueDepth(n int) {
	r.mu.Lock()
	r.queueDepth = n
	r.mu.Unlock()

	r.depth.Set(float64(n))
}

// Snapshot copies the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]map[string]uint64, len(r.commands))
	for name, byOutcome := range r.commands {
		c := make(map[string]uint64, len(byOutcome))
		for outcome, n := range byOutcome {
			c[outcome] = n
		}
		commands[name] = c
	}

	return Snapshot{
		EventCount:             r.eventCount,
		LastEvent:              r.lastEvent,
		LastEventAt:            r.lastEventAt,
		WindowCount:            r.windowCount,
		AccumulatedWindowCount: r.accumulatedCount,
		CountsSince:            r.countsSince,
		Commands:               commands,
		QueueDepth:             r.queueDepth,
		CollectedAt:            r.now(),
	}
}
