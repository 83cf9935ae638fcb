package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tide-controller/internal/core"
	"tide-controller/internal/logger"
)

var (
	ErrEmptyEntry     = errors.New("schedule needs a command or a script")
	ErrAmbiguousEntry = errors.New("schedule must not have both a command and a script")
	ErrNoScriptRunner = errors.New("scripts are not available")
)

// ScheduleEntry defines the structure for a saved schedule. Exactly one of
// Command and Script is set.
type ScheduleEntry struct {
	Spec    string          `json:"spec"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Script  string          `json:"script,omitempty"`
}

// Listed is a schedule with its id and next activation.
type Listed struct {
	ID    int           `json:"id"`
	Entry ScheduleEntry `json:"entry"`
	Next  time.Time     `json:"next,omitzero"`
}

// Dispatcher queues a command exactly like an HTTP request would.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, body []byte, meta core.Meta) (core.Event, error)
}

// ScriptRunner starts a named script.
type ScriptRunner interface {
	RunScript(name string) error
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron          *cron.Cron
	store         map[cron.EntryID]ScheduleEntry
	dispatcher    Dispatcher
	scripts       ScriptRunner
	mu            sync.RWMutex
	schedulesFile string
	logger        *slog.Logger
}

// NewScheduler creates a scheduler and loads persisted schedules. scripts may be nil.
func NewScheduler(d Dispatcher, scripts ScriptRunner, schedulesFile string, log *slog.Logger) *Scheduler {
	log = log.With(logger.Component("scheduler"))
	s := &Scheduler{
		cron:          cron.New(cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelDebug)))),
		store:         make(map[cron.EntryID]ScheduleEntry),
		dispatcher:    d,
		scripts:       scripts,
		schedulesFile: schedulesFile,
		logger:        log,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("schedules", len(s.GetAll())))
}

// Stop halts the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Add creates a new cron job and persists it.
func (s *Scheduler) Add(entry ScheduleEntry) (int, error) {
	if err := validateEntry(entry); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(entry.Spec, func() { s.execute(entry) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule spec %q: %w", entry.Spec, err)
	}
	s.store[id] = entry
	s.save()
	s.logger.Info("schedule added", slog.Int("id", int(id)), slog.String("spec", entry.Spec),
		logger.Command(entry.Command), slog.String("script", entry.Script))
	return int(id), nil
}

// Remove deletes a cron job.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
	s.logger.Info("schedule removed", slog.Int("id", id))
}

// GetAll returns a copy of the current schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]ScheduleEntry, len(s.store))
	for k, v := range s.store {
		newMap[k] = v
	}
	return newMap
}

// List returns the schedules ordered by id, with their next activation time.
func (s *Scheduler) List() []Listed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Listed, 0, len(s.store))
	for id, entry := range s.store {
		out = append(out, Listed{ID: int(id), Entry: entry, Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trigger runs an entry immediately, outside of its schedule.
func (s *Scheduler) Trigger(entry ScheduleEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return s.run(entry)
}

func (s *Scheduler) execute(entry ScheduleEntry) {
	if err := s.run(entry); err != nil {
		s.logger.Warn("scheduled job failed", slog.String("spec", entry.Spec),
			logger.Command(entry.Command), slog.String("script", entry.Script), logger.Error(err))
	}
}

func (s *Scheduler) run(entry ScheduleEntry) error {
	if entry.Script != "" {
		if s.scripts == nil {
			return ErrNoScriptRunner
		}
		return s.scripts.RunScript(entry.Script)
	}
	_, err := s.dispatcher.Dispatch(context.Background(), entry.Command, entry.Payload,
		core.Meta{Source: core.SourceScheduler})
	return err
}

func validateEntry(entry ScheduleEntry) error {
	switch {
	case entry.Command == "" && entry.Script == "":
		return ErrEmptyEntry
	case entry.Command != "" && entry.Script != "":
		return ErrAmbiguousEntry
	}
	return nil
}

func (s *Scheduler) save() {
	entries := make([]ScheduleEntry, 0, len(s.store))
	ids := make([]cron.EntryID, 0, len(s.store))
	for id := range s.store {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entries = append(entries, s.store[id])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal schedules", logger.Error(err))
		return
	}
	if err := os.WriteFile(s.schedulesFile, data, 0o644); err != nil {
		s.logger.Error("failed to write schedules", slog.String("file", s.schedulesFile), logger.Error(err))
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read schedules", slog.String("file", s.schedulesFile), logger.Error(err))
		}
		return
	}

	var entries []ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Error("failed to decode schedules", slog.String("file", s.schedulesFile), logger.Error(err))
		return
	}

	s.logger.Info("loading schedules", slog.Int("count", len(entries)), slog.String("file", s.schedulesFile))
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			s.logger.Warn("skipping schedule", slog.String("spec", entry.Spec), logger.Error(err))
			continue
		}
		jobEntry := entry
		newID, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry) })
		if err != nil {
			s.logger.Warn("skipping schedule", slog.String("spec", entry.Spec), logger.Error(err))
			continue
		}
		s.store[newID] = jobEntry
	}
}
