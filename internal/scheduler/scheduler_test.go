package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide-controller/internal/core"
	"tide-controller/internal/logger"
	"tide-controller/internal/scheduler"
)

type dispatched struct {
	name string
	body string
	meta core.Meta
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, body []byte, meta core.Meta) (core.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatched{name: name, body: string(body), meta: meta})
	if f.err != nil {
		return nil, f.err
	}
	return core.Clear{Meta: meta}, nil
}

type fakeScripts struct{ ran []string }

func (f *fakeScripts) RunScript(name string) error {
	f.ran = append(f.ran, name)
	return nil
}

func TestAddPersistsAndReloads(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "schedules.json")
	d := &fakeDispatcher{}

	s := scheduler.NewScheduler(d, nil, file, logger.Discard())
	id, err := s.Add(scheduler.ScheduleEntry{Spec: "0 8 * * *", Command: "open", Payload: json.RawMessage(`{"uri":"morning.png"}`)})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.Add(scheduler.ScheduleEntry{Spec: "@every 1h", Script: "rotate.lua"})
	require.NoError(t, err)

	reloaded := scheduler.NewScheduler(d, nil, file, logger.Discard())
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "open", list[0].Entry.Command)
	assert.JSONEq(t, `{"uri":"morning.png"}`, string(list[0].Entry.Payload))
	assert.Equal(t, "rotate.lua", list[1].Entry.Script)

	reloaded.Remove(list[0].ID)
	assert.Len(t, reloaded.GetAll(), 1)
}

func TestAddValidatesEntries(t *testing.T) {
	t.Parallel()

	s := scheduler.NewScheduler(&fakeDispatcher{}, nil, filepath.Join(t.TempDir(), "s.json"), logger.Discard())

	_, err := s.Add(scheduler.ScheduleEntry{Spec: "@every 1m"})
	assert.ErrorIs(t, err, scheduler.ErrEmptyEntry)

	_, err = s.Add(scheduler.ScheduleEntry{Spec: "@every 1m", Command: "clear", Script: "x.lua"})
	assert.ErrorIs(t, err, scheduler.ErrAmbiguousEntry)

	_, err = s.Add(scheduler.ScheduleEntry{Spec: "not a spec", Command: "clear"})
	assert.Error(t, err)
	assert.Empty(t, s.GetAll())
}

func TestTriggerGoesThroughDispatcher(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	scripts := &fakeScripts{}
	s := scheduler.NewScheduler(d, scripts, filepath.Join(t.TempDir(), "s.json"), logger.Discard())

	require.NoError(t, s.Trigger(scheduler.ScheduleEntry{Command: "screenshot", Payload: json.RawMessage(`{"uri":"wall.png"}`)}))
	require.NoError(t, s.Trigger(scheduler.ScheduleEntry{Script: "demo.lua"}))

	require.Len(t, d.calls, 1)
	assert.Equal(t, "screenshot", d.calls[0].name)
	assert.JSONEq(t, `{"uri":"wall.png"}`, d.calls[0].body)
	assert.Equal(t, core.SourceScheduler, d.calls[0].meta.Source)
	assert.Equal(t, []string{"demo.lua"}, scripts.ran)
}

func TestTriggerReportsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := scheduler.NewScheduler(&fakeDispatcher{err: boom}, nil, filepath.Join(t.TempDir(), "s.json"), logger.Discard())

	assert.ErrorIs(t, s.Trigger(scheduler.ScheduleEntry{Command: "clear"}), boom)
	assert.ErrorIs(t, s.Trigger(scheduler.ScheduleEntry{Script: "x.lua"}), scheduler.ErrNoScriptRunner)
}
