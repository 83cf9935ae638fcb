package agent

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide-controller/internal/core"
	"tide-controller/internal/scheduler"
	"tide-controller/internal/server"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []server.Message
}

func (b *recordingBroadcaster) Broadcast(msg server.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBroadcaster) last(t *testing.T) server.Message {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.msgs)
	return b.msgs[len(b.msgs)-1]
}

func inbound(t *testing.T, typ string, payload any) server.Inbound {
	t.Helper()
	msg := server.Inbound{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = data
	}
	return msg
}

func TestControlSchedules(t *testing.T) {
	a := newTestAgent(t)
	h := NewControlHandler(a.scheduler, a.scripts, nil)
	out := &recordingBroadcaster{}

	h.Handle(inbound(t, "addSchedule", map[string]string{"spec": "@every 1h", "command": "clear"}), out)
	msg := out.last(t)
	require.Equal(t, "schedule_list", msg.Type)
	list, ok := msg.Payload.([]scheduler.Listed)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "clear", list[0].Entry.Command)
	_, err := os.Stat(a.config.SchedulesFile)
	require.NoError(t, err, "schedules are persisted")

	h.Handle(inbound(t, "triggerSchedule", map[string]int{"id": list[0].ID}), out)
	require.Equal(t, 1, a.events.Len())
	ev := receiveEvent(t, a)
	assert.Equal(t, core.CmdClear, ev.Command())
	assert.Equal(t, core.SourceScheduler, ev.Metadata().Source)

	h.Handle(inbound(t, "removeSchedule", map[string]int{"id": list[0].ID}), out)
	msg = out.last(t)
	assert.Equal(t, "schedule_list", msg.Type)
	assert.Empty(t, a.scheduler.List())

	h.Handle(inbound(t, "removeSchedule", map[string]int{"id": list[0].ID}), out)
	assert.Equal(t, "error", out.last(t).Type)

	h.Handle(inbound(t, "addSchedule", map[string]string{"spec": "not a spec", "command": "clear"}), out)
	assert.Equal(t, "error", out.last(t).Type)
	assert.Empty(t, a.scheduler.List())
}

func TestControlScripts(t *testing.T) {
	a := newTestAgent(t)
	h := NewControlHandler(a.scheduler, a.scripts, nil)
	out := &recordingBroadcaster{}

	h.Handle(inbound(t, "saveScriptCode", map[string]string{"name": "wall", "code": "whiteboard()"}), out)
	msg := out.last(t)
	require.Equal(t, "script_list", msg.Type)
	assert.Equal(t, []string{"wall.lua"}, msg.Payload)

	h.Handle(inbound(t, "getScriptCode", map[string]string{"name": "wall"}), out)
	msg = out.last(t)
	require.Equal(t, "script_code", msg.Type)
	assert.Equal(t, scriptRef{Name: "wall", Code: "whiteboard()"}, msg.Payload)

	h.Handle(inbound(t, "runScript", map[string]string{"name": "wall"}), out)
	require.Eventually(t, func() bool { return a.events.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := receiveEvent(t, a)
	assert.Equal(t, core.CmdWhiteboard, ev.Command())
	assert.Equal(t, core.SourceScript, ev.Metadata().Source)

	h.Handle(inbound(t, "listScripts", nil), out)
	assert.Equal(t, []string{"wall.lua"}, out.last(t).Payload)

	h.Handle(inbound(t, "deleteScript", map[string]string{"name": "wall"}), out)
	msg = out.last(t)
	require.Equal(t, "script_list", msg.Type)
	assert.Equal(t, []string{}, msg.Payload)

	h.Handle(inbound(t, "runScript", map[string]string{"name": "wall"}), out)
	assert.Equal(t, "error", out.last(t).Type)
}

func TestControlRejectsBadMessages(t *testing.T) {
	a := newTestAgent(t)
	h := NewControlHandler(a.scheduler, a.scripts, nil)
	out := &recordingBroadcaster{}

	h.Handle(inbound(t, "reboot", nil), out)
	assert.Equal(t, "error", out.last(t).Type)

	h.Handle(inbound(t, "runScript", nil), out)
	assert.Equal(t, "error", out.last(t).Type)

	h.Handle(server.Inbound{Type: "addSchedule", Payload: json.RawMessage(`[1,2]`)}, out)
	assert.Equal(t, "error", out.last(t).Type)
	assert.Equal(t, 0, a.events.Len())
}

func TestScriptsReachableOverHTTP(t *testing.T) {
	a := newTestAgent(t)
	require.NoError(t, a.scripts.SaveScript("evening", "clear()"))
	go func() { _ = a.server.Serve() }()

	resp, err := httpGet(t, "http://"+a.Addr()+"/tide/scripts")
	require.NoError(t, err)
	assert.JSONEq(t, `["evening.lua"]`, resp)
}
