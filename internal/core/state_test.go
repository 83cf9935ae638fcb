package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tide-controller/internal/core"
)

func TestDisplayGroupSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	g := core.NewDisplayGroup("wall", 1920, 1080)
	g.Add(core.Window{UUID: "a", URI: "a.png", Type: core.WindowContent})

	snap := g.Snapshot()
	snap.Windows[0].URI = "changed"

	assert.Equal(t, "a.png", g.Snapshot().Windows[0].URI)
	assert.Equal(t, "wall", snap.Name)
	assert.Equal(t, 1920, snap.Width)
}

func TestDisplayGroupRemoveAndClear(t *testing.T) {
	t.Parallel()

	g := core.NewDisplayGroup("wall", 100, 100)
	g.Add(core.Window{UUID: "a"})
	g.Add(core.Window{UUID: "b"})

	assert.True(t, g.Remove("a"))
	assert.False(t, g.Remove("missing"))
	assert.Equal(t, 1, g.Count())

	g.Clear()
	assert.Equal(t, 0, g.Count())

	g.Replace([]core.Window{{UUID: "x", OpenedAt: time.Now()}})
	assert.Equal(t, "x", g.Snapshot().Windows[0].UUID)
}

func TestNotificationBusDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	bus := core.NewNotificationBus()
	sub := bus.Subscribe(core.DisplayChanged)

	for i := 0; i < 150; i++ {
		bus.Publish(core.Notification{Type: core.DisplayChanged, Payload: i})
	}
	assert.Len(t, sub, 100)

	bus.Publish(core.Notification{Type: core.StatisticsChanged})
	assert.Len(t, sub, 100)

	bus.Unsubscribe(sub, core.DisplayChanged)
	for len(sub) > 0 {
		<-sub
	}
	bus.Publish(core.Notification{Type: core.DisplayChanged})
	assert.Empty(t, sub)
}
