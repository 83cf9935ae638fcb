// Package status renders read-only views of the running application. Views are
// built from snapshots on every call and never touch the command path.
package status

import (
	"time"

	"tide-controller/internal/core"
	"tide-controller/internal/stats"
)

// StatisticsSource supplies statistics snapshots.
type StatisticsSource interface {
	Snapshot() stats.Snapshot
}

// DisplaySource supplies the current display state.
type DisplaySource interface {
	Snapshot() core.DisplayState
}

// DashboardView is what the control page shows.
type DashboardView struct {
	Name        string        `json:"name"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Count       int           `json:"count"`
	Windows     []core.Window `json:"windows"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// ConfigView is the subset of configuration exposed to clients.
type ConfigView struct {
	DisplayName string    `json:"display_name"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Prefix      string    `json:"prefix"`
	StartedAt   time.Time `json:"started_at"`
	Build       BuildInfo `json:"build"`
}

// Exposer assembles the views.
type Exposer struct {
	stats   StatisticsSource
	display DisplaySource
	config  ConfigView
	now     func() time.Time
}

// NewExposer creates an Exposer. config is copied.
func NewExposer(statsSrc StatisticsSource, display DisplaySource, config ConfigView) *Exposer {
	return &Exposer{stats: statsSrc, display: display, config: config, now: time.Now}
}

// Statistics returns a fresh statistics snapshot.
func (e *Exposer) Statistics() stats.Snapshot {
	return e.stats.Snapshot()
}

// Dashboard returns the current windows of the wall.
func (e *Exposer) Dashboard() DashboardView {
	state := e.display.Snapshot()
	windows := state.Windows
	if windows == nil {
		windows = []core.Window{}
	}
	return DashboardView{
		Name:        state.Name,
		Width:       state.Width,
		Height:      state.Height,
		Count:       len(windows),
		Windows:     windows,
		GeneratedAt: e.now(),
	}
}

// Config returns the exposed configuration.
func (e *Exposer) Config() ConfigView {
	return e.config
}
