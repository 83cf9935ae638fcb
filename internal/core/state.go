package core

import (
	"sync"
	"time"
)

// Window types.
const (
	WindowContent    = "content"
	WindowWebBrowser = "webbrowser"
	WindowWhiteboard = "whiteboard"
)

// Window is one piece of content shown on the display wall.
type Window struct {
	UUID     string    `json:"uuid"`
	URI      string    `json:"uri"`
	Type     string    `json:"type"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	OpenedAt time.Time `json:"opened_at"`
}

// DisplayGroup holds the single source of truth for what is on the wall.
type DisplayGroup struct {
	mu      sync.RWMutex
	name    string
	width   int
	height  int
	windows []Window
}

// DisplayState is a detached copy of a DisplayGroup.
type DisplayState struct {
	Name    string   `json:"name"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Windows []Window `json:"windows"`
}

// NewDisplayGroup creates an empty display group of the given wall size.
func NewDisplayGroup(name string, width, height int) *DisplayGroup {
	return &DisplayGroup{name: name, width: width, height: height}
}

// Snapshot returns a copy that is safe to read while the group changes.
func (g *DisplayGroup) Snapshot() DisplayState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	windows := make([]Window, len(g.windows))
	copy(windows, g.windows)
	return DisplayState{
		Name:    g.name,
		Width:   g.width,
		Height:  g.height,
		Windows: windows,
	}
}

// Add appends a window and returns the new window count.
func (g *DisplayGroup) Add(w Window) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows = append(g.windows, w)
	return len(g.windows)
}

// Remove deletes the window with the given uuid. It reports whether one was found.
func (g *DisplayGroup) Remove(uuid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, w := range g.windows {
		if w.UUID == uuid {
			g.windows = append(g.windows[:i], g.windows[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every window.
func (g *DisplayGroup) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows = nil
}

// Replace swaps the whole window list, e.g. when a session is loaded.
func (g *DisplayGroup) Replace(windows []Window) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows = make([]Window, len(windows))
	copy(g.windows, windows)
}

// Count returns the number of windows.
func (g *DisplayGroup) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.windows)
}
