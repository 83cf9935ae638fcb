package agent

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide-controller/internal/core"
)

func newTestApplier(t *testing.T) (*Applier, *core.DisplayGroup) {
	t.Helper()
	display := core.NewDisplayGroup("Wall", 1600, 900)
	a := NewApplier(display, filepath.Join(t.TempDir(), "sessions"), filepath.Join(t.TempDir(), "shots"), nil)
	a.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	n := 0
	a.newID = func() string {
		n++
		return fmt.Sprintf("w-%d", n)
	}
	return a, display
}

func TestApplyOpenTilesWindows(t *testing.T) {
	a, display := newTestApplier(t)

	require.NoError(t, a.Apply(core.Open{URI: "a.png"}))
	state := display.Snapshot()
	require.Len(t, state.Windows, 1)
	assert.Equal(t, core.Window{
		UUID: "w-1", URI: "a.png", Type: core.WindowContent,
		X: 0, Y: 0, Width: 1600, Height: 900,
		OpenedAt: a.now(),
	}, state.Windows[0])

	require.NoError(t, a.Apply(core.Browse{URI: "https://example.org"}))
	require.NoError(t, a.Apply(core.Whiteboard{}))

	state = display.Snapshot()
	require.Len(t, state.Windows, 3)
	// 3 windows: 2 columns, 2 rows.
	assert.Equal(t, [4]int{0, 0, 800, 450}, rect(state.Windows[0]))
	assert.Equal(t, [4]int{800, 0, 800, 450}, rect(state.Windows[1]))
	assert.Equal(t, [4]int{0, 450, 800, 450}, rect(state.Windows[2]))
	assert.Equal(t, core.WindowWebBrowser, state.Windows[1].Type)
	assert.Equal(t, core.WindowWhiteboard, state.Windows[2].Type)
}

func rect(w core.Window) [4]int { return [4]int{w.X, w.Y, w.Width, w.Height} }

func TestApplyCloseAndClear(t *testing.T) {
	a, display := newTestApplier(t)
	require.NoError(t, a.Apply(core.Open{URI: "a.png"}))
	require.NoError(t, a.Apply(core.Open{URI: "b.png"}))

	err := a.Apply(core.Close{UUID: "missing"})
	assert.ErrorIs(t, err, errUnknownWindow)
	assert.Equal(t, 2, display.Count())

	require.NoError(t, a.Apply(core.Close{UUID: "w-1"}))
	state := display.Snapshot()
	require.Len(t, state.Windows, 1)
	assert.Equal(t, "w-2", state.Windows[0].UUID)
	assert.Equal(t, [4]int{0, 0, 1600, 900}, rect(state.Windows[0]))

	require.NoError(t, a.Apply(core.Clear{}))
	assert.Equal(t, 0, display.Count())
}

func TestSaveAndLoadSession(t *testing.T) {
	a, display := newTestApplier(t)
	require.NoError(t, a.Apply(core.Open{URI: "a.png"}))
	require.NoError(t, a.Apply(core.Browse{URI: "https://example.org"}))
	saved := display.Snapshot().Windows

	require.NoError(t, a.Apply(core.Save{URI: "meeting"}))
	_, err := os.Stat(filepath.Join(a.sessionsDir, "meeting.json"))
	require.NoError(t, err)

	require.NoError(t, a.Apply(core.Clear{}))
	require.NoError(t, a.Apply(core.Load{URI: "meeting.json"}))
	assert.Equal(t, saved, display.Snapshot().Windows)
}

func TestLoadAssignsMissingIDs(t *testing.T) {
	a, display := newTestApplier(t)
	require.NoError(t, os.MkdirAll(a.sessionsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a.sessionsDir, "old.json"),
		[]byte(`{"windows": [{"uri": "x.png", "type": "content"}]}`), 0o644))

	require.NoError(t, a.Apply(core.Load{URI: "old"}))
	state := display.Snapshot()
	require.Len(t, state.Windows, 1)
	assert.Equal(t, "w-1", state.Windows[0].UUID)
}

func TestLoadErrorsLeaveStateUntouched(t *testing.T) {
	a, display := newTestApplier(t)
	require.NoError(t, a.Apply(core.Open{URI: "a.png"}))

	assert.Error(t, a.Apply(core.Load{URI: "missing"}))

	require.NoError(t, os.MkdirAll(a.sessionsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a.sessionsDir, "broken.json"), []byte(`{`), 0o644))
	assert.Error(t, a.Apply(core.Load{URI: "broken"}))

	assert.Equal(t, 1, display.Count())
}

func TestScreenshotWritesPNG(t *testing.T) {
	a, _ := newTestApplier(t)
	require.NoError(t, a.Apply(core.Open{URI: "a.png"}))
	require.NoError(t, a.Apply(core.Whiteboard{}))

	require.NoError(t, a.Apply(core.Screenshot{URI: "wall"}))

	f, err := os.Open(filepath.Join(a.screenshotsDir, "wall.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, screenshotWidth, img.Bounds().Dx())
	assert.Equal(t, screenshotWidth*900/1600, img.Bounds().Dy())
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain name gets extension", "a", filepath.Join(dir, "a.json"), false},
		{"extension kept", "a.dcx", filepath.Join(dir, "a.dcx"), false},
		{"subdirectory", "team/a.json", filepath.Join(dir, "team", "a.json"), false},
		{"inner dotdot stays inside", "team/../a.json", filepath.Join(dir, "a.json"), false},
		{"traversal", "../a.json", "", true},
		{"deep traversal", "team/../../a.json", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"empty", "  ", "", true},
		{"dir itself", ".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePath(dir, tt.in, sessionExt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveRejectsTraversal(t *testing.T) {
	a, _ := newTestApplier(t)
	err := a.Apply(core.Save{URI: "../../escape"})
	assert.ErrorIs(t, err, errOutsideDir)
}
