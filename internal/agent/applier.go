package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"tide-controller/internal/core"
	"tide-controller/internal/logger"
)

// Applier executes events against the display group. It is only used from the
// consumer goroutine.
type Applier struct {
	display        *core.DisplayGroup
	sessionsDir    string
	screenshotsDir string
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
}

// NewApplier creates an Applier storing sessions and screenshots under the given
// directories.
func NewApplier(display *core.DisplayGroup, sessionsDir, screenshotsDir string, log *slog.Logger) *Applier {
	if log == nil {
		log = logger.Discard()
	}
	return &Applier{
		display:        display,
		sessionsDir:    sessionsDir,
		screenshotsDir: screenshotsDir,
		logger:         log.With(logger.Component("applier")),
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// errUnknownWindow is logged, not surfaced: closing a missing window is a no-op.
var errUnknownWindow = errors.New("no window with this uuid")

// Apply runs ev. Exit is handled by the caller.
func (a *Applier) Apply(ev core.Event) error {
	switch e := ev.(type) {
	case core.Open:
		a.open(e.URI, core.WindowContent)
	case core.Browse:
		a.open(e.URI, core.WindowWebBrowser)
	case core.Whiteboard:
		a.open("", core.WindowWhiteboard)
	case core.Close:
		if !a.display.Remove(e.UUID) {
			return fmt.Errorf("close %s: %w", e.UUID, errUnknownWindow)
		}
		a.retile()
	case core.Clear:
		a.display.Clear()
	case core.Load:
		return a.load(e.URI)
	case core.Save:
		return a.save(e.URI)
	case core.Screenshot:
		return a.screenshot(e.URI)
	case core.Exit:
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return nil
}

func (a *Applier) open(uri, kind string) {
	a.display.Add(core.Window{
		UUID:     a.newID(),
		URI:      uri,
		Type:     kind,
		OpenedAt: a.now(),
	})
	a.retile()
}

func (a *Applier) retile() {
	state := a.display.Snapshot()
	a.display.Replace(tile(state.Windows, state.Width, state.Height))
}

// tile lays windows out on a grid that is as square as possible, in their
// current order.
func tile(windows []core.Window, width, height int) []core.Window {
	n := len(windows)
	if n == 0 {
		return windows
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	cellW, cellH := width/cols, height/rows

	out := make([]core.Window, n)
	for i, w := range windows {
		w.X = (i % cols) * cellW
		w.Y = (i / cols) * cellH
		w.Width = cellW
		w.Height = cellH
		out[i] = w
	}
	return out
}
