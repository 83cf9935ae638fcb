package agent

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"

	"tide-controller/internal/core"
)

// Width of rendered screenshots; the height follows the wall's aspect ratio.
const screenshotWidth = 960

var (
	wallColor   = color.RGBA{0x20, 0x20, 0x20, 0xff}
	borderColor = color.RGBA{0xee, 0xee, 0xee, 0xff}
	fillColors  = map[string]color.RGBA{
		core.WindowContent:    {0x3a, 0x6e, 0xa5, 0xff},
		core.WindowWebBrowser: {0x4c, 0x9a, 0x52, 0xff},
		core.WindowWhiteboard: {0xf0, 0xf0, 0xf0, 0xff},
	}
)

func (a *Applier) screenshot(name string) error {
	path, err := resolvePath(a.screenshotsDir, name, screenshotExt)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, renderLayout(a.display.Snapshot())); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	a.logger.Info("screenshot written", slog.String("file", path))
	return nil
}

// renderLayout draws the window rectangles of state, scaled down.
func renderLayout(state core.DisplayState) *image.RGBA {
	wallW, wallH := state.Width, state.Height
	if wallW <= 0 || wallH <= 0 {
		wallW, wallH = 16, 9
	}
	w := screenshotWidth
	h := max(1, w*wallH/wallW)
	scale := float64(w) / float64(wallW)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{wallColor}, image.Point{}, draw.Src)

	for _, win := range state.Windows {
		r := image.Rect(
			int(float64(win.X)*scale),
			int(float64(win.Y)*scale),
			int(float64(win.X+win.Width)*scale),
			int(float64(win.Y+win.Height)*scale),
		).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		draw.Draw(img, r, &image.Uniform{borderColor}, image.Point{}, draw.Src)
		if inner := r.Inset(2); !inner.Empty() {
			fill, ok := fillColors[win.Type]
			if !ok {
				fill = fillColors[core.WindowContent]
			}
			draw.Draw(img, inner, &image.Uniform{fill}, image.Point{}, draw.Src)
		}
	}
	return img
}
