package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tide-controller/internal/core"
)

const (
	sessionExt    = ".json"
	screenshotExt = ".png"
)

var errOutsideDir = errors.New("path escapes its directory")

// session is the on-disk form of a saved wall layout.
type session struct {
	Name    string        `json:"name"`
	SavedAt time.Time     `json:"saved_at"`
	Windows []core.Window `json:"windows"`
}

// resolvePath maps a client supplied name onto a file inside dir. ext is added
// when the name has no extension. Absolute paths and names leaving dir are
// rejected.
func resolvePath(dir, name, ext string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty file name")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%q: %w", name, errOutsideDir)
	}
	if filepath.Ext(name) == "" {
		name += ext
	}

	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, name)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, errOutsideDir)
	}
	return path, nil
}

func (a *Applier) load(name string) error {
	path, err := resolvePath(a.sessionsDir, name, sessionExt)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("load session %s: %w", filepath.Base(path), err)
	}
	for i := range s.Windows {
		if s.Windows[i].UUID == "" {
			s.Windows[i].UUID = a.newID()
		}
	}

	a.display.Replace(s.Windows)
	a.logger.Info("session loaded", slog.String("file", path), slog.Int("windows", len(s.Windows)))
	return nil
}

func (a *Applier) save(name string) error {
	path, err := resolvePath(a.sessionsDir, name, sessionExt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	state := a.display.Snapshot()
	data, err := json.MarshalIndent(session{
		Name:    state.Name,
		SavedAt: a.now().UTC(),
		Windows: state.Windows,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.logger.Info("session saved", slog.String("file", path), slog.Int("windows", len(state.Windows)))
	return nil
}

// writeFileAtomic writes through a temp file so a crash never leaves a torn file.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
