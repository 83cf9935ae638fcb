package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const scriptExt = ".lua"

// sanitizeFilename rejects traversal and appends the .lua extension when missing.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, scriptExt) {
		name += scriptExt
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == scriptExt || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid script name %q", name)
	}
	return cleanName, nil
}

// ScriptPath returns the path of a script inside the scripts directory.
func (e *Engine) ScriptPath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.dir, cleanName), nil
}

// ReadScript returns the source of a script.
func (e *Engine) ReadScript(name string) (string, error) {
	path, err := e.ScriptPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveScript writes the source of a script, creating the directory if needed.
func (e *Engine) SaveScript(name, code string) error {
	path, err := e.ScriptPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create scripts directory: %w", err)
	}
	return os.WriteFile(path, []byte(code), 0o644)
}

// DeleteScript removes a script.
func (e *Engine) DeleteScript(name string) error {
	path, err := e.ScriptPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// ListScripts returns the sorted names of available scripts.
func (e *Engine) ListScripts() ([]string, error) {
	scripts := []string{}
	files, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scripts, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == scriptExt {
			scripts = append(scripts, file.Name())
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}
