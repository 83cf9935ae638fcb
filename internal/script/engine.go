// Package script runs Lua scripts that drive the wall through the same command
// routes as remote clients. One script runs at a time; starting another one
// cancels the current script first.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tide-controller/internal/command"
	"tide-controller/internal/core"
	"tide-controller/internal/logger"
)

var (
	ErrEngineStopped = errors.New("script engine stopped")
	ErrEngineBusy    = errors.New("script engine queue full")
)

const stopTimeout = 2 * time.Second

// Dispatcher queues a command exactly like an HTTP request would.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, body []byte, meta core.Meta) (core.Event, error)
}

type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

type engineCmd struct {
	kind cmdType
	name string
	code string
}

// Engine owns the Lua worker.
type Engine struct {
	dispatcher Dispatcher
	routes     []command.Route
	dir        string
	bus        *core.NotificationBus
	logger     *slog.Logger

	cmdChan  chan engineCmd
	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	running string
}

// NewEngine creates an engine over routes and starts its worker. bus may be nil.
func NewEngine(d Dispatcher, routes []command.Route, dir string, bus *core.NotificationBus, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{
		dispatcher: d,
		routes:     routes,
		dir:        dir,
		bus:        bus,
		logger:     log.With(logger.Component("script")),
		cmdChan:    make(chan engineCmd, 10),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	go e.runLoop()
	return e
}

func (e *Engine) runLoop() {
	defer close(e.loopDone)

	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	stopCurrent := func() {
		if currentCancel == nil {
			return
		}
		currentCancel()
		select {
		case <-scriptDone:
		case <-time.After(stopTimeout):
			e.logger.Warn("timeout waiting for script to stop")
		}
		currentCancel = nil
		scriptDone = nil
	}
	defer stopCurrent()

	for {
		var cmd engineCmd
		select {
		case <-e.quit:
			return
		case cmd = <-e.cmdChan:
		}

		stopCurrent()
		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			defer close(done)
			switch cmd.kind {
			case cmdRunFile:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoFile(cmd.code) })
			case cmdRunString:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoString(cmd.code) })
			}
		}(cmd, ctx, scriptDone)
	}
}

func (e *Engine) submit(cmd engineCmd) error {
	select {
	case <-e.quit:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmdChan <- cmd:
		return nil
	case <-e.quit:
		return ErrEngineStopped
	default:
		return ErrEngineBusy
	}
}

// RunScript starts the named script from the scripts directory. The ".lua"
// extension is optional.
func (e *Engine) RunScript(name string) error {
	path, err := e.ScriptPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("script %q: %w", name, err)
	}
	return e.submit(engineCmd{kind: cmdRunFile, name: name, code: path})
}

// RunString runs a one-off chunk of Lua.
func (e *Engine) RunString(code string) error {
	return e.submit(engineCmd{kind: cmdRunString, name: "inline", code: code})
}

// StopCurrent cancels the running script, if any.
func (e *Engine) StopCurrent() {
	if err := e.submit(engineCmd{kind: cmdStop}); err != nil && !errors.Is(err, ErrEngineStopped) {
		e.logger.Warn("could not send stop command", logger.Error(err))
	}
}

// Running returns the name of the running script or "".
func (e *Engine) Running() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Close cancels the running script and stops the worker.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.loopDone
}

func (e *Engine) setRunning(name string) {
	e.mu.Lock()
	e.running = name
	e.mu.Unlock()
	if e.bus != nil {
		e.bus.Publish(core.Notification{
			Type:    core.ScriptChanged,
			Payload: map[string]any{"running": name},
		})
	}
}

// execute runs code in a fresh state bound to ctx.
func (e *Engine) execute(ctx context.Context, name string, executor func(*lua.LState) error) {
	log := e.logger.With(slog.String("script", name))
	log.Info("script started")
	e.setRunning(name)
	start := time.Now()

	defer func() {
		e.setRunning("")
		log.Info("script finished", logger.Duration(time.Since(start)))
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(ctx, L, log)

	if err := executor(L); err != nil {
		if ctx.Err() != nil {
			log.Info("script cancelled")
		} else {
			log.Error("script failed", logger.Error(err))
		}
	}
}
