// Package command holds the closed set of remote-control routes and the
// dispatcher that turns a raw request into a queued application event.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tide-controller/internal/core"
)

// BuildFunc constructs the event for a validated payload.
type BuildFunc func(p core.Payload) core.Event

// Route is one registered command.
type Route struct {
	Name  core.CommandName
	Shape core.Shape
	Build BuildFunc
}

// Decode validates body against the route's shape and builds the event. Nothing
// is built unless validation fully succeeds. Bodies of payload-less routes are
// ignored.
func (r Route) Decode(body []byte) (core.Event, error) {
	field := r.Shape.Field()
	if field == "" {
		return r.Build(core.Payload{}), nil
	}

	invalid := func(reason string) error {
		return &ValidationError{Command: string(r.Name), Reason: reason}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, invalid("empty body, expected a JSON object")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, invalid(fmt.Sprintf("malformed JSON object: %v", err))
	}
	if raw == nil {
		return nil, invalid("expected a JSON object")
	}

	value, ok := raw[field]
	if !ok {
		return nil, invalid(fmt.Sprintf("missing required field %q", field))
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil, invalid(fmt.Sprintf("field %q must be a string", field))
	}
	if strings.TrimSpace(s) == "" {
		return nil, invalid(fmt.Sprintf("field %q must not be empty", field))
	}

	var p core.Payload
	switch r.Shape {
	case core.ShapeURI:
		p.URI = s
	case core.ShapeUUID:
		p.UUID = s
	}
	return r.Build(p), nil
}

// Registry maps command names to routes. It is populated during setup and then
// frozen; after Freeze it is read-only and lookups need no coordination.
type Registry struct {
	mu     sync.RWMutex
	routes map[core.CommandName]Route
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[core.CommandName]Route)}
}

// Register adds a route. Registering a name twice is a configuration error.
func (r *Registry) Register(name core.CommandName, shape core.Shape, build BuildFunc) error {
	if build == nil {
		return fmt.Errorf("%s: %w", name, ErrBuilderRequired)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%s: %w", name, ErrRegistryFrozen)
	}
	if _, exists := r.routes[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicateRoute)
	}
	r.routes[name] = Route{Name: name, Shape: shape, Build: build}
	return nil
}

// MustRegister panics on error. Only for static setup.
func (r *Registry) MustRegister(name core.CommandName, shape core.Shape, build BuildFunc) {
	if err := r.Register(name, shape, build); err != nil {
		panic(err)
	}
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup finds a route by exact, case-sensitive name.
func (r *Registry) Lookup(name string) (Route, error) {
	r.mu.RLock()
	route, ok := r.routes[core.CommandName(name)]
	r.mu.RUnlock()
	if !ok {
		return Route{}, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
	return route, nil
}

// Routes returns all routes sorted by name.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewDefaultRegistry returns the frozen registry of the nine control commands.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(core.CmdOpen, core.ShapeURI, func(p core.Payload) core.Event { return core.Open{URI: p.URI} })
	r.MustRegister(core.CmdLoad, core.ShapeURI, func(p core.Payload) core.Event { return core.Load{URI: p.URI} })
	r.MustRegister(core.CmdSave, core.ShapeURI, func(p core.Payload) core.Event { return core.Save{URI: p.URI} })
	r.MustRegister(core.CmdClear, core.ShapeNone, func(core.Payload) core.Event { return core.Clear{} })
	r.MustRegister(core.CmdWhiteboard, core.ShapeNone, func(core.Payload) core.Event { return core.Whiteboard{} })
	r.MustRegister(core.CmdClose, core.ShapeUUID, func(p core.Payload) core.Event { return core.Close{UUID: p.UUID} })
	r.MustRegister(core.CmdBrowse, core.ShapeURI, func(p core.Payload) core.Event { return core.Browse{URI: p.URI} })
	r.MustRegister(core.CmdScreenshot, core.ShapeURI, func(p core.Payload) core.Event { return core.Screenshot{URI: p.URI} })
	r.MustRegister(core.CmdExit, core.ShapeNone, func(core.Payload) core.Event { return core.Exit{} })
	r.Freeze()
	return r
}

// IsClientError reports whether err was caused by the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownCommand) || errors.Is(err, ErrInvalidPayload)
}
