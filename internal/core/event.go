package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sources of commands.
const (
	SourceHTTP      = "http"
	SourceScheduler = "scheduler"
	SourceScript    = "script"
	SourceMQTT      = "mqtt"
)

// Meta travels with every event. It is stamped once when the command is accepted.
type Meta struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	RequestID  string    `json:"request_id,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Metadata makes every variant embedding Meta satisfy part of Event.
func (m Meta) Metadata() Meta { return m }

// Event is an accepted command handed over to the application core.
type Event interface {
	Command() CommandName
	Metadata() Meta
}

type Open struct {
	Meta
	URI string
}

type Load struct {
	Meta
	URI string
}

type Save struct {
	Meta
	URI string
}

type Clear struct{ Meta }

type Whiteboard struct{ Meta }

type Close struct {
	Meta
	UUID string
}

type Browse struct {
	Meta
	URI string
}

type Screenshot struct {
	Meta
	URI string
}

type Exit struct{ Meta }

func (Open) Command() CommandName       { return CmdOpen }
func (Load) Command() CommandName       { return CmdLoad }
func (Save) Command() CommandName       { return CmdSave }
func (Clear) Command() CommandName      { return CmdClear }
func (Whiteboard) Command() CommandName { return CmdWhiteboard }
func (Close) Command() CommandName      { return CmdClose }
func (Browse) Command() CommandName     { return CmdBrowse }
func (Screenshot) Command() CommandName { return CmdScreenshot }
func (Exit) Command() CommandName       { return CmdExit }

// WithMeta returns a copy of ev carrying m. Unknown event types are returned as is.
func WithMeta(ev Event, m Meta) Event {
	switch e := ev.(type) {
	case Open:
		e.Meta = m
		return e
	case Load:
		e.Meta = m
		return e
	case Save:
		e.Meta = m
		return e
	case Clear:
		e.Meta = m
		return e
	case Whiteboard:
		e.Meta = m
		return e
	case Close:
		e.Meta = m
		return e
	case Browse:
		e.Meta = m
		return e
	case Screenshot:
		e.Meta = m
		return e
	case Exit:
		e.Meta = m
		return e
	}
	return ev
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a time-sortable ULID string.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
