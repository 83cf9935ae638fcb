package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"tide-controller/internal/logger"
	"tide-controller/internal/scheduler"
	"tide-controller/internal/server"
)

var errNoSuchSchedule = errors.New("no schedule with this id")

type scheduleStore interface {
	Add(entry scheduler.ScheduleEntry) (int, error)
	Remove(id int)
	List() []scheduler.Listed
	Trigger(entry scheduler.ScheduleEntry) error
}

type scriptStore interface {
	RunScript(name string) error
	StopCurrent()
	ListScripts() ([]string, error)
	ReadScript(name string) (string, error)
	SaveScript(name, code string) error
	DeleteScript(name string) error
}

// ControlHandler manages schedules and scripts on behalf of dashboard clients.
type ControlHandler struct {
	schedules scheduleStore
	scripts   scriptStore
	logger    *slog.Logger
}

func NewControlHandler(schedules scheduleStore, scripts scriptStore, log *slog.Logger) *ControlHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &ControlHandler{schedules: schedules, scripts: scripts, logger: log.With(logger.Component("control"))}
}

type scheduleRef struct {
	ID int `json:"id"`
}

type scriptRef struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Handle runs one control message and broadcasts the resulting state.
func (h *ControlHandler) Handle(msg server.Inbound, out server.Broadcaster) {
	if err := h.handle(msg, out); err != nil {
		h.logger.Warn("control message failed", slog.String("type", msg.Type), logger.Error(err))
		out.Broadcast(server.NewMessage("error", map[string]string{"type": msg.Type, "error": err.Error()}))
	}
}

func (h *ControlHandler) handle(msg server.Inbound, out server.Broadcaster) error {
	switch msg.Type {
	case "addSchedule":
		var entry scheduler.ScheduleEntry
		if err := decode(msg.Payload, &entry); err != nil {
			return err
		}
		if _, err := h.schedules.Add(entry); err != nil {
			return err
		}
		out.Broadcast(server.NewMessage("schedule_list", h.schedules.List()))

	case "removeSchedule":
		var ref scheduleRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		if _, ok := h.findSchedule(ref.ID); !ok {
			return fmt.Errorf("remove %d: %w", ref.ID, errNoSuchSchedule)
		}
		h.schedules.Remove(ref.ID)
		out.Broadcast(server.NewMessage("schedule_list", h.schedules.List()))

	case "triggerSchedule":
		var ref scheduleRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		entry, ok := h.findSchedule(ref.ID)
		if !ok {
			return fmt.Errorf("trigger %d: %w", ref.ID, errNoSuchSchedule)
		}
		return h.schedules.Trigger(entry)

	case "listSchedules":
		out.Broadcast(server.NewMessage("schedule_list", h.schedules.List()))

	case "runScript":
		var ref scriptRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		return h.scripts.RunScript(ref.Name)

	case "stopScript":
		h.scripts.StopCurrent()

	case "listScripts":
		return h.broadcastScripts(out)

	case "getScriptCode":
		var ref scriptRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		code, err := h.scripts.ReadScript(ref.Name)
		if err != nil {
			return err
		}
		out.Broadcast(server.NewMessage("script_code", scriptRef{Name: ref.Name, Code: code}))

	case "saveScriptCode":
		var ref scriptRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		if err := h.scripts.SaveScript(ref.Name, ref.Code); err != nil {
			return err
		}
		return h.broadcastScripts(out)

	case "deleteScript":
		var ref scriptRef
		if err := decode(msg.Payload, &ref); err != nil {
			return err
		}
		if err := h.scripts.DeleteScript(ref.Name); err != nil {
			return err
		}
		return h.broadcastScripts(out)

	default:
		return fmt.Errorf("unknown control message %q", msg.Type)
	}
	return nil
}

func (h *ControlHandler) findSchedule(id int) (scheduler.ScheduleEntry, bool) {
	for _, l := range h.schedules.List() {
		if l.ID == id {
			return l.Entry, true
		}
	}
	return scheduler.ScheduleEntry{}, false
}

func (h *ControlHandler) broadcastScripts(out server.Broadcaster) error {
	scripts, err := h.scripts.ListScripts()
	if err != nil {
		return err
	}
	out.Broadcast(server.NewMessage("script_list", scripts))
	return nil
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
