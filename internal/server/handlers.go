package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tide-controller/internal/core"
	"tide-controller/internal/logger"
	"tide-controller/internal/scheduler"
)

// commandResponse is returned for an accepted command.
type commandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
	EventID string `json:"event_id"`
}

type routeInfo struct {
	Name  string `json:"name"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", http.MethodPut)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := r.PathValue("command")
	if _, err := s.dispatcher.Registry().Lookup(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "rate limit exceeded")
		return
	}

	if s.opts.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		writeError(w, code, "cannot read request body")
		return
	}

	ev, err := s.dispatcher.Dispatch(r.Context(), name, body, core.Meta{
		Source:    core.SourceHTTP,
		RequestID: RequestIDFromContext(r.Context()),
	})
	if err != nil {
		code := statusFor(err)
		if code == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		if code >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "command not queued", logger.Command(name), logger.Error(err))
		}
		writeError(w, code, err.Error())
		return
	}

	if s.bus != nil {
		s.bus.Publish(core.Notification{Type: core.CommandAccepted, Payload: ev.Metadata()})
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Status:  "ok",
		Command: name,
		EventID: ev.Metadata().ID,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Statistics())
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Dashboard())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Config())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Config().Build)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	routes := s.dispatcher.Registry().Routes()
	out := make([]routeInfo, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeInfo{Name: string(rt.Name), Field: rt.Shape.Field()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	list := []scheduler.Listed{}
	if s.schedules != nil {
		list = append(list, s.schedules.List()...)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	list := []string{}
	if s.scripts != nil {
		names, err := s.scripts.ListScripts()
		if err != nil {
			s.logger.ErrorContext(r.Context(), "cannot list scripts", logger.Error(err))
			writeError(w, http.StatusInternalServerError, "cannot list scripts")
			return
		}
		list = append(list, names...)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logger.Error(err))
		return
	}

	// Initial state goes out before registration so it cannot interleave with
	// hub broadcasts on the same connection.
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(NewMessage(string(core.DisplayChanged), s.status.Dashboard())); err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteJSON(NewMessage(string(core.StatisticsChanged), s.status.Statistics())); err != nil {
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Time{})

	if !s.Hub.Register(conn) {
		conn.Close()
		return
	}

	go func() {
		defer s.Hub.Unregister(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.logger.Debug("websocket read ended", slog.String("reason", err.Error()))
				}
				return
			}
			s.handleInbound(data)
		}
	}()
}

func (s *Server) handleInbound(data []byte) {
	if s.control == nil {
		return
	}
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		s.Hub.Broadcast(NewMessage("error", map[string]string{"error": "malformed control message"}))
		return
	}
	s.control.Handle(msg, s.Hub)
}
