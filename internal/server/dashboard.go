package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"tide-controller/internal/logger"
	"tide-controller/internal/status"
	"tide-controller/internal/stats"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

type dashboardPage struct {
	Prefix   string
	View     status.DashboardView
	Stats    stats.Snapshot
	Commands []routeInfo
	Build    status.BuildInfo
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	routes := s.dispatcher.Registry().Routes()
	commands := make([]routeInfo, 0, len(routes))
	for _, rt := range routes {
		commands = append(commands, routeInfo{Name: string(rt.Name), Field: rt.Shape.Field()})
	}

	page := dashboardPage{
		Prefix:   s.opts.Prefix,
		View:     s.status.Dashboard(),
		Stats:    s.status.Statistics(),
		Commands: commands,
		Build:    s.status.Config().Build,
	}

	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, page); err != nil {
		s.logger.ErrorContext(r.Context(), "dashboard render failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
