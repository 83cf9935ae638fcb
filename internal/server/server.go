// Package server is the HTTP control interface. It listens for PUT requests on
// {prefix}/{command}, turns valid ones into application events and serves
// read-only views: statistics, the window list and an HTML control page.
//
// Example:
//
//	curl -i -X PUT -d '{"uri": "image.png"}' http://localhost:8888/tide/open
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"tide-controller/internal/command"
	"tide-controller/internal/core"
	"tide-controller/internal/logger"
	"tide-controller/internal/scheduler"
	"tide-controller/internal/status"
)

// ErrListen wraps failures to bind the listening socket.
var ErrListen = errors.New("cannot listen")

// ScheduleLister lists configured schedules.
type ScheduleLister interface {
	List() []scheduler.Listed
}

// ScriptLister lists available scripts.
type ScriptLister interface {
	ListScripts() ([]string, error)
}

// Options are the HTTP settings, copied at construction.
type Options struct {
	Addr           string
	Prefix         string
	MaxBodyBytes   int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimit      float64 // commands per second, 0 disables
	RateBurst      int
	AllowedOrigins []string
}

// Deps are the collaborators the server calls into.
type Deps struct {
	Dispatcher *command.Dispatcher
	Status     *status.Exposer
	Bus        *core.NotificationBus // optional, feeds /ws
	Schedules  ScheduleLister        // optional
	Scripts    ScriptLister          // optional
	Control    ControlHandler        // optional, handles inbound /ws messages
	Gatherer   prometheus.Gatherer   // optional, serves /metrics
	Logger     *slog.Logger
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	opts       Options
	dispatcher *command.Dispatcher
	status     *status.Exposer
	bus        *core.NotificationBus
	schedules  ScheduleLister
	scripts    ScriptLister
	control    ControlHandler
	gatherer   prometheus.Gatherer
	limiter    *rate.Limiter
	logger     *slog.Logger

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	handler    http.Handler
	busSub     core.Subscriber
	stopFwd    chan struct{}
}

// New creates the server and binds its listener immediately, so a port already
// in use fails here rather than after startup.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Dispatcher == nil || deps.Status == nil {
		return nil, errors.New("server: dispatcher and status are required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Component("http"))

	opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	if opts.Prefix == "/" {
		opts.Prefix = ""
	}

	s := &Server{
		opts:       opts,
		dispatcher: deps.Dispatcher,
		status:     deps.Status,
		bus:        deps.Bus,
		schedules:  deps.Schedules,
		scripts:    deps.Scripts,
		control:    deps.Control,
		gatherer:   deps.Gatherer,
		logger:     log,
		Hub:        NewHub(log),
		stopFwd:    make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.opts.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.opts.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			s.logger.Warn("websocket connection blocked", slog.String("origin", origin))
			return false
		},
	}

	s.handler = withRecovery(log, withRequestID(withLogging(log, s.routes())))

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrListen, opts.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	go s.Hub.Run()
	if s.bus != nil {
		s.busSub = s.bus.Subscribe(core.DisplayChanged, core.StatisticsChanged)
		go s.forwardNotifications()
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	p := s.opts.Prefix

	mux.HandleFunc(p+"/{command}", s.handleCommand)

	mux.HandleFunc("GET "+p+"/stats", s.handleStats)
	mux.HandleFunc("GET "+p+"/windows", s.handleWindows)
	mux.HandleFunc("GET "+p+"/config", s.handleConfig)
	mux.HandleFunc("GET "+p+"/version", s.handleVersion)
	mux.HandleFunc("GET "+p+"/commands", s.handleCommands)
	mux.HandleFunc("GET "+p+"/schedules", s.handleSchedules)
	mux.HandleFunc("GET "+p+"/scripts", s.handleScripts)

	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve blocks serving requests until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("control interface listening", slog.String("addr", s.Addr()), slog.String("prefix", s.opts.Prefix))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases the
// port. Websocket clients are disconnected.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopFwd:
	default:
		close(s.stopFwd)
	}
	if s.busSub != nil {
		s.bus.Unsubscribe(s.busSub, core.DisplayChanged, core.StatisticsChanged)
	}
	s.Hub.Stop()

	err := s.httpServer.Shutdown(ctx)
	// Shutdown does not close a listener that Serve never used.
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

func (s *Server) forwardNotifications() {
	for {
		select {
		case <-s.stopFwd:
			return
		case n := <-s.busSub:
			s.Hub.Broadcast(NewMessage(string(n.Type), n.Payload))
		}
	}
}
