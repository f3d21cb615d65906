// Package api exposes the backup service over HTTP and pushes service
// notifications to websocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/olahol/melody"

	"pibackup/internal/backup"
	"pibackup/internal/events"
	"pibackup/internal/metrics"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	eventBufferSize   = 64
)

// Service is the part of backup.Service the API needs.
type Service interface {
	RunBackup() backup.RunResponse
	JobStatus() backup.Status
	ListVolumes() ([]*backup.Volume, error)
	SetRoles(assignment backup.RoleAssignment) (backup.Roots, error)
	ListSnapshots() ([]*backup.SnapshotEntry, error)
	Roots() backup.Roots
	History(limit int) ([]*backup.JobRecord, error)
	Eject(name string) error
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// FilebrowserPort is the port /filebrowser redirects to on the same host.
	FilebrowserPort int
	// Config is the effective configuration served by /api/config/config.
	Config any
}

// Server serves the HTTP API.
type Server struct {
	svc     Service
	broker  *events.Broker
	metrics *metrics.Collector
	opts    Options
	logger  backup.Logger

	ws     *melody.Melody
	router chi.Router

	subID     int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer creates a Server and starts forwarding broker notifications to
// websocket clients. collector may be nil. Call Close to stop forwarding.
func NewServer(svc Service, broker *events.Broker, collector *metrics.Collector, opts Options, logger backup.Logger) *Server {
	s := &Server{
		svc:     svc,
		broker:  broker,
		metrics: collector,
		opts:    opts,
		logger:  logger,
		ws:      melody.New(),
	}
	s.ws.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.ws.HandleConnect(func(session *melody.Session) {
		s.logger.Debug("websocket client connected", "remote", session.Request.RemoteAddr)
	})
	s.ws.HandleDisconnect(func(session *melody.Session) {
		s.logger.Debug("websocket client disconnected", "remote", session.Request.RemoteAddr)
	})

	s.router = s.routes()

	notifications, id := broker.Subscribe(eventBufferSize)
	s.subID = id
	s.wg.Add(1)
	go s.broadcastNotifications(notifications)

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/backup", s.handleRunBackup)
		r.Get("/backup", s.handleJobStatus)
		r.Get("/backups", s.handleListSnapshots)
		r.Get("/volumes", s.handleListVolumes)
		r.Post("/volumes/roles", s.handleSetRoles)
		r.Post("/volumes/{name}/eject", s.handleEject)
		r.Get("/config/{name}", s.handleConfig)
		r.Get("/chartdata", s.handleChartData)
		r.Get("/history", s.handleHistory)
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			if err := s.ws.HandleRequest(w, r); err != nil {
				s.logger.Error("handling websocket request", "error", err)
			}
		})
	})

	r.Get("/filebrowser", s.handleFilebrowser)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) broadcastNotifications(notifications <-chan events.Notification) {
	defer s.wg.Done()
	for n := range notifications {
		data, err := json.Marshal(n)
		if err != nil {
			s.logger.Error("marshalling notification", "event", n.Event, "error", err)
			continue
		}
		if err := s.ws.Broadcast(data); err != nil {
			s.logger.Error("broadcasting notification", "event", n.Event, "error", err)
		}
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not closed by Shutdown.
		s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}

// Close stops forwarding notifications and disconnects websocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.broker.Unsubscribe(s.subID)
		s.wg.Wait()
		if err := s.ws.Close(); err != nil {
			s.logger.Debug("closing websocket hub", "error", err)
		}
	})
}

func (s *Server) handleFilebrowser(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		host = h
	}
	target := fmt.Sprintf("%s://%s:%d", scheme, host, s.opts.FilebrowserPort)
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
