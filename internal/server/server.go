// Package server exposes the HTTP surface of a call: the TwiML document
// Twilio fetches, the media stream websocket, traces and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickTikhonov/shuo/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
)

const (
	ServiceName = "shuo"

	mediaStreamPath = "/ws"
	ShutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg      *config.Config
	services *Services
	router   *chi.Mux
	upgrader websocket.Upgrader

	httpServer *http.Server

	// calls outlive their request once the websocket is hijacked, so they
	// run on their own context and are tracked separately.
	callCtx    context.Context
	cancelCall context.CancelFunc
	calls      sync.WaitGroup
	active     atomic.Int64
}

func New(cfg *config.Config, services *Services) *Server {
	callCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		services: services,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		callCtx:    callCtx,
		cancelCall: cancel,
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: media streams stay open for the whole call.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(otelchi.Middleware(ServiceName, otelchi.WithChiRoutes(r)))
	r.Use(middleware.Recoverer)
	r.Use(observe)

	r.Get("/health", s.handleHealth)
	r.Get("/twiml", s.handleTwiML)
	r.Post("/twiml", s.handleTwiML)
	r.Get("/trace/latest", s.handleLatestTrace)
	r.Get(mediaStreamPath, s.handleMediaStream)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	logger.Info("server listening", "address", listener.Addr().String())
	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, ends running calls and waits for them
// to save their traces.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancelCall()

	done := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("calls still running: %w", ctx.Err()))
	}
	return err
}

// ActiveCalls is the number of media streams being served.
func (s *Server) ActiveCalls() int64 {
	return s.active.Load()
}
