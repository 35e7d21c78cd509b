// Package server wraps the HTTP listener that carries the WebSocket
// endpoint and wires graceful shutdown for it.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

func New(addr string, wsHandler http.HandlerFunc, readTimeout, writeTimeout time.Duration, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		log: log.Named("server"),
	}
}

func (s *Server) Start() {
	s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Fatal("http server failed", zap.Error(err))
	}
}

// Shutdown stops accepting new connections, then waits up to the shutdown
// timeout for in-flight requests to drain. Open WebSockets are closed by
// the caller before this returns control.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
