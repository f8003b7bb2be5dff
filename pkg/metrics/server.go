package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the default Prometheus registry on /metrics.
type Server struct {
	srv *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens in the background until Stop is called.
func (s *Server) Start() {
	log := logger.GetLogger()
	go func() {
		log.Info("Metrics server listening", logger.Fields{"address": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", logger.Fields{"error": err.Error()})
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
