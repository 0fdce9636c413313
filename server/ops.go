// Package server exposes the worker's operational HTTP surface: health,
// metrics and a live job-event feed. No user-facing API lives here.
package server

import (
	"context"
	"net/http"
	"time"

	"soniq/logger"
	"soniq/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer serves /healthz, /metrics and /ws/events.
type OpsServer struct {
	srv *http.Server
	hub *EventHub
}

// NewOpsServer 构建运维HTTP服务。
func NewOpsServer(addr string, m *metrics.Metrics, hub *EventHub) *OpsServer {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.HandleFunc("/ws/events", hub.ServeWS)

	return &OpsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		hub: hub,
	}
}

// Start runs the server until ctx is canceled.
func (s *OpsServer) Start(ctx context.Context) {
	go func() {
		logger.Info("运维HTTP服务启动", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("运维HTTP服务异常退出", logger.ErrorField(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
}
