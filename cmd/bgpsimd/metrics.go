package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/sim"
)

const metricsTimeout = 10 * time.Second

// serveMetrics exports the simulator and API metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, s *sim.Simulator, logger log.Logger) error {
	if err := s.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{Timeout: metricsTimeout}),
	))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	logger.Info("Exporting prometheus metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
