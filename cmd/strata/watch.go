package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/coordinator"
)

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor connection health until interrupted",
		Long: `Ping every configured connection at the configured health interval and log
state changes. With --metrics-addr the connection gauges and gateway metrics
are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.openPool()
			if err != nil {
				return err
			}
			defer a.closePool()

			monitor := coordinator.NewHealthMonitor(pool, a.cfg.Health.Interval, a.logger)
			monitor.SetMaxFailures(a.cfg.Health.MaxFailures)
			monitor.SetMetrics(a.metrics)
			monitor.SetOnUnhealthy(func(connection string) {
				a.logger.Error("connection unhealthy, writes routed to it will fail", zap.String("connection", connection))
			})

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(a),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					a.logger.Info("serving metrics", zap.String("addr", metricsAddr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics listener", zap.Error(err))
					}
				}()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			monitor.Start(ctx, pool.Names)
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address of the /metrics endpoint, e.g. :9100")
	return cmd
}

func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
