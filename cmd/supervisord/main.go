package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	supervisor "github.com/corectl/supervisor"
	"github.com/corectl/supervisor/internal/auth"
	"github.com/corectl/supervisor/internal/config"
	historyfactory "github.com/corectl/supervisor/internal/history/factory"
	"github.com/corectl/supervisor/internal/logger"
	"github.com/corectl/supervisor/internal/metrics"
	"github.com/corectl/supervisor/internal/server"
	"github.com/corectl/supervisor/pkg/client"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := logger.NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}, true)
	slog.SetDefault(slog.New(handler))
}

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{Use: "supervisord"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (TOML/YAML/JSON)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmdServe := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)

			cfg := config.Config{}
			if configPath != "" {
				loaded, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			} else {
				// Defaults suitable for local inspection.
				tmp, err := config.LoadDefaults()
				if err != nil {
					return err
				}
				cfg = *tmp
			}

			opts := []supervisor.Option{}
			if cfg.History != nil && cfg.History.Enabled {
				if cfg.History.ClickHouseURL != "" {
					sink, err := historyfactory.NewSinkFromDSN(cfg.History.ClickHouseURL)
					if err != nil {
						return fmt.Errorf("clickhouse sink: %w", err)
					}
					opts = append(opts, supervisor.WithHistorySink(sink))
				}
				if cfg.History.OpenSearchURL != "" {
					sink, err := historyfactory.NewSinkFromDSN(cfg.History.OpenSearchURL)
					if err != nil {
						return fmt.Errorf("opensearch sink: %w", err)
					}
					opts = append(opts, supervisor.WithHistorySink(sink))
				}
			}

			sup, err := supervisor.New(cfg, opts...)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := sup.Start(ctx); err != nil {
				return err
			}
			defer sup.Shutdown(10 * time.Second)

			if cfg.Metrics != nil && cfg.Metrics.Enabled {
				if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
					return err
				}
				if cfg.Metrics.Listen != "" {
					go func() {
						mux := http.NewServeMux()
						mux.Handle("/metrics", metrics.Handler())
						srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							slog.Error("metrics server failed", "error", err)
						}
					}()
				}
			}

			var httpSrv *http.Server
			if cfg.Server != nil && cfg.Server.Listen != "" {
				r := server.NewRouter(sup, cfg.Server.BasePath)
				if cfg.Server.AuthEnabled {
					svc, err := auth.NewService(auth.Config{JWTSecret: cfg.Server.JWTSecret}, auth.NewMemoryStore())
					if err != nil {
						return err
					}
					r = r.WithAuth(svc)
				}
				httpSrv = &http.Server{
					Addr:              cfg.Server.Listen,
					Handler:           r.Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("api server failed", "error", err)
					}
				}()
				slog.Info("api server listening", "addr", cfg.Server.Listen)
			}

			if sup.PoolManager() != nil {
				slog.Info("pooling enabled", "pools", len(cfg.Pools))
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			slog.Info("shutting down")
			if httpSrv != nil {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				_ = httpSrv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	var apiURL string
	cmdStatus := &cobra.Command{
		Use:   "status",
		Short: "Query a running supervisor over its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(apiURL)
			procs, err := c.Processes(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(procs)
			return nil
		},
	}
	cmdStatus.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:8080", "supervisor API base URL")

	root.AddCommand(cmdServe, cmdStatus)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
