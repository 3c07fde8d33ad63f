package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"notifyd/internal/config"
	"notifyd/internal/httpapi"
	"notifyd/internal/lifecycle"
	"notifyd/internal/manager"
)

const defaultAddr = ":8080"

type serveFlags struct {
	addr             string
	processType      string
	runningMode      string
	logNotifications bool
	corsOrigins      string
	maxBodyBytes     int64
	streamBuffer     int
	shutdownTimeout  time.Duration
}

func newServeCmd(opts *options) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the manager and its HTTP API",
		Example: "  notifyd serve --config notifyd.yaml\n  notifyd serve --addr :9090 --process-type HOST_CONTROLLER",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return errors.Trace(err)
			}
			applyFlags(cmd, &cfg, f)
			if err := cfg.Validate(); err != nil {
				return errors.Annotate(err, "invalid configuration")
			}
			level := opts.logLevel
			if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
				level = cfg.LogLevel
			}
			logger := newLogger(level)

			mcfg, err := managerConfig(cfg, logger)
			if err != nil {
				return errors.Trace(err)
			}
			mgr, err := manager.NewWithConfig(mcfg)
			if err != nil {
				return errors.Annotate(err, "creating manager")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, f, mgr, logger)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", envStr("NOTIFYD_ADDR", defaultAddr), "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.processType, "process-type", "", "Process type, e.g. STANDALONE_SERVER or HOST_CONTROLLER")
	fl.StringVar(&f.runningMode, "running-mode", "", "Running mode: NORMAL or ADMIN_ONLY")
	fl.BoolVar(&f.logNotifications, "log-notifications", false, "Log every dispatched notification")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	fl.Int64Var(&f.maxBodyBytes, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	fl.IntVar(&f.streamBuffer, "stream-buffer", 64, "Per-subscriber buffer of /notifications/stream")
	fl.DurationVar(&f.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown deadline")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	cfg, err := config.Load(path)
	return cfg, errors.Trace(err)
}

// applyFlags overrides file values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) {
	changed := cmd.Flags().Changed
	if changed("addr") || cfg.Addr == "" {
		cfg.Addr = f.addr
	}
	if changed("process-type") {
		cfg.ProcessType = f.processType
	}
	if changed("running-mode") {
		cfg.RunningMode = f.runningMode
	}
	if changed("log-notifications") {
		cfg.LogNotifications = f.logNotifications
	}
	if changed("cors-origins") {
		cfg.CORS.AllowedOrigins = splitCSV(f.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.AllowedOrigins) > 0
	}
}

// managerConfig converts validated file configuration into ManagerConfig.
func managerConfig(cfg config.Config, logger zerolog.Logger) (manager.ManagerConfig, error) {
	mc := manager.ManagerConfig{
		Listeners:        cfg.Listeners,
		LogNotifications: cfg.LogNotifications,
		Logger:           logger.With().Str("component", "manager").Logger(),
	}
	if cfg.ProcessType != "" {
		pt, err := lifecycle.ParseProcessType(cfg.ProcessType)
		if err != nil {
			return mc, errors.Trace(err)
		}
		mc.ProcessType = pt
	}
	if cfg.RunningMode != "" {
		mode, err := lifecycle.ParseRunningMode(cfg.RunningMode)
		if err != nil {
			return mc, errors.Trace(err)
		}
		mc.RunningMode = mode
	}
	for i, m := range cfg.Metrics {
		src, err := m.Address()
		if err != nil {
			return mc, errors.Annotatef(err, "metric %d", i)
		}
		mc.Metrics = append(mc.Metrics, manager.MetricSpec{
			Source:    src,
			Attribute: m.Attribute,
			Interval:  time.Duration(m.Interval),
		})
	}
	return mc, nil
}

// serve starts mgr, serves the API until ctx is done and shuts both down.
func serve(ctx context.Context, cfg config.Config, f serveFlags, mgr *manager.Manager, logger zerolog.Logger) error {
	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	httpapi.SetMaxBodyBytes(f.maxBodyBytes)
	httpapi.SetStreamBuffer(f.streamBuffer)

	if err := mgr.Start(ctx); err != nil {
		_ = mgr.Close()
		return errors.Annotate(err, "starting manager")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("instance", mgr.ID()).Msg("notifyd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("manager shutdown error")
	}
	return errors.Trace(serveErr)
}
