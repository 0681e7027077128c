package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/httpapi"
	"github.com/roach88/weave/internal/ingest"
	"github.com/roach88/weave/internal/rt"
	"github.com/roach88/weave/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Database   string
	Addr       string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the weave HTTP server",
		Long: `Run the weave server: the HTTP API, the websocket event stream,
the chat-vote ingest endpoint, and the timed-vote sweeper.

Configuration comes from an optional YAML file plus WEAVE_* environment
overrides; --db and --addr override both.

Example:
  weave serve --db ./weave.db
  weave serve --config /etc/weave.yaml --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}

	logLevel, _ := cfg.SlogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	log.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	hub := rt.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	eng := engine.New(st, engine.WithPublisher(hub), engine.WithLogger(log))
	ing := ingest.NewService(eng,
		ingest.WithCooldown(cfg.VoteCooldown),
		ingest.WithLogger(log))

	sweeper := engine.NewSweeper(eng, cfg.SweepInterval, log)
	if err := sweeper.Start(); err != nil {
		return WrapExitError(ExitCommandError, "failed to start vote sweeper", err)
	}
	defer sweeper.Stop()

	api := httpapi.NewServer(eng, httpapi.Options{
		APIKey:      cfg.APIKey,
		IngestKey:   cfg.ResolvedIngestKey(),
		CORSOrigins: cfg.CORSOrigins,
		WebSocket:   hub.Handler(),
		Ingest:      ing,
		Logger:      log,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	case err := <-serverErr:
		return WrapExitError(ExitFailure, "server error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server shutdown error", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
