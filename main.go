package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/octree/typst-render/internal"
	"github.com/octree/typst-render/internal/config"
	"github.com/octree/typst-render/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "typst-render:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("typst-render", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config file (default $CONFIG_PATH)")
	port := flags.StringP("port", "p", "", "listen port (overrides config and PORT)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	srv := newServer(cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return serve(srv, cfg, quit)
}

func newServer(cfg config.Config) *http.Server {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := &internal.TypstCLI{
		Binary:      cfg.Engine.Binary,
		FontPaths:   cfg.Engine.FontPaths,
		ScratchRoot: cfg.Workspace.TempRoot,
	}

	var archives internal.ArchiveSource
	if s := internal.NewSupabaseArchives(cfg.Storage); s != nil {
		archives = s
	}

	svc := internal.NewService(cfg, engine, archives)

	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      internal.NewRouter(svc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// serve runs srv until a signal arrives on quit, then shuts down gracefully.
func serve(srv *http.Server, cfg config.Config, quit <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Typst render server starting",
			"addr", srv.Addr,
			"engine", cfg.Engine.Binary,
			"timeout", cfg.Engine.Timeout.String(),
			"max_upload_bytes", cfg.Limits.MaxUploadBytes,
			"remote_archives", cfg.Storage.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-quit:
	}

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logging.Info("Server stopped cleanly")
	return nil
}
