package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/streamchat/internal/app"
)

const janitorInterval = 5 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if serveAddr != "" {
			cfg.BindAddr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := app.Build(ctx, cfg, app.Options{LogOutput: os.Stderr})
		if err != nil {
			return err
		}
		logger := res.Logger

		httpServer := &http.Server{
			Addr:              cfg.BindAddr,
			Handler:           res.API.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("server listening", "addr", cfg.BindAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return res.Sessions.RunJanitor(gctx, janitorInterval)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				_ = httpServer.Close()
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			return nil
		})

		runErr := g.Wait()
		if err := res.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
		logger.Info("shutdown complete")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides APP_BIND_ADDR)")
}
