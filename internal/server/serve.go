package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chinmina/oidc-gateway/internal/config"
)

// New creates the HTTP server for the gateway with conservative header limits.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10, // 20 KB
		ReadHeaderTimeout: 20 * time.Second,
	}
}

// Serve runs the server until SIGINT or SIGTERM is received, then drains
// in-flight requests within the configured shutdown timeout before running
// the hooks.
func Serve(ctx context.Context, cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	return serveListener(ctx, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second, srv, listener, hooks)
}

func serveListener(ctx context.Context, timeout time.Duration, srv *http.Server, listener net.Listener, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", timeout).Msg("server: shutdown requested, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}

	if hooks != nil {
		errs = append(errs, hooks.Execute(shutdownCtx))
	}

	log.Info().Msg("server: shutdown complete")

	return errors.Join(errs...)
}
