package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/iwvelando/loan-calculator/internal/config"
	"github.com/iwvelando/loan-calculator/internal/server"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) serveCommand() *cobra.Command {
	var serverConfigPath, address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the quote API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			serverConfig, err := server.LoadConfig(serverConfigPath)
			if err != nil {
				return err
			}
			if address != "" {
				serverConfig.Address = address
			}

			logger := a.logger
			// The server config's logging section replaces the client's.
			if serverConfig.Logging != (config.LoggingConfig{}) {
				if logger, err = initializeLogger(serverConfig.Logging, a.logLevel); err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
			}

			if err := serverConfig.Apply(a.registry); err != nil {
				return err
			}

			listener, err := net.Listen("tcp", serverConfig.Address)
			if err != nil {
				return err
			}
			handler := server.NewHandler(logger, a.registry, serverConfig.BodySizeBytes(), version)
			return serve(cmd.Context(), logger, listener, handler, serverConfig.Timeouts)
		},
	}
	cmd.Flags().StringVar(&serverConfigPath, "server-config", constants.DefaultServerConfigFile, "path to the server configuration file")
	cmd.Flags().StringVar(&address, "address", "", "listen address override")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then drains it.
func serve(ctx context.Context, logger *zap.Logger, listener net.Listener, handler http.Handler, timeouts server.TimeoutConfig) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadTimeout(),
		ReadTimeout:       timeouts.ReadTimeout(),
		WriteTimeout:      timeouts.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("quote API listening",
		zap.String("op", "main.serve"),
		zap.String("address", listener.Addr().String()),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.ShutdownTimeout())
	defer cancel()
	logger.Info("shutting down quote API", zap.String("op", "main.serve"))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
