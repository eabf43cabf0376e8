package main

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

	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/mockapi"
)

func mockBackendCmd(load func() (config.Settings, error)) *cobra.Command {
	var (
		addr          string
		redirectPolls int
		latency       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve the mock checkout backend",
		Long: `Serve a checkout backend with deterministic scenarios.

Test cards:
  4111111111111111  frictionless 3DS
  5555555555554444  3DS challenge
  4000000000000002  declined
  any other         approved`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = settings.MockBackendAddr
			}

			backend := mockapi.New(mockapi.Options{
				RedirectPolls: redirectPolls,
				MinLatency:    latency / 2,
				MaxLatency:    latency,
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           backend.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				slog.Info("mock_backend_starting", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			slog.Info("mock_backend_stopping")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from settings)")
	cmd.Flags().IntVar(&redirectPolls, "redirect-polls", 1, "PENDING status reads before a redirect completes")
	cmd.Flags().DurationVar(&latency, "latency", 0, "maximum simulated latency per request")
	return cmd
}
