package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/handlers"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/logging"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/routes"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, payment and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	// Alerts left mid-processing by a previous run are failed so they can be retried.
	if n, err := a.processor.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted alerts: %w", err)
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("interrupted alerts marked failed")
	}

	a.processor.Start(ctx)
	defer a.processor.Stop()

	if n, err := a.processor.RequeuePending(ctx); err != nil {
		return fmt.Errorf("failed to requeue pending alerts: %w", err)
	} else if n > 0 {
		log.Info().Int("count", n).Msg("pending alerts requeued")
	}

	go a.sweepLoop(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(handlers.RequestID())
	r.Use(logging.GinLogger(log.Logger))
	r.Use(gin.Recovery())

	routes.SetupRoutes(r, routes.Handlers{
		Alerts:   handlers.NewAlertHandler(a.alerts, a.processor, a.cfg.Webhook.Source),
		Payments: handlers.NewPaymentHandler(a.payments, a.subscriptions, a.users, a.cfg.Payment.MaxProofBytes),
	}, a.cfg)

	addr := fmt.Sprintf("%s:%s", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting server")
		log.Info().Msgf("TradingView webhook endpoint: http://%s/api/v1/webhook/tradingview", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLoop expires stale payments on the configured interval
func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Payment.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.payments.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("payment sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("payments expired")
			}
		}
	}
}
