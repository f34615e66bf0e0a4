package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/channel/telegram"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/database"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/handlers"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/logging"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/services"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/upi"
)

var (
	configFile string
	usersFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "alertbot",
		Short:        "TradingView alert fan-out to Telegram subscribers",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&usersFile, "users", "users.yaml", "Path to user seed file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepPaymentsCmd())
	rootCmd.AddCommand(retryAlertCmd())
	rootCmd.AddCommand(adminTokenCmd())
	rootCmd.AddCommand(initConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app wires configuration, storage and services shared by every command
type app struct {
	cfg           *config.Config
	db            *gorm.DB
	alerts        *services.AlertService
	users         *services.UserService
	subscriptions *services.SubscriptionService
	payments      *services.PaymentService
	processor     *services.AlertProcessor
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	log.Logger = logging.NewLoggerWithConfig(cfg.Log)

	db, err := database.Open(cfg.Database.DSN, cfg.Database.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		db:            db,
		alerts:        services.NewAlertService(db),
		users:         services.NewUserService(db),
		subscriptions: services.NewSubscriptionService(db),
	}

	if err := a.subscriptions.SyncPlans(ctx, cfg.Plans); err != nil {
		return nil, fmt.Errorf("failed to seed plans: %w", err)
	}

	if _, err := os.Stat(usersFile); err == nil {
		userConfig, err := config.LoadUserConfig(usersFile)
		if err != nil {
			return nil, err
		}
		if err := a.users.SyncUsers(ctx, userConfig); err != nil {
			return nil, fmt.Errorf("failed to seed users: %w", err)
		}
	} else {
		log.Warn().Str("file", usersFile).Msg("user seed file not found, skipping")
	}

	ids, err := upi.NewIDGenerator(cfg.Payment.NodeID)
	if err != nil {
		return nil, err
	}
	a.payments = services.NewPaymentService(db, a.subscriptions, ids, cfg.Payment)

	bot := telegram.NewClient(telegram.Config{
		Token:         cfg.Telegram.Token,
		BaseURL:       cfg.Telegram.BaseURL,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Timeout:       cfg.Telegram.Timeout,
	})
	matching := services.NewMatchingService(db, a.users, a.subscriptions)
	trades := services.NewTradeService(db)
	delivery := services.NewDeliveryService(db, bot, a.alerts, a.users, cfg.Delivery)
	a.processor = services.NewAlertProcessor(a.alerts, matching, trades, delivery, cfg.Processor)

	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func sweepPaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-payments",
		Short: "Expire initiated and pending payments past their time-to-live",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.payments.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("expired %d payment(s)\n", n)
			return nil
		},
	}
}

func retryAlertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-alert <id>",
		Short: "Re-run processing of a failed alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid alert id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.processor.Retry(ctx, uint(id)); err != nil {
				return err
			}

			alert, err := a.alerts.GetAlert(ctx, uint(id))
			if err != nil {
				return err
			}
			fmt.Printf("alert %d is %s after %d attempt(s)\n", alert.ID, alert.Status, alert.Attempts)
			return nil
		},
	}
}

func adminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Issue an admin bearer token for payment verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			token, err := handlers.GenerateAdminToken(cfg.Admin.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Verifier id recorded on approvals and rejections")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); err == nil {
				return fmt.Errorf("%s already exists", configFile)
			}
			cfg := &config.Config{}
			cfg.ApplyDefaults()
			if err := config.SaveConfig(cfg, configFile); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configFile)
			return nil
		},
	}
}
