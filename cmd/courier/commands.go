package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimte/courier"
	"github.com/glimte/courier/auditlog"
	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/health"
	"github.com/glimte/courier/interceptors"
	"github.com/glimte/courier/messaging"
	"github.com/glimte/courier/serialization"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connect(ctx context.Context, flags *globalFlags, logger *slog.Logger) (*courier.Client, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	client, err := courier.NewClient(cfg, courier.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return client, nil
}

func newSendCommand(flags *globalFlags) *cobra.Command {
	var (
		iface         string
		payload       string
		correlationID string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish one JSON payload on an interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return errors.New("payload is not valid JSON")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			logger := flags.logger()
			client, err := connect(ctx, flags, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if !client.Sender(iface).Configured() {
				return fmt.Errorf("interface %q has no sender destination", iface)
			}
			if correlationID == "" {
				correlationID = contracts.NewTransactionID()
			}
			if err := client.SendRaw(ctx, iface, []byte(payload), serialization.JSONContentType, correlationID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), correlationID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "interface", "i", "", "Interface name")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id (generated when empty)")
	_ = cmd.MarkFlagRequired("interface")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// loggingHandler logs every delivery it is given.
func loggingHandler(logger *slog.Logger) messaging.Handler {
	return messaging.HandlerFunc(func(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error {
		logger.InfoContext(ctx, "message received",
			"interfaceName", rc.InterfaceName,
			"transactionId", rc.TransactionID,
			"contentType", env.ContentType(),
			"size", len(env.RawBytes()),
			"headers", rc.RequestHeaders(),
		)
		return nil
	})
}

func newListenCommand(flags *globalFlags) *cobra.Command {
	var (
		retries uint64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Consume every configured receiver and log what arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			logger := flags.logger()
			client, err := connect(ctx, flags, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			names := client.Config().ReceiverNames()
			if len(names) == 0 {
				return errors.New("no receiver destinations configured")
			}
			handler := interceptors.NewChain(logger).
				Add(interceptors.NewLoggingInterceptor(logger)).
				Add(interceptors.NewTimeoutInterceptor(timeout)).
				Add(interceptors.NewRetryInterceptor(retries, 200*time.Millisecond).WithLogger(logger)).
				Then(loggingHandler(logger))
			for _, name := range names {
				client.Receiver(name, handler)
			}

			err = config.Watch(flags.configPath, logger, func(cfg *config.Config) {
				logger.Warn("configuration changed; restart to apply destination changes",
					"receivers", cfg.ReceiverNames(),
				)
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}

			if err := client.Start(ctx); err != nil {
				return err
			}
			logger.Info("listening", "receivers", names)

			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().Uint64Var(&retries, "retries", 0, "Handler retries before a delivery counts as failed")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Handler timeout (0 disables it)")
	return cmd
}

func newAuditCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Drain the audit queue into the configured sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			logger := flags.logger()
			client, err := connect(ctx, flags, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			cfg := client.Config()
			sinks := auditlog.MultiSink{auditlog.NewSlogSink(logger)}
			if cfg.Audit.Redis.Addr != "" {
				rdb := auditlog.NewRedisClient(cfg.Audit.Redis)
				defer rdb.Close()

				sink, err := auditlog.NewRedisSink(rdb, cfg.Audit.Redis.Stream,
					auditlog.WithMaxLen(cfg.Audit.Redis.MaxLen),
					auditlog.WithRedisLogger(logger),
				)
				if err != nil {
					return err
				}
				sinks = append(sinks, sink)
			}

			if client.AuditReceiver(sinks) == nil {
				return errors.New("auditing is disabled in the configuration")
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			logger.Info("draining audit queue", "queue", client.Audit().Queue(), "sinks", len(sinks))

			<-ctx.Done()
			return nil
		},
	}
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the broker, the configured queues and Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			logger := flags.logger()
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			client, err := courier.NewClient(cfg, courier.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				logger.Error("connect failed", "error", err)
			}

			checkers := client.HealthCheckers()
			if cfg.Audit.Redis.Addr != "" {
				rdb := auditlog.NewRedisClient(cfg.Audit.Redis)
				defer rdb.Close()
				checkers = append(checkers, health.NewRedisChecker(rdb))
			}

			report := health.Run(ctx, checkers...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Healthy() {
				return fmt.Errorf("status %s", report.Status)
			}
			return nil
		},
	}
}
