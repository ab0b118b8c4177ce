package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/edgeagent/internal/api"
	"example.com/edgeagent/internal/auth"
	"example.com/edgeagent/internal/config"
	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/push"
	"example.com/edgeagent/internal/router"
	httptransport "example.com/edgeagent/internal/transport/http"
)

const shutdownGrace = 15 * time.Second

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the intercepting proxy and the control API",
		RunE:  runServe,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Prime the static store and activate the configured version",
		RunE:  runInstall,
	}

	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Inspect or replay the offline sync queue",
	}

	queueListCmd = &cobra.Command{
		Use:   "list",
		Short: "List queued operations in replay order",
		RunE:  runQueueList,
	}

	queueDrainCmd = &cobra.Command{
		Use:   "drain",
		Short: "Replay every queued operation once",
		RunE:  runQueueDrain,
	}
)

func init() {
	queueCmd.AddCommand(queueListCmd, queueDrainCmd)
}

func withAgent(cmd *cobra.Command, fn func(ctx context.Context, a *agent) error) error {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.Close())
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withAgent(cmd, func(ctx context.Context, a *agent) error {
		if err := a.controller.Start(ctx); err != nil {
			a.logger.Warn("initial install failed; proxying without interception until the origin is reachable", slog.String("error", err.Error()))
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go a.monitor.Start(runCtx)
		stopSink := a.startNotificationSink(runCtx)

		g, gctx := errgroup.WithContext(runCtx)
		if len(a.cfg.KafkaBrokers) > 0 && a.cfg.PushTopic != "" {
			reader := push.NewReader(push.ReaderConfig{
				Brokers: a.cfg.KafkaBrokers,
				GroupID: a.cfg.PushGroupID,
				Topic:   a.cfg.PushTopic,
			})
			processor := push.NewProcessor(reader, a.notifications, push.WithLogger(a.logger.With(slog.String("component", "push"))))
			g.Go(func() error {
				defer reader.Close()
				if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("push consumer: %w", err)
				}
				return nil
			})
		}

		proxy := httptransport.NewServer(httptransport.ProxyDefaults(a.cfg.ProxyAddress), router.NewHandler(a.router, a.origin, a.clients))
		g.Go(func() error {
			return httptransport.ListenAndServe(gctx, proxy, shutdownGrace, a.logger.With(slog.String("listener", "proxy")))
		})

		control := httptransport.NewServer(httptransport.ControlDefaults(a.cfg.ControlAddress), a.controlHandler())
		g.Go(func() error {
			return httptransport.ListenAndServe(gctx, control, shutdownGrace, a.logger.With(slog.String("listener", "control")))
		})

		err := g.Wait()
		cancel()
		a.monitor.Wait()
		if stopSink != nil {
			stopSink()
		}
		return err
	})
}

func (a *agent) controlHandler() http.Handler {
	mux := http.NewServeMux()
	api.NewHandler(a.queue, a.notifications, a.alerts, a.controller, a.clients, a.logger).RegisterRoutes(mux)
	if a.cfg.ControlJWTSecret == "" {
		return mux
	}
	return auth.NewMiddleware(auth.Config{Secret: a.cfg.ControlJWTSecret, Issuer: a.cfg.ControlJWTIssuer}).Wrap(mux)
}

// startNotificationSink mirrors every notification list change to Kafka.
func (a *agent) startNotificationSink(ctx context.Context) func() {
	if len(a.cfg.KafkaBrokers) == 0 || a.cfg.NotificationTopic == "" {
		return nil
	}
	producer := push.NewProducer(a.cfg.KafkaBrokers)
	sink := notify.NewKafkaSink(producer, a.cfg.NotificationTopic, a.logger)
	unsubscribe := a.notifications.Subscribe(sink.Listener())
	go sink.Start(ctx)
	return func() {
		unsubscribe()
		sink.Wait()
		if err := producer.Close(); err != nil {
			a.logger.Warn("producer close failed", slog.String("error", err.Error()))
		}
	}
}

func runInstall(cmd *cobra.Command, _ []string) error {
	return withAgent(cmd, func(ctx context.Context, a *agent) error {
		err := a.controller.Start(ctx)
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if encErr := encoder.Encode(a.controller.Status()); encErr != nil {
			return errors.Join(err, encErr)
		}
		return err
	})
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	return withAgent(cmd, func(ctx context.Context, a *agent) error {
		ops, err := a.queue.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTARGET\tSUBJECT\tATTEMPTS\tSTATUS\tCREATED")
		for _, op := range ops {
			target := fmt.Sprintf("gym %d", op.GymID)
			if op.CheckinID != 0 {
				target = fmt.Sprintf("checkin %d", op.CheckinID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", op.ID, op.Kind, target, op.Subject, op.Attempts, op.Status, op.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runQueueDrain(cmd *cobra.Command, _ []string) error {
	return withAgent(cmd, func(ctx context.Context, a *agent) error {
		report, err := a.queue.Drain(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "succeeded=%d failed=%d remaining=%d\n", len(report.Succeeded), len(report.Failed), report.Remaining)
		return err
	})
}
