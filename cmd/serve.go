package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/investigator/internal/api"
	"github.com/sells-group/investigator/internal/auth"
	"github.com/sells-group/investigator/internal/monitoring"
	"github.com/sells-group/investigator/internal/notify"
)

var servePort int

const (
	shutdownTimeout   = 30 * time.Second
	relayFlushTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the investigator HTTP API and live event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := notify.NewHub(cfg.Notify.SubscriberBuffer)
		publishers := notify.Multi{hub}
		var relay *notify.RedisPublisher
		if cfg.Notify.Redis.Addr != "" {
			client, err := notify.Dial(ctx, cfg.Notify.Redis.Addr, cfg.Notify.Redis.Password, cfg.Notify.Redis.DB)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck
			relay = notify.NewRedisPublisher(client, cfg.Notify.Redis.Channel, cfg.Notify.Redis.QueueSize)
			// Runs the relay flush after env.Close, before the client closes.
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), relayFlushTimeout)
				defer cancel()
				if err := relay.Close(flushCtx); err != nil {
					zap.L().Warn("redis relay flush", zap.Error(err))
				}
			}()
			publishers = append(publishers, relay)
			zap.L().Info("relaying events to redis", zap.String("channel", cfg.Notify.Redis.Channel))
		}
		events := notify.NewThrottled(publishers, cfg.Notify.ResultEventsPerSec, cfg.Notify.ResultEventBurst)

		env, err := initEnv(ctx, events)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Orch.ReclaimOrphans(ctx); err != nil {
			return err
		}

		gate := auth.NewGate(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if !gate.Enabled() {
			zap.L().Warn("auth.jwt_secret is empty; API is open to every caller")
		}

		server := api.New(api.Deps{
			Registry:     env.Registry,
			Orchestrator: env.Orch,
			Auditor:      env.Auditor,
			Hub:          hub,
			Gate:         gate,
			Server:       cfg.Server,
			Throttle:     cfg.Throttle,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			env.Auditor,
			time.Duration(cfg.Audit.SweepIntervalSecs)*time.Second,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
		})

		err = g.Wait()
		dropped := hub.Dropped() + events.Dropped()
		if relay != nil {
			dropped += relay.Dropped()
		}
		zap.L().Info("waiting for in-flight investigations", zap.Int64("events_dropped", dropped))
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
