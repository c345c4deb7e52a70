package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/repopool"
	"github.com/remotedoc/gateway/repository"
)

const metricsNamespace = "remotedoc"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config-file",
			Sources: cli.EnvVars("REMOTEDOC_CONFIG"),
			Value:   "/etc/remotedoc/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.IntFlag{
			Name:    "port",
			Sources: cli.EnvVars("REMOTEDOC_PORT"),
			Value:   8080,
			Usage:   "Port to listen on.",
		},
		&cli.IntFlag{
			Name:    "sync-interval",
			Sources: cli.EnvVars("REMOTEDOC_SYNC_INTERVAL"),
			Usage:   "Seconds between periodic repository syncs. Mutually exclusive with --enable-webhook.",
		},
		&cli.BoolFlag{
			Name:    "enable-webhook",
			Sources: cli.EnvVars("REMOTEDOC_ENABLE_WEBHOOK"),
			Usage:   "Sync repositories on github push webhooks instead of periodically.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:  "remotedoc-gateway",
		Usage: "remotedoc-gateway serves Markdown from locally cached git repositories over an authorized tool API.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			syncInterval := c.Int("sync-interval")
			enableWebhook := c.Bool("enable-webhook")

			if enableWebhook && syncInterval != 0 {
				logger.Error("--enable-webhook and --sync-interval are mutually exclusive")
				os.Exit(1)
			}
			if syncInterval < 0 {
				logger.Error("--sync-interval cannot be negative")
				os.Exit(1)
			}

			conf, err := parseConfigFile(c.String("config-file"))
			if err != nil {
				logger.Error("unable to parse gateway config file", "err", err)
				os.Exit(1)
			}

			if syncInterval != 0 {
				conf.Defaults.Interval = time.Duration(syncInterval) * time.Second
			}

			if err := conf.ValidateRunMode(enableWebhook); err != nil {
				logger.Error("invalid run mode", "err", err)
				os.Exit(1)
			}

			store, err := auth.NewStaticStore(conf.APIKeys)
			if err != nil {
				logger.Error("invalid api key config", "err", err)
				os.Exit(1)
			}
			binding := auth.NewBinding(store)

			repository.EnableMetrics(metricsNamespace, prometheus.DefaultRegisterer)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			// path to resolve git and its credential helpers
			gitENV := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

			pool, err := repopool.New(ctx, conf.PoolConfig(), binding, logger.With("logger", "repopool"), gitENV)
			if err != nil {
				logger.Error("could not create repository pool", "err", err)
				os.Exit(1)
			}

			// initial parallel sync, a failing repository does not block
			// startup of the others
			if err := pool.SyncAll(ctx); err != nil {
				logger.Error("initial sync failed for some repositories", "err", err)
			}

			pool.StartLoop()

			mux := http.NewServeMux()
			srv := &server{pool: pool, log: logger.With("logger", "server")}
			srv.registerRoutes(mux)
			mux.Handle("/metrics", promhttp.Handler())

			if enableWebhook {
				mux.Handle("/webhooks/github", &GithubWebhookHandler{
					repoPool: pool,
					secret:   conf.Webhook.Secret,
					log:      logger.With("logger", "webhook"),
				})
			}

			httpServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", c.Int("port")),
				Handler: mux,
			}

			go func() {
				logger.Info("starting http server", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server terminated", "err", err)
					os.Exit(1)
				}
			}()

			//listenForShutdown
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			logger.Info("Shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown failed", "err", err)
			}

			cancel()
			<-pool.Stopped

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}
