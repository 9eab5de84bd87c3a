package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowrelay/n8n-chat-relay/config"
	"github.com/flowrelay/n8n-chat-relay/logging"
	"github.com/flowrelay/n8n-chat-relay/server"
)

// runServer is swapped out in tests.
var runServer = run

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		webhookURL string
		host       string
		port       int
		staticDir  string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "n8n-chat-relay",
		Short:         "Relay browser chat messages to an n8n chat webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("webhook-url") {
				cfg.WebhookURL = webhookURL
			}
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("static-dir") {
				cfg.StaticDir = staticDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&webhookURL, "webhook-url", config.DefaultWebhookURL, "n8n chat webhook URL (env N8N_WEBHOOK_URL)")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "interface to listen on (env HOST)")
	cmd.Flags().IntVar(&port, "port", 8000, "port to listen on (env PORT)")
	cmd.Flags().StringVar(&staticDir, "static-dir", "static", "directory holding the chat UI (env STATIC_DIR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (env LOG_LEVEL)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	webhook := server.NewWebhook(cfg.WebhookURL, cfg.ProbeURL(), cfg.ChatTimeout, cfg.HealthTimeout)
	app := server.New(webhook, cfg.StaticDir, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// must outlast the webhook bound so a slow n8n still gets its 408
		WriteTimeout: cfg.ChatTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info().Str("webhook_url", cfg.WebhookURL).Msg("Starting relay server")
	logger.Info().Str("addr", httpServer.Addr).
		Str("ui", "http://"+net.JoinHostPort("localhost", strconv.Itoa(cfg.Port))).
		Msg("Visit the UI address to use the chat interface")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Wrap(httpServer.Shutdown(shutdownCtx), "shutdown")
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
