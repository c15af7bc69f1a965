package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
	"github.com/MikeSquared-Agency/mnemo/internal/api"
	"github.com/MikeSquared-Agency/mnemo/internal/config"
	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
	"github.com/MikeSquared-Agency/mnemo/internal/line"
	"github.com/MikeSquared-Agency/mnemo/internal/responder"
	"github.com/MikeSquared-Agency/mnemo/internal/slack"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and ingest HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("mnemo starting", "port", cfg.Port, "llm_provider", cfg.LLMProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.LineChannelSecret == "" || cfg.LineChannelAccessToken == "" {
		return fmt.Errorf("LINE_CHANNEL_SECRET and LINE_CHANNEL_ACCESS_TOKEN are required")
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	index, db, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Warn("NATS unavailable, events will not be published", "error", err)
			hermesClient = nil
		} else {
			defer hermesClient.Close()
			logger.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	// Slack poster (optional, posts ingest summaries)
	var slackPoster *slack.Poster
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		slackPoster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	dispatcher := responder.NewDispatcher(cfg.EnrichConcurrency, cfg.EnrichTimeout, logger)
	lineClient := line.NewClient(cfg.LineChannelAccessToken, logger)

	rcfg := responder.DefaultConfig()
	rcfg.FastTimeout = cfg.FastPathTimeout
	rcfg.Fast.Model = cfg.FastModel
	rcfg.Deep.Model = cfg.DeepModel

	var pipeOpts []responder.Option
	var ingestOpts []ingest.Option
	deps := api.Deps{
		ChannelSecret: cfg.LineChannelSecret,
		AllowList:     config.AllowedTalkRoomsFromEnv,
		Features: map[string]string{
			"llm":            cfg.LLMProvider,
			"fastModel":      cfg.FastModel,
			"deepModel":      cfg.DeepModel,
			"embeddingModel": cfg.EmbeddingModel,
		},
	}
	if index != nil {
		pipeOpts = append(pipeOpts, responder.WithRetriever(index))
		deps.Index = index
	}
	if hermesClient != nil {
		pipeOpts = append(pipeOpts, responder.WithPublisher(hermesClient))
		ingestOpts = append(ingestOpts, ingest.WithPublisher(hermesClient))
		deps.Publisher = hermesClient
	}
	if slackPoster != nil {
		ingestOpts = append(ingestOpts, ingest.WithNotifier(slackPoster))
	}

	deps.Events = responder.New(rcfg, gen, lineClient, dispatcher, logger, pipeOpts...)
	if index != nil {
		deps.Ingest = ingest.NewService(ingestConfig(cfg, logger), index, logger, ingestOpts...)
	} else {
		deps.Ingest = ingest.NewService(ingestConfig(cfg, logger), nil, logger, ingestOpts...)
	}

	if n := access.ParseAllowList(cfg.AllowedTalkRooms).Len(); n > 0 {
		logger.Info("access restricted to allow-list", "entries", n)
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, deps, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("mnemo ready", "port", cfg.Port, "retrieval", index != nil)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("abandoning pending enrichments", "error", err)
	}
	cancel()
	logger.Info("mnemo stopped")
	return nil
}
