// Package main wires together the keyword enrichment service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/api"
	"github.com/appsight/aso-pipeline/internal/appstore"
	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/clock/system"
	"github.com/appsight/aso-pipeline/internal/config"
	"github.com/appsight/aso-pipeline/internal/fetch"
	"github.com/appsight/aso-pipeline/internal/id/uuid"
	"github.com/appsight/aso-pipeline/internal/images"
	"github.com/appsight/aso-pipeline/internal/keywords"
	"github.com/appsight/aso-pipeline/internal/logging"
	"github.com/appsight/aso-pipeline/internal/metrics"
	"github.com/appsight/aso-pipeline/internal/pipeline"
	"github.com/appsight/aso-pipeline/internal/progress"
	"github.com/appsight/aso-pipeline/internal/progress/sinks"
	"github.com/appsight/aso-pipeline/internal/ratelimit"
	"github.com/appsight/aso-pipeline/internal/scoring"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	client := fetch.New(fetch.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RPS,
			DefaultBurst: cfg.HTTP.Burst,
		}),
	})
	provider := appstore.New(appstore.Config{
		BaseURL:    cfg.AppStore.BaseURL,
		Country:    cfg.AppStore.Country,
		StoreFront: cfg.AppStore.StoreFront,
	}, client, logger.Named("appstore"))
	imageFetcher := images.New(client, logger.Named("images"))
	clk := system.New()
	idGen := uuid.New()

	generator, err := keywords.New(cfg.Model.APIKey, keywords.Config{
		Model:         cfg.Model.Name,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MinKeywords:   cfg.Model.MinKeywords,
		ScreenshotCap: cfg.Model.ScreenshotCap,
	}, imageFetcher, clk, logger.Named("keywords"))
	if err != nil {
		logger.Fatal("keyword generator init failed", zap.Error(err))
	}

	var scorer aso.KeywordScorer
	if cfg.Scoring.Enabled {
		scorer = scoring.New(scoring.Config{BaseURL: cfg.Scoring.BaseURL}, client, logger.Named("scoring"))
	}

	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	sinkList = append(sinkList, promSink)

	var pubsubClient *gcppubsub.Client
	if cfg.PubSub.Enabled {
		pubsubClient, err = gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		publisher := sinks.NewGCPPublisher(pubsubClient.Topic(cfg.PubSub.TopicName))
		sinkList = append(sinkList, sinks.NewPubSubSink(publisher, cfg.PubSub.TopicName, logger.Named("pubsub")))
	}

	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinkList...)

	orch := pipeline.New(
		provider,
		generator,
		scorer,
		hub,
		clk,
		idGen,
		pipeline.Config{
			RelatedCap: cfg.Pipeline.RelatedCap,
			ScoreCap:   cfg.Pipeline.ScoreCap,
		},
		logger.Named("pipeline"),
	)

	apiServer := api.NewServer(orch, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Error("pubsub client close error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
