// Command gtr-fetch downloads paginated bulk data from the UKRI Gateway
// to Research API and persists each page as a JSON object in an
// S3-compatible object store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/researchpipe/gtr-fetch/pkg/client"
	"github.com/researchpipe/gtr-fetch/pkg/config"
	"github.com/researchpipe/gtr-fetch/pkg/logging"
	"github.com/researchpipe/gtr-fetch/pkg/metrics"
	"github.com/researchpipe/gtr-fetch/pkg/pipeline"
	"github.com/researchpipe/gtr-fetch/pkg/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.Setup(logging.DefaultConfig())
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		var errCh <-chan error
		metricsSrv, errCh = metrics.Serve(cfg.MetricsAddr)
		go func() {
			if err := <-errCh; err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	clientCfg := client.DefaultConfig()
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.UserAgent != "" {
		clientCfg.UserAgent = cfg.UserAgent
	}
	clientCfg.PageSize = cfg.PageSize
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.MaxRetries = cfg.MaxRetries

	fetcher, err := client.New(clientCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create API client")
		return 1
	}

	writer, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioSSL,
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
	})
	if err != nil {
		logger.Error().Err(err).Str("bucket", cfg.Bucket).Msg("Failed to connect to object store")
		return 1
	}

	logger.Info().
		Strs("endpoints", cfg.Endpoints).
		Str("bucket", cfg.Bucket).
		Str("prefix", cfg.Prefix).
		Int("page_size", cfg.PageSize).
		Msg("Starting fetch run")

	runner := pipeline.NewRunner(fetcher, writer)
	runErr := runner.RunAll(ctx, cfg.Endpoints)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Fetch run failed")
		return 1
	}

	logger.Info().Msg("Fetch run complete")
	return 0
}
