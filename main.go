package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/cyderes/video-ingestion-service/internal/budget"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/feed"
	"github.com/cyderes/video-ingestion-service/internal/ingestion"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/publish"
	"github.com/cyderes/video-ingestion-service/internal/server"
	"github.com/cyderes/video-ingestion-service/internal/storage"
	"github.com/cyderes/video-ingestion-service/internal/thumbnail"
)

var log = logger.Get("Main")

type options struct {
	Config  string `short:"c" long:"config" env:"CONFIG_FILE" description:"Path to a YAML configuration file"`
	Once    bool   `long:"once" description:"Run a single batch and exit"`
	Verbose bool   `short:"v" long:"verbose" description:"Emit verbose and debug logs"`
}

func parseOptions() (*options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, err
	}

	return &opts, nil
}

func main() {
	opts, err := parseOptions()
	if err != nil {
		os.Exit(2)
	}
	if opts == nil {
		return
	}

	if opts.Verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v\n", err)
	}

	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v\n", err)
	}
	defer store.Close()

	publisher, err := publish.NewS3Publisher(cfg.Publisher)
	if err != nil {
		log.Fatalf("Failed to initialize publisher: %v\n", err)
	}

	accountant := budget.NewAccountant(cfg.Ingestion.MemoryLimitBytes)
	decoder := &thumbnail.FFmpegDecoder{
		FfmpegBinPath:  cfg.Extractor.FfmpegBinPath,
		FfprobeBinPath: cfg.Extractor.FfprobeBinPath,
	}
	extractor := thumbnail.NewExtractor(cfg.Extractor, decoder, accountant, cfg.Ingestion.UserAgent, cfg.Publisher.CacheControl)

	ingestor := ingestion.NewService(cfg, ingestion.Dependencies{
		Feed:      feed.NewClient(cfg.Ingestion),
		Storage:   store,
		Extractor: extractor,
		Publisher: publisher,
		Budget:    accountant,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if opts.Once {
		go func() {
			<-sigChan
			log.Emit(logger.STOP, "Shutdown signal received, cancelling batch\n")
			cancel()
		}()

		stats, err := ingestor.RunBatch(ctx)
		if err != nil {
			log.Errorf("Batch finished with error: %v\n", err)
		}
		log.Emit(logger.SUCCESS, "Batch complete: processed=%d skipped=%d errors=%d\n", stats.ProcessedCount, stats.SkippedCount, stats.ErrorCount)
		if err != nil {
			store.Close()
			os.Exit(1)
		}
		return
	}

	httpServer := server.NewServer(cfg.Server, store, ingestor)

	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v\n", err)
		}
	}()

	go func() {
		log.Infof("Starting video ingestion service across %d partitions\n", len(cfg.Ingestion.Partitions))
		if err := ingestor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Ingestion service error: %v\n", err)
		}
	}()

	<-sigChan
	log.Emit(logger.STOP, "Shutdown signal received, gracefully shutting down...\n")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v\n", err)
	}

	cancel()
	log.Emit(logger.SUCCESS, "Shutdown complete\n")
}
