package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"propcast/internal/cfg"
	"propcast/internal/metrics"
	"propcast/internal/ml"
	"propcast/internal/signals"
	"propcast/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	// cmd/trainer owns the store's write lock; serving only opens it
	// read-only while a reload is in progress.
	loader := ml.ActiveLoader(func() (ml.ArtifactStore, func() error, error) {
		store, err := storage.OpenReadOnly(c.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	})

	registry := ml.NewRegistry(mw)
	if _, err := registry.Reload(ctx, loader); err != nil {
		log.Warn().Err(err).Msg("No active artifact, inference returns 503 until one is activated and reloaded")
	}

	calibrator, err := ml.NewCalibrator(c.Calibration)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid calibration config")
	}
	engine := ml.NewEngine(registry, calibrator, ml.EngineConfig{
		Policy:             c.Policy,
		Threshold:          c.Training.Threshold,
		AttributionOnInfer: true,
	}, mw)

	cache := initializeCache(ctx, c)
	var provider signals.Provider
	if c.Signals.BaseURL != "" {
		provider = signals.NewClient(c.Signals.BaseURL, c.Signals.Timeout, c.Signals.Breaker)
	}
	resolver := signals.NewResolver(cache, provider, c.Signals.CacheTTL, c.Signals.Timeout, mw)

	var wg sync.WaitGroup
	if c.Signals.StreamURL != "" {
		stream := signals.NewStream(c.Signals.StreamURL, cache, c.Signals.CacheTTL)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stream.Run(ctx, c.Signals.Subjects, c.Signals.PingInterval); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("signal stream ended")
			}
		}()
	}

	server := ml.NewModelServer(engine, registry, loader, resolver, c.ListenAddr)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()

	startMetricsServer(ctx, c, &wg)
	startArtifactAgeReporter(ctx, &wg, registry, mw)

	waitForShutdown(ctx, cancel, &wg, registry, loader, server)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
}

// initializeCache uses redis when configured and reachable, memory otherwise
func initializeCache(ctx context.Context, c cfg.Settings) signals.Cache {
	if c.Redis.Addr == "" {
		return signals.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", c.Redis.Addr).Msg("redis unreachable, falling back to in-memory signal cache")
		client.Close()
		return signals.NewMemoryCache()
	}
	log.Info().Str("addr", c.Redis.Addr).Msg("Using redis signal cache")
	return signals.NewRedisCache(client, "propcast:")
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings, wg *sync.WaitGroup) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func startArtifactAgeReporter(ctx context.Context, wg *sync.WaitGroup, registry *ml.Registry, mw *metrics.MetricsWrapper) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if a, err := registry.Current(); err == nil {
					mw.ArtifactAgeSet(time.Since(a.TrainingTimestamp()).Seconds())
				}
			}
		}
	}()
}

// waitForShutdown reloads on SIGHUP and stops on SIGINT/SIGTERM
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, registry *ml.Registry, loader ml.ArtifactLoader, server *ml.ModelServer) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Context cancelled, shutting down")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if _, err := registry.Reload(ctx, loader); err != nil {
					log.Error().Err(err).Msg("reload failed, keeping current artifact")
				}
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		}
		break
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("model server shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout reached, forcing exit")
	}
}
