package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mfalda/parla/internal/archive"
	"github.com/mfalda/parla/internal/brain"
	"github.com/mfalda/parla/internal/config"
	"github.com/mfalda/parla/internal/httpapi"
	"github.com/mfalda/parla/internal/observability"
	"github.com/mfalda/parla/internal/ratelimit"
	"github.com/mfalda/parla/internal/session"
	"github.com/mfalda/parla/internal/ttscache"
	"github.com/mfalda/parla/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)

	ctx := context.Background()

	redisClient := connectRedis(ctx, cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := session.NewStore(redisClient, cfg.RedisPrefix, cfg.SessionTimeout)
	limiter := ratelimit.New(redisClient, cfg.RedisPrefix)
	cache := ttscache.New(redisClient, cfg.RedisPrefix, cfg.TTSCacheTTL, cfg.TTSCacheMaxEntries)

	turns, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("archive store init failed: %v", err)
	}
	defer turns.Close()

	var (
		model brain.Streamer
		synth voice.Synthesizer
		stt   voice.Transcriber
	)
	if cfg.UpstreamAPIKey == "" {
		log.Printf("UPSTREAM_API_KEY not set, using mock providers")
		model = brain.NewMockStreamer()
		mock := voice.NewMockProvider()
		synth = mock
		stt = mock
	} else {
		model = brain.NewHTTPStreamer(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.ChatModel)
		provider := voice.NewHTTPProvider(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.TTSModel, cfg.STTModel, cfg.TTSFormat)
		synth = provider
		stt = provider
	}

	orchestrator := voice.NewOrchestrator(store, limiter, cache, model, synth, stt, turns, metrics, voice.Options{
		RateLimitPerMinute:       cfg.RateLimitPerMinute,
		RateLimitPerHour:         cfg.RateLimitPerHour,
		FirstChunkSentences:      cfg.FirstChunkSentences,
		SubsequentChunkSentences: cfg.SubsequentChunkSentences,
		MaxTextLength:            cfg.MaxTextLength,
		MaxAudioBytes:            cfg.MaxAudioBytes,
		TurnTimeout:              cfg.TurnTimeout,
		FirstAudioSLO:            cfg.FirstAudioSLO,
		HistoryCompactThreshold:  cfg.HistoryCompactThreshold,
		HistoryKeepRecent:        cfg.HistoryKeepRecent,
		Temperature:              cfg.Temperature,
		AudioFormat:              cfg.TTSFormat,
	})

	api := httpapi.New(cfg, store, limiter, turns, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	session.StartJanitor(runCtx, store, cfg.SessionTimeout, cfg.SessionSweepInterval, func(removed int) {
		for i := 0; i < removed; i++ {
			metrics.SessionEvents.WithLabelValues("expired").Inc()
		}
		if count, err := store.Count(runCtx); err == nil {
			metrics.ActiveSessions.Set(float64(count))
		}
	})

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// connectRedis probes Redis once at startup. The backend choice is made here
// and never revisited: an unreachable Redis means the in-process fallbacks
// run for the lifetime of this instance.
func connectRedis(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Printf("REDIS_URL not configured, using in-process state")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("invalid REDIS_URL (%v), using in-process state", err)
		return nil
	}
	client := redis.NewClient(opts)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		log.Printf("redis unreachable (%v), using in-process state", err)
		_ = client.Close()
		return nil
	}
	return client
}
