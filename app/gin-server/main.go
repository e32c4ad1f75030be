package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/config"
	"github.com/yoockh/yoocall/internal/api/handlers"
	"github.com/yoockh/yoocall/internal/api/middleware"
	"github.com/yoockh/yoocall/internal/api/routes"
	"github.com/yoockh/yoocall/internal/auth"
	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/providers/engine"
	"github.com/yoockh/yoocall/internal/providers/llm"
	"github.com/yoockh/yoocall/internal/providers/stt"
	"github.com/yoockh/yoocall/internal/providers/tts"
	"github.com/yoockh/yoocall/internal/realtime"
	mongorepo "github.com/yoockh/yoocall/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
	"github.com/yoockh/yoocall/internal/services"
	"github.com/yoockh/yoocall/internal/translation"
	"github.com/yoockh/yoocall/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init PostgreSQL
	db, err := config.OpenPostgres(cfg.PostgresURI)
	if err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	log.Info("PostgreSQL connected")

	m := metrics.New()

	// Init Redis (profile cache); falls back to in-process cache
	var profileCache cache.Cache = cache.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rdb, err := config.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, using in-process profile cache")
		} else {
			defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
			profileCache = cache.NewRedisCache(rdb)
			log.Info("Redis connected")
		}
	}
	users := services.NewUserService(pgrepo.NewUserRepo(db), profileCache, cfg.ProfileCacheTTL)
	calls := services.NewCallService(pgrepo.NewCallRepo(db), pgrepo.NewBookingRepo(db), users, m, log)

	// Init MongoDB (transcripts); optional
	var transcripts services.TranscriptService
	if cfg.MongoURI != "" {
		mc, err := config.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("MongoDB init error")
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		mdb := mc.Database(cfg.MongoDB)
		if err := config.EnsureMongoIndexes(ctx, mdb); err != nil {
			log.WithError(err).Warn("failed to ensure mongo indexes")
		}
		transcripts = services.NewTranscriptService(mongorepo.NewTranscriptRepo(mdb, cfg.TranscriptTTL), calls)
		log.Info("MongoDB connected")
	}

	hub := realtime.NewHub(realtime.Options{
		Calls:         calls,
		Users:         users,
		Metrics:       m,
		Logger:        log,
		PulseInterval: cfg.PulseInterval,
		PulseTimeout:  cfg.PulseTimeout,
	})
	calls.SetNotifier(hub)
	go hub.Pulse().Run(ctx)

	tm, closeProviders := buildTranslation(ctx, cfg, log, hub, calls, transcripts, m)
	defer closeProviders()
	if tm != nil {
		hub.SetTranslator(tm)
		defer tm.Close()
	}

	sweeper := &workers.MissedCallSweeper{
		Calls:       calls,
		Interval:    cfg.MissedSweepEvery,
		RingTimeout: cfg.RingTimeout,
		Logger:      log,
	}
	if err := sweeper.Start(ctx); err != nil {
		log.WithError(err).Fatal("missed-call sweeper init error")
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	routes.RegisterRoutes(r, routes.Deps{
		Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Metrics:  m.Handler(),
		Call:     handlers.NewCallHandler(calls, transcripts),
		Room:     handlers.NewRoomHandler(hub.Rooms()),
		WS:       handlers.NewWSHandler(hub, cfg.CORSOrigins),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	hub.Close()
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	return c
}

// buildTranslation wires the configured engine and synthesizer. It returns a
// nil manager when translation cannot run in this process.
func buildTranslation(ctx context.Context, cfg *config.Config, log *logrus.Logger, hub *realtime.Hub,
	calls services.CallService, transcripts services.TranscriptService, m *metrics.Metrics) (*translation.Manager, func()) {

	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	var eng engine.Factory
	switch cfg.TranslationEngine {
	case "google":
		if cfg.GCPProject == "" || cfg.GeminiModel == "" {
			log.Warn("google translation engine needs GCP_PROJECT_ID and GEMINI_MODEL; translation disabled")
			return nil, closeAll
		}
		speech, err := stt.NewGoogleSpeech(ctx)
		if err != nil {
			log.WithError(err).Warn("speech client init failed; translation disabled")
			return nil, closeAll
		}
		closers = append(closers, speech.Close)
		gemini, err := llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel)
		if err != nil {
			log.WithError(err).Warn("vertex client init failed; translation disabled")
			return nil, closeAll
		}
		closers = append(closers, gemini.Close)
		eng = &engine.GoogleEngine{STT: speech, Translator: gemini}
	default:
		if cfg.EngineURL == "" {
			log.Info("TRANSLATION_ENGINE_URL not set; translation disabled")
			return nil, closeAll
		}
		eng = &engine.WSEngine{URL: cfg.EngineURL, APIKey: cfg.EngineAPIKey, Model: cfg.EngineModel}
	}

	var synth tts.Synthesizer
	if g, err := tts.NewGoogleTTS(ctx, cfg.TTSSampleRate, cfg.TTSDefaultLang); err != nil {
		log.WithError(err).Warn("text-to-speech client init failed; translated audio disabled")
	} else {
		closers = append(closers, g.Close)
		synth = g
	}

	opts := translation.Options{
		Engine:      eng,
		Synthesizer: synth,
		Calls:       calls,
		Emitter:     hub,
		Metrics:     m,
		Logger:      log,
		SampleRate:  16000,
	}
	if transcripts != nil {
		opts.Transcripts = transcripts
	}
	return translation.NewManager(opts), closeAll
}
