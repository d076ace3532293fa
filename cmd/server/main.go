package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mediascribe/api/internal/client"
	"github.com/mediascribe/api/internal/config"
	"github.com/mediascribe/api/internal/handler"
	"github.com/mediascribe/api/internal/middleware"
	"github.com/mediascribe/api/internal/registry"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/internal/store"
	"github.com/mediascribe/api/internal/worker"
	ws "github.com/mediascribe/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize SQLite store
	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Runtime settings live in Redis so they survive restarts and can be
	// changed without redeploying
	settings := store.NewSettings(redisClient)

	// Initialize external clients
	asrClient := client.NewASRClient(&cfg.ASR, settings)
	if err := asrClient.LoadRoutingConfig(ctx); err != nil {
		log.Printf("Warning: using default ASR routing config: %v", err)
	}
	go asrClient.StartHealthLoop(ctx)

	llmClient := client.NewLLMClient(&cfg.LLM)
	if !llmClient.IsConfigured() {
		log.Println("Info: LLM not configured, analysis tasks will be skipped")
	}

	// Initialize services
	jobRegistry := registry.New(cfg.Media.HistoryCap)
	mediaCache := service.NewMediaCache(st, settings, cfg.Media.CacheDir)
	go mediaCache.StartGCLoop(ctx)

	analysisQueue := service.NewAnalysisQueue(asynqClient)
	pipeline := worker.NewPipeline(
		jobRegistry,
		asrClient,
		mediaCache,
		st,
		hub,
		analysisQueue,
		nil, // no subtitle provider for direct media sources
		cfg.Isolation.Command,
		time.Duration(cfg.Isolation.KillGrace)*time.Second,
	)
	cacheWorker := worker.NewCacheWorker(jobRegistry, mediaCache, hub)
	transcription := service.NewTranscription(jobRegistry, pipeline, cacheWorker, cfg.Media.TempDir)

	// Initialize handlers
	transcribeHandler := handler.NewTranscribeHandler(transcription, asrClient, cfg.Media.TempDir, validate)
	tasksHandler := handler.NewTasksHandler(transcription)
	transcriptsHandler := handler.NewTranscriptsHandler(st)
	cacheHandler := handler.NewCacheHandler(mediaCache, transcription, settings, st, validate)
	asrHandler := handler.NewASRHandler(asrClient, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    2 * 1024 * 1024 * 1024, // 2GB, media uploads
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		engines := asrClient.Status()
		online := 0
		for _, e := range engines {
			if e.Available {
				online++
			}
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":         redisClient.Ping(c.Context()).Err() == nil,
				"asrEngines":    len(engines),
				"asrOnline":     online,
				"llm":           llmClient.IsConfigured(),
				"vocalIsolator": cfg.Isolation.Command != "",
			},
		})
	})

	// API routes
	api := app.Group("/api")

	// Transcription routes
	api.Post("/transcribe", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), transcribeHandler.Start)
	api.Post("/transcribe/file", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), transcribeHandler.StartFile)

	// Task routes
	api.Get("/tasks", tasksHandler.List)
	api.Get("/tasks/:id", tasksHandler.Get)
	api.Post("/tasks/:id/cancel", tasksHandler.Cancel)

	// Transcript routes
	api.Get("/transcripts", transcriptsHandler.Get)
	api.Get("/transcripts/all", transcriptsHandler.List)
	api.Get("/transcripts/exists", transcriptsHandler.Exists)
	api.Get("/summaries", transcriptsHandler.Summaries)

	// Media cache routes
	cache := api.Group("/cache")
	cache.Post("/jobs", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), cacheHandler.Enqueue)
	cache.Get("/entries", cacheHandler.Entries)
	cache.Delete("/entries", cacheHandler.Delete)
	cache.Get("/stats", cacheHandler.Stats)
	cache.Get("/gc", cacheHandler.GCPreview)
	cache.Post("/gc", cacheHandler.GCRun)
	cache.Get("/expiring", cacheHandler.ExpiringSoon)
	cache.Get("/integrity", cacheHandler.IntegrityScan)
	cache.Post("/integrity/sync", cacheHandler.IntegritySync)
	cache.Get("/retention", cacheHandler.RetentionGet)
	cache.Put("/retention", cacheHandler.RetentionSet)
	cache.Put("/sources/policy", cacheHandler.SourcePolicySet)

	// ASR routing routes
	asr := api.Group("/asr")
	asr.Get("/engines", asrHandler.Engines)
	asr.Get("/config", asrHandler.ConfigGet)
	asr.Put("/config", asrHandler.ConfigUpdate)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:id", websocket.New(func(c *websocket.Conn) {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			c.Close()
			return
		}
		hub.HandleConnection(c, id)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, llmClient, st)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, llmClient *client.LLMClient, st *store.Store) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				service.QueueAnalysis: 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	analysisWorker := worker.NewAnalysisWorker(llmClient, st)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TypeAnalysisProcess, analysisWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
