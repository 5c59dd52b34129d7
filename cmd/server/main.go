package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"pulsewatch/internal/agents"
	"pulsewatch/internal/bus"
	"pulsewatch/internal/clients"
	"pulsewatch/internal/config"
	"pulsewatch/internal/engines"
	"pulsewatch/internal/handlers"
	"pulsewatch/internal/jobs"
	"pulsewatch/internal/logging"
	"pulsewatch/internal/metrics"
	"pulsewatch/internal/models"
	"pulsewatch/internal/services"
	"pulsewatch/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting PulseWatch Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	// Collaborator clients
	llm := clients.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel,
		cfg.LLMTimeout, cfg.LLMRateLimit, cfg.LLMRateBurst)
	social := clients.NewSocialAPIClient(cfg.SocialAPIURL, cfg.LLMTimeout)
	memory := clients.NewMemoryClient(cfg.MemoryURL, cfg.MemoryTimeout)

	// Web search runs through a Perplexity-style online model behind the
	// same completion contract as the primary LLM
	sonarLLM := clients.NewOpenAIClient(cfg.WebSearchAPIURL, cfg.WebSearchAPIKey, "sonar",
		cfg.LLMTimeout, cfg.LLMRateLimit, cfg.LLMRateBurst)
	web := clients.NewSonarClient(sonarLLM, "Guatemala", cfg.LLMTimeout)

	m := metrics.New()

	// Communication bus, with optional Redis event relay
	busOpts := []bus.Option{
		bus.WithMessageTimeout(cfg.MessageTimeout),
		bus.WithEventBufferSize(cfg.EventBufferSize),
		bus.WithHandoffObserver(func(outcome string) {
			m.Handoffs.WithLabelValues(outcome).Inc()
		}),
	}
	if cfg.RedisURL != "" {
		relay, err := bus.NewRedisRelay(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis relay unavailable: %v (events stay in-process)", err)
		} else {
			defer relay.Close()
			busOpts = append(busOpts, bus.WithRelay(relay))
			log.Println("✅ Redis event relay connected")
		}
	}
	b := bus.New(busOpts...)

	// Stores
	personalStore, err := store.NewPersonalStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("❌ Failed to open personal data store: %v", err)
	}
	defer personalStore.Close()
	log.Printf("✅ Personal data store ready (%s)", cfg.SQLitePath)

	var archive *store.ConversationArchive
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		archive, err = store.NewConversationArchive(cfg.MongoURI, "pulsewatch")
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (conversation archive disabled)", err)
			archive = nil
		} else {
			defer archive.Close(context.Background())
			log.Println("✅ Conversation archive connected")
		}
	}

	// Analysis engines
	sentiment := engines.NewSentimentEngine()
	trends := engines.NewTrendEngine(cfg.ViralThreshold, cfg.PeakHourRatio)
	analysis := engines.NewSocialAnalysisEngine(llm)
	discovery := engines.NewUserDiscoveryEngine(llm, social, web, memory, cfg.HandleSaveThreshold)

	// Agents
	socialAgent := agents.NewSocialAgent(llm, social, web, memory, b,
		sentiment, trends, analysis, discovery,
		agents.SocialAgentConfig{
			EarlyExitMinItems:     cfg.EarlyExitMinItems,
			EarlyExitMinRelevance: cfg.EarlyExitMinRelevance,
			CallTimeout:           cfg.LLMTimeout,
			TaskRetention:         cfg.TaskRetention,
		})
	personalAgent := agents.NewPersonalAgent(personalStore, b, cfg.UserCacheTTL)

	// Cross-agent handoffs are delivered through the bus
	b.RegisterHandoffHandler(models.AgentSocial, socialAgent.HandleHandoff)
	b.RegisterHandoffHandler(models.AgentPersonal, personalAgent.HandleHandoff)

	// Orchestration pipeline
	router := services.NewRoutingEngine()
	if cfg.RoutingFile != "" {
		if err := router.LoadFile(cfg.RoutingFile); err != nil {
			log.Printf("⚠️ Routing override not loaded: %v (using built-in table)", err)
		} else if err := router.Watch(cfg.RoutingFile); err != nil {
			log.Printf("⚠️ Routing hot reload unavailable: %v", err)
		} else {
			log.Printf("✅ Routing table loaded from %s (hot reload enabled)", cfg.RoutingFile)
		}
	}
	defer router.Close()

	conversations := services.NewConversationManager(cfg.ConversationMaxMsgs)
	orchestrator, err := services.NewOrchestrator(
		services.NewIntentClassifier(llm),
		router,
		conversations,
		services.NewResponseOrchestrator(),
		b,
		memory,
		m,
		[]agents.Agent{socialAgent, personalAgent},
		services.OrchestratorConfig{
			EarlyExitMinItems:     cfg.EarlyExitMinItems,
			EarlyExitMinRelevance: cfg.EarlyExitMinRelevance,
		},
	)
	if err != nil {
		log.Fatalf("❌ Failed to build orchestrator: %v", err)
	}
	log.Println("✅ Orchestrator ready (agents: social, personal)")

	// Background housekeeping
	maintenance, err := jobs.NewMaintenanceScheduler(b, conversations, socialAgent, archive, m, cfg.ConversationMaxAge)
	if err != nil {
		log.Fatalf("❌ Failed to create maintenance scheduler: %v", err)
	}
	if err := maintenance.Start(cfg.CleanupInterval); err != nil {
		log.Fatalf("❌ Failed to start maintenance scheduler: %v", err)
	}
	log.Printf("🕐 Background jobs: conversation cleanup (every %s)", cfg.CleanupInterval)

	// HTTP surface
	app := fiber.New(fiber.Config{
		AppName:      "PulseWatch v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	prometheus := fiberprometheus.New("pulsewatch")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	healthHandler := handlers.NewHealthHandler(b, memory, archive)
	chatHandler := handlers.NewChatHandler(orchestrator, conversations, archive)

	app.Get("/health", healthHandler.Handle)
	api := app.Group("/api")
	api.Post("/chat", chatHandler.Handle)
	api.Get("/conversations/:id", chatHandler.History)
	api.Get("/conversations/:id/stats", chatHandler.Stats)
	api.Get("/users/:id/conversations", chatHandler.ArchivedConversations)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := maintenance.Shutdown(); err != nil {
			log.Printf("⚠️ Error stopping maintenance scheduler: %v", err)
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
