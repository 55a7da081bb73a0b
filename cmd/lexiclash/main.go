// Command lexiclash runs the LexiClash coordination core: the single
// composed service owning the Room Store, Registry, Dispatcher, Round
// Coordinator, Reconnection Controller, Persistence Mirror, and WebSocket
// transport described across spec §4 and §9. Grounded on the teacher's
// cmd/v1/session/main.go: .env loading, Auth0-vs-mock validator selection,
// gin router with CORS/metrics/health routes, and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/auth"
	"github.com/lexiclash/core/internal/boardvalidator"
	"github.com/lexiclash/core/internal/collaborators"
	"github.com/lexiclash/core/internal/config"
	"github.com/lexiclash/core/internal/dictionary"
	"github.com/lexiclash/core/internal/dispatcher"
	"github.com/lexiclash/core/internal/health"
	"github.com/lexiclash/core/internal/logging"
	"github.com/lexiclash/core/internal/middleware"
	"github.com/lexiclash/core/internal/persist"
	"github.com/lexiclash/core/internal/ratelimit"
	"github.com/lexiclash/core/internal/reconnect"
	"github.com/lexiclash/core/internal/registry"
	"github.com/lexiclash/core/internal/room"
	"github.com/lexiclash/core/internal/roundcoordinator"
	"github.com/lexiclash/core/internal/tracing"
	"github.com/lexiclash/core/internal/transport"
)

func loadDotEnv() {
	for _, path := range []string{".env", "../../.env", "../../../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func main() {
	loadDotEnv()

	cfg, err := config.ValidateEnv()
	if err != nil {
		// logging isn't initialized yet, so the error goes straight to stderr.
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.GetLogger()
	defer log.Sync()

	ctx, cancelTracing := context.WithCancel(context.Background())
	defer cancelTracing()
	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "lexiclash-core", collectorAddr)
		if err != nil {
			log.Warn("failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tp.Shutdown(shutdownCtx)
			}()
		}
	}

	validator := buildValidator(ctx, cfg, log)

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	mirrorCfg := persist.DefaultConfig()
	mirrorCfg.Namespace = cfg.RedisPrefix
	mirrorCfg.GameTTL = time.Duration(cfg.RedisGameTTL) * time.Second
	mirrorCfg.TournamentTTL = time.Duration(cfg.RedisTournamentTTL) * time.Second
	mirrorCfg.LeaderboardTTL = time.Duration(cfg.RedisLeaderboardTTL) * time.Second

	mirrorAddr := ""
	if cfg.RedisEnabled {
		mirrorAddr = cfg.RedisAddr
	}
	mirror, err := persist.New(mirrorAddr, cfg.RedisPassword, mirrorCfg, log)
	if err != nil {
		log.Fatal("failed to initialize persistence mirror", zap.Error(err))
	}
	defer mirror.Close()

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to initialize rate limiter", zap.Error(err))
	}

	rooms := room.NewStore(log, ms(cfg.RoomIdleThresholdMs), ms(cfg.RoomStaleThresholdMs))
	rooms.StartSweeper(ms(cfg.RoomSweepIntervalMs), func(r *room.Room) {
		r.Mu.Lock()
		for _, stop := range r.Timers.PlayerReconnect {
			if stop != nil {
				stop()
			}
		}
		if r.Timers.HostReconnect != nil {
			r.Timers.HostReconnect()
		}
		if r.Timers.RoundTick != nil {
			r.Timers.RoundTick()
		}
		code := r.Code
		r.Mu.Unlock()
		go mirror.DeleteRoom(context.Background(), string(code))
	})
	defer rooms.StopSweeper()

	reg := registry.New()
	oracle := dictionary.NewInMemory()
	validatorPool := boardvalidator.NewPool(cfg.BoardValidatorWorkers, cfg.BoardValidatorQueueDepth)

	collabTimeout := ms(cfg.CollaboratorTimeoutMs)
	aiOracle := collaborators.NewAIOracleClient(cfg.AIOracleURL, collabTimeout)
	communityVote := collaborators.NewCommunityVoteHook(cfg.CommunityVoteURL, collabTimeout)
	analyticsSink := collaborators.NewAnalyticsSink(cfg.AnalyticsSinkURL, collabTimeout, log)
	tournamentNotifier := collaborators.NewTournamentNotifier(cfg.TournamentNotifierURL, collabTimeout, log)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := transport.NewHub(validator, reg, rooms, rateLimiter, allowedOrigins, log)

	coordinator := roundcoordinator.New(roundcoordinator.Config{
		StartBarrierDeadline: ms(cfg.StartBarrierDeadlineMs),
		ValidationWindow:     ms(cfg.ValidationWindowMs),
		AICallBudget:         ms(cfg.AICallBudgetMs),
	}, hub, mirror, oracle, aiOracle, communityVote, analyticsSink, validatorPool, log)

	reconnectCtl := reconnect.New(reconnect.Config{
		HostGracePeriod:   ms(cfg.HostGracePeriodMs),
		PlayerGracePeriod: ms(cfg.PlayerGracePeriodMs),
		TakeoverDelay:     500 * time.Millisecond,
	}, hub, rooms, tournamentNotifier, log)
	hub.SetReconnectController(reconnectCtl)

	presence := reconnect.NewPresenceSampler(rooms, hub, ms(cfg.PresenceSampleIntervalMs), cfg.PresenceMissedThreshold)
	presence.Start()
	defer presence.Stop()

	disp := dispatcher.New(dispatcher.Config{
		MinWordLength:        3,
		DefaultRoundDuration: 120,
		ValidationWindow:     ms(cfg.ValidationWindowMs),
		RateWeightSubmitWord: cfg.RateWeightSubmitWord,
		RateWeightChat:       cfg.RateWeightChat,
		LeaderboardThrottle:  ms(cfg.LeaderboardThrottleMs),
	}, rooms, reg, hub, mirror, coordinator, reconnectCtl, oracle, validatorPool, aiOracle, communityVote, rateLimiter, log)
	hub.SetDispatcher(disp)

	router := buildRouter(cfg, allowedOrigins, hub, mirror, log)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info("lexiclash core listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn("hub shutdown did not complete cleanly", zap.Error(err))
	}
	validatorPool.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("lexiclash core exited")
}

func buildValidator(ctx context.Context, cfg *config.Config, log *zap.Logger) transport.TokenValidator {
	if cfg.SkipAuth {
		log.Warn("authentication disabled (SKIP_AUTH=true) - do not use in production")
		return &auth.MockValidator{}
	}
	v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		log.Fatal("failed to create auth validator", zap.Error(err))
	}
	return v
}

func buildRouter(cfg *config.Config, allowedOrigins []string, hub *transport.Hub, mirror *persist.Mirror, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("lexiclash-core"))
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	if cfg.CORSOrigin != "" {
		corsCfg.AllowOrigins = strings.Split(cfg.CORSOrigin, ",")
	}
	router.Use(cors.New(corsCfg))

	healthHandler := health.NewHandler(mirror)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", hub.ServeWs)

	return router
}
