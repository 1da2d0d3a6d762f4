package handler

import (
	"fluxapay-backend/internal/adapter/http/middleware"
	redisStore "fluxapay-backend/internal/adapter/storage/redis"
	"fluxapay-backend/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	SweepSvc       ports.SweepService // nil = manual sweep trigger disabled
	TokenSvc       ports.TokenService
	IdemRepo       ports.IdempotencyRepository
	IdemCache      ports.IdempotencyCache
	IdemLocker     ports.Locker
	IdemOpts       middleware.IdempotencyOptions
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// The gate must run after auth so records are bound to their merchant.
	idem := middleware.Idempotency(deps.IdemRepo, deps.IdemCache, deps.IdemLocker, deps.IdemOpts, deps.Logger)

	// API v1 routes (JWT-authenticated merchant API)
	v1 := r.Group("/api/v1")
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("", rl("payments"), idem, paymentHandler.Create)
		payments.GET("", rl("payments"), paymentHandler.List)
		payments.GET("/export", rl("payments_export"), paymentHandler.ExportCSV)
		payments.GET("/:id", rl("payments"), paymentHandler.Get)
	}

	if deps.SweepSvc != nil {
		sweepHandler := NewSweepHandler(deps.SweepSvc)
		sweep := v1.Group("/sweep", jwtAuth)
		{
			sweep.POST("/run", rl("sweep_trigger"), sweepHandler.Trigger)
		}
	}

	return r
}
