package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/metrics"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/payments"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/validation"
)

// HealthCheck is a named dependency probe reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps groups everything the HTTP layer needs.
type Deps struct {
	Logger      *logger.Logger
	JWT         config.JWTConfig
	RateLimit   config.RateLimitConfig
	CORSOrigins []string

	Orders     *orders.Service
	Payments   *payments.Initiator
	Reconciler *payments.Reconciler
	Limiter    RateLimiter

	Metrics        *metrics.HTTPMetrics
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
}

type handler struct {
	log        *logger.Logger
	validate   *validatorv10.Validate
	orders     *orders.Service
	payments   *payments.Initiator
	reconciler *payments.Reconciler
	checks     []HealthCheck
}

// NewRouter wires middleware and routes onto a fresh gin engine.
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	h := &handler{
		log:        log,
		validate:   validation.New(),
		orders:     deps.Orders,
		payments:   deps.Payments,
		reconciler: deps.Reconciler,
		checks:     deps.HealthChecks,
	}

	r := gin.New()
	r.Use(requestID(log), requestLogging(log), recovery(log))
	if len(deps.CORSOrigins) > 0 {
		r.Use(corsMiddleware(deps.CORSOrigins))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorEnvelope{Error: apiError{Code: "NOT_FOUND", Message: "route not found"}})
	})

	r.GET("/health", h.health)
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// the provider calls this without credentials
	r.POST("/payments/webhook", h.paymentWebhook)

	authed := r.Group("/", authenticate(deps.JWT, log))
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PATCH("/orders/:id", h.updateOrder)

		pay := authed.Group("/payments", rateLimit("payments", deps.Limiter, deps.RateLimit, log))
		pay.POST("/preference", h.createPreference)
		pay.POST("/card", h.chargeCard)
		pay.POST("/pix", h.createPix)
		pay.POST("/boleto", h.createBoleto)
		pay.GET("/methods", h.savedMethods)
		pay.GET("/:paymentId", h.pollPayment)

		admin := authed.Group("/admin", requireAdmin(log))
		admin.PATCH("/orders/:id/status", h.advanceShipping)
	}

	return r
}

func (h *handler) health(c *gin.Context) {
	checks := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for _, hc := range h.checks {
		if err := hc.Check(c.Request.Context()); err != nil {
			h.log.Warn(h.log.WithField(c.Request.Context(), "error", err.Error()), hc.Name+" health check failed")
			checks[hc.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "up"
	}
	body := gin.H{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	c.JSON(status, body)
}
