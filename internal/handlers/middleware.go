package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/auth"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
)

const (
	requestIDHeader = "X-Request-Id"

	ctxUserID   = "user_id"
	ctxUserType = "user_type"
)

// RateLimiter counts hits in a fixed window.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", idempotency.HeaderKey, requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, replayedHeader},
		AllowCredentials: true,
		MaxAge:           5 * time.Minute,
	})
}

func requestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func requestLogging(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := log.WithFields(c.Request.Context(), map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		// handlers may have added fields (user id) to the request context
		ctx = log.WithFields(c.Request.Context(), map[string]any{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		log.Info(ctx, "request.complete")
	}
}

func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				writeError(c, log, apperrors.Wrap(apperrors.CodeInternal, err, "panic"))
			}
		}()
		c.Next()
	}
}

// authenticate validates the bearer token and stores the caller on the context.
func authenticate(cfg config.JWTConfig, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token := raw
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			token = strings.TrimSpace(raw[7:])
		}
		if token == "" {
			writeError(c, log, apperrors.New(apperrors.CodeUnauthorized, "missing credentials"))
			return
		}

		claims, err := auth.ParseToken(cfg, token)
		if err != nil {
			writeError(c, log, apperrors.Wrap(apperrors.CodeUnauthorized, err, "invalid token"))
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserType, claims.UserType)
		ctx := log.WithUserID(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(log.WithField(ctx, "user_type", string(claims.UserType)))
		c.Next()
	}
}

func requireAdmin(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t, _ := c.Get(ctxUserType); t != auth.UserTypeAdmin {
			writeError(c, log, apperrors.New(apperrors.CodeForbidden, "admin access required"))
			return
		}
		c.Next()
	}
}

// rateLimit throttles each user on a shared scope. A limiter outage lets the
// request through.
func rateLimit(scope string, limiter RateLimiter, cfg config.RateLimitConfig, log *logger.Logger) gin.HandlerFunc {
	if limiter == nil || cfg.PaymentsLimit <= 0 || cfg.PaymentsWindow <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		allowed, _, err := limiter.FixedWindowAllow(ctx, scope+":"+userID(c), int64(cfg.PaymentsLimit), cfg.PaymentsWindow)
		if err != nil {
			log.Warn(log.WithField(ctx, "error", err.Error()), "rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(cfg.PaymentsWindow.Seconds())))
			writeError(c, log, apperrors.New(apperrors.CodeRateLimit, "too many payment requests"))
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
