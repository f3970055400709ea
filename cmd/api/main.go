package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/coupons"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/handlers"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/metrics"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/payments"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/redis"
)

const (
	serviceName    = "sneaker-orders-api"
	idempotencyTTL = 48 * time.Hour
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)

	clients, err := aws.NewClients(ctx, cfg.AWS)
	if err != nil {
		logg.Error(ctx, "failed to init aws clients", err)
		os.Exit(1)
	}

	var limiter handlers.RateLimiter
	var checks []handlers.HealthCheck
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		// rate limiting is skipped rather than taking the API down
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis unavailable; payment rate limiting disabled")
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		limiter = redisClient
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: redisClient.Ping})
	}

	gateway, err := newGateway(cfg.Gateway)
	if err != nil {
		logg.Error(ctx, "failed to init payment gateway", err)
		os.Exit(1)
	}
	if cfg.Gateway.UseFake {
		logg.Warn(ctx, "using in-process fake payment gateway")
	}

	r := setupRouter(cfg, clients, gateway, limiter, checks, logg)

	if cfg.App.RunLocal {
		runLocal(ctx, r, cfg.App.Port, logg)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(adapter.ProxyWithContext)
}

func newGateway(cfg config.GatewayConfig) (payments.Gateway, error) {
	if cfg.UseFake {
		return payments.NewFakeGateway(), nil
	}
	opts := []payments.Option{payments.WithNotificationURL(cfg.NotifyURL)}
	if cfg.BaseURL != "" {
		opts = append(opts, payments.WithBaseURL(cfg.BaseURL))
	}
	return payments.NewHTTPGateway(cfg.AccessToken, cfg.Timeout, opts...)
}

func setupRouter(cfg *config.Config, clients *aws.Clients, gateway payments.Gateway, limiter handlers.RateLimiter, checks []handlers.HealthCheck, logg *logger.Logger) *gin.Engine {
	if cfg.App.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	db := clients.DynamoDB
	idem := idempotency.NewStore(db, cfg.Tables.Idempotency, idempotencyTTL)
	orderService := orders.NewService(orders.ServiceDeps{
		Store:       orders.NewStore(db, cfg.Tables.Orders),
		Numbers:     orders.NewNumberGenerator(db, cfg.Tables.Counters, cfg.Orders.NumberPrefix),
		Coupons:     coupons.NewStore(db, cfg.Tables.Coupons),
		Idempotency: idem,
		Events:      orders.NewSQSEvents(aws.NewPublisher(clients.SQS, cfg.Events.QueueURL)),
		Logger:      logg,
	}, orders.ServiceConfig{
		PaymentWindow: cfg.Orders.PaymentWindow,
		ShippingRates: map[orders.ShippingMethod]money.Cents{
			orders.ShippingNormal:  money.Cents(cfg.Orders.NormalShippingCents),
			orders.ShippingExpress: money.Cents(cfg.Orders.ExpressShippingCents),
		},
	})

	reconciler := payments.NewReconciler(orderService, gateway, cfg.Gateway.WebhookSecret, logg)
	initiator := payments.NewInitiator(payments.InitiatorDeps{
		Orders:      orderService,
		Gateway:     gateway,
		Reconciler:  reconciler,
		Methods:     payments.NewMethodStore(db, cfg.Tables.PaymentMethods),
		Idempotency: idem,
		Logger:      logg,
	}, payments.InitiatorConfig{AllowTestMode: cfg.Gateway.AllowTestMode})

	return handlers.NewRouter(handlers.Deps{
		Logger:         logg,
		JWT:            cfg.JWT,
		RateLimit:      cfg.RateLimit,
		CORSOrigins:    cfg.App.CORSOrigins,
		Orders:         orderService,
		Payments:       initiator,
		Reconciler:     reconciler,
		Limiter:        limiter,
		Metrics:        metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		MetricsHandler: promhttp.Handler(),
		HealthChecks:   checks,
	})
}

func runLocal(ctx context.Context, r *gin.Engine, port string, logg *logger.Logger) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logg.Info(logg.WithField(ctx, "addr", srv.Addr), "running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "local server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	logg.Info(shutdownCtx, "server stopped")
}
