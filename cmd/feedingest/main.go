package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/client"
	"github.com/totegamma/feedingest/internal/config"
	"github.com/totegamma/feedingest/internal/infra/database"
	"github.com/totegamma/feedingest/internal/infra/gateway"
	"github.com/totegamma/feedingest/internal/infra/kv"
	"github.com/totegamma/feedingest/internal/infra/repository"
	"github.com/totegamma/feedingest/internal/infra/trigger"
	"github.com/totegamma/feedingest/internal/present/rest"
	authmw "github.com/totegamma/feedingest/internal/present/rest/middleware"
	"github.com/totegamma/feedingest/internal/service"
	"github.com/totegamma/feedingest/internal/usecase"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(conf.Server.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint, "feedingest", version)
		if err != nil {
			slog.Error("failed to setup trace provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	store, err := openStore(ctx, conf.Store)
	if err != nil {
		slog.Error("failed to open store", slog.String("driver", conf.Store.Driver), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	var rdb *redis.Client
	if conf.Trigger.RedisAddr != "" {
		rdb, err = database.NewRedis(ctx, conf.Trigger.RedisAddr, conf.Trigger.RedisPassword, conf.Trigger.RedisDB)
		if err != nil {
			slog.Error("failed to connect redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var triggers usecase.TriggerService
	var redisTriggers *trigger.Redis
	switch conf.Trigger.Driver {
	case "redis":
		if rdb == nil {
			slog.Error("the redis trigger driver requires trigger.redisAddr")
			os.Exit(1)
		}
		redisTriggers = trigger.NewRedis(rdb)
		triggers = redisTriggers
	case "eventbridge":
		awsConfig, err := database.NewAWSConfig(ctx, conf.Store.AWSRegion)
		if err != nil {
			slog.Error("failed to load aws config", slog.String("error", err.Error()))
			os.Exit(1)
		}
		triggers = trigger.NewEventBridge(database.NewScheduler(awsConfig), conf.Trigger.TargetArn, conf.Trigger.RoleArn)
	}

	var fetchCache gateway.Cache
	if conf.Fetcher.MemcachedAddr != "" {
		fetchCache = gateway.NewMemcacheCache(database.NewMemcached(conf.Fetcher.MemcachedAddr))
	} else {
		fetchCache = gateway.NewLocalCache()
	}
	fetcher := gateway.NewFeedFetcher(fetchCache, conf.Fetcher.CacheTTL, conf.Fetcher.Timeout, conf.Fetcher.UserAgent)
	crawler := gateway.NewCrawlGateway(client.New(conf.Crawler.Endpoint, conf.Fetcher.UserAgent, conf.Crawler.APIKey, conf.Crawler.DedupWindow))

	feedRepository := repository.NewFeedRepository(store)
	postRepository := repository.NewPostRepository(store)

	var entrypoints *usecase.Entrypoints
	var asyncInvoker usecase.AsyncInvoker
	var signalService *service.SignalService
	if rdb != nil {
		signalService = service.NewSignalService(rdb)
		asyncInvoker = signalService
	} else {
		asyncInvoker = service.NewLocalInvoker(service.InvokerFunc(func(ctx context.Context, inv feedingest.Invocation) error {
			return entrypoints.Invoke(ctx, inv)
		}), 5*time.Minute)
	}

	subscriptionUsecase := usecase.NewSubscriptionUsecase(conf.Ingest, feedRepository, postRepository, triggers, asyncInvoker)
	pollerUsecase := usecase.NewPollerUsecase(feedRepository, postRepository, fetcher)
	dispatchUsecase := usecase.NewDispatchUsecase(conf.Ingest, postRepository, crawler)
	entrypoints = usecase.NewEntrypoints(conf.Ingest, subscriptionUsecase, pollerUsecase, dispatchUsecase, triggers)

	if err := entrypoints.EnsureDispatchTrigger(ctx); err != nil {
		slog.Error("failed to ensure dispatch trigger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if redisTriggers != nil {
		go trigger.NewRunner(redisTriggers, entrypoints, conf.Trigger.Tick).Run(ctx)
	}
	if signalService != nil {
		go signalService.Listen(ctx, entrypoints)
	}

	authService := service.NewAuthService(conf.Auth.JwtSecret, conf.Auth.Audience)
	authMiddleware := authmw.NewAuthMiddleware(authService)

	e := echo.New()
	e.HideBanner = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("feedingest", otelecho.WithSkipper(func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/healthz"
		})))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(authMiddleware.IdentifyIdentity)

	handler := rest.NewHandler(subscriptionUsecase, entrypoints)
	handler.RegisterRoutes(e)

	go func() {
		slog.Info("feedingest started",
			slog.String("version", version),
			slog.String("listen", conf.Server.Listen),
			slog.String("store", conf.Store.Driver),
			slog.String("trigger", conf.Trigger.Driver),
		)
		if err := e.Start(conf.Server.Listen); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(ctx context.Context, conf config.Store) (kv.Store, error) {
	switch conf.Driver {
	case "postgres":
		db, err := database.NewPostgres(conf.PostgresDsn)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(db); err != nil {
			return nil, err
		}
		return kv.NewSQLStore(db), nil
	case "dynamodb":
		awsConfig, err := database.NewAWSConfig(ctx, conf.AWSRegion)
		if err != nil {
			return nil, err
		}
		return kv.NewDynamoStore(database.NewDynamo(awsConfig, conf.DynamoEndpoint), conf.DynamoTable), nil
	default:
		db, err := database.NewPebble(conf.Path)
		if err != nil {
			return nil, err
		}
		return kv.NewPebbleStore(db), nil
	}
}

func setupTraceProvider(ctx context.Context, endpoint string, serviceName string, serviceVersion string) (func(), error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		}
	}
	return cleanup, nil
}
