package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roosvelt/autobusiness/internal/backend"
	cartcache "github.com/roosvelt/autobusiness/internal/cart/cache"
	cartconsumer "github.com/roosvelt/autobusiness/internal/cart/consumer"
	cartrepo "github.com/roosvelt/autobusiness/internal/cart/repository"
	cartservice "github.com/roosvelt/autobusiness/internal/cart/service"
	"github.com/roosvelt/autobusiness/internal/catalog"
	catalogcache "github.com/roosvelt/autobusiness/internal/catalog/cache"
	catalogclient "github.com/roosvelt/autobusiness/internal/catalog/client"
	catalogrepo "github.com/roosvelt/autobusiness/internal/catalog/repository"
	"github.com/roosvelt/autobusiness/internal/checkout/confirmation"
	"github.com/roosvelt/autobusiness/internal/checkout/orderclient"
	"github.com/roosvelt/autobusiness/internal/checkout/publisher"
	checkoutrepo "github.com/roosvelt/autobusiness/internal/checkout/repository"
	checkoutservice "github.com/roosvelt/autobusiness/internal/checkout/service"
	"github.com/roosvelt/autobusiness/internal/checkout/workflow"
	h "github.com/roosvelt/autobusiness/internal/http"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"github.com/roosvelt/autobusiness/pkg/money"
)

type Config struct {
	HTTPPort        string
	APIBaseURL      string
	CatalogSource   string
	CatalogDBPath   string
	CatalogMigrate  string
	Mongo           cartrepo.ConnConfig
	CartCache       cartcache.Config
	RedisAddr       string
	RedisPassword   string
	Postgres        checkoutrepo.Credentials
	KafkaBrokers    []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	SubmitTimeout   time.Duration
	Order           orderclient.Config
	SupportPhone    string
	PriceSeparator  string
	LogLevel        string
	SessionTTL      time.Duration
}

func loadConfig() *Config {
	order := orderclient.DefaultConfig()
	order.AttemptTimeout = getEnvDuration("ORDER_ATTEMPT_TIMEOUT", order.AttemptTimeout)
	order.MaxRetries = uint64(max(0, getEnvInt("ORDER_MAX_RETRIES", int(order.MaxRetries))))

	cartCache := cartcache.DefaultConfig()
	cartCache.Prefix = getEnv("REDIS_KEY_PREFIX", cartCache.Prefix)
	cartCache.TTL = getEnvDuration("CART_CACHE_TTL", cartCache.TTL)
	cartCache.EmptyTTL = min(cartCache.EmptyTTL, cartCache.TTL)

	return &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8081/api"),
		CatalogSource:  getEnv("CATALOG_SOURCE", "http"),
		CatalogDBPath:  getEnv("CATALOG_DB_PATH", "catalog.db"),
		CatalogMigrate: getEnv("CATALOG_MIGRATIONS", "internal/catalog/repository/migrations"),
		Mongo: cartrepo.ConnConfig{
			URI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    getEnv("MONGO_DB", "storefront"),
			AppName:     getEnv("MONGO_APP_NAME", "storefront"),
			MaxPoolSize: uint64(max(1, getEnvInt("MONGO_MAX_POOL", 50))),
			MinPoolSize: uint64(max(0, getEnvInt("MONGO_MIN_POOL", 5))),
		},
		CartCache:      cartCache,
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		Postgres: checkoutrepo.Credentials{
			Host:              getEnv("POSTGRES_HOST", ""),
			Port:              getEnvInt("POSTGRES_PORT", 5432),
			User:              getEnv("POSTGRES_USER", "storefront"),
			Password:          getEnv("POSTGRES_PASSWORD", "storefront"),
			DBName:            getEnv("POSTGRES_DB", "storefront"),
			MigrationsDirPath: getEnv("CHECKOUT_MIGRATIONS", "internal/checkout/repository/migrations"),
		},
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: 10 * time.Second,
		SubmitTimeout:   getEnvDuration("SUBMIT_TIMEOUT", workflow.DefaultSubmitTimeout),
		Order:           order,
		SupportPhone:    getEnv("SUPPORT_PHONE", confirmation.DefaultSupportPhone),
		PriceSeparator:  getEnv("PRICE_GROUP_SEPARATOR", money.Default.Separator),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SessionTTL:      getEnvDuration("SESSION_TTL", checkoutservice.DefaultSessionTTL),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := loadConfig()

	log, err := logger.New("storefront", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, "storefront")
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)

	api := backend.New(cfg.APIBaseURL, nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	// Catalog: backend API or the local SQLite copy, behind the listing cache.
	var source catalog.Catalog
	switch cfg.CatalogSource {
	case "sqlite":
		repo, err := catalogrepo.NewRepository(cfg.CatalogDBPath)
		if err != nil {
			log.Fatal("failed to open catalog database", zap.Error(err))
		}
		defer repo.Close()
		if err := repo.RunMigrations(cfg.CatalogMigrate); err != nil {
			log.Fatal("failed to migrate catalog database", zap.Error(err))
		}
		source = repo
	default:
		source = catalogclient.New(api)
	}
	products := catalog.NewCached(source, catalogcache.NewRedisCache(redisClient), log)
	log.Info("catalog ready", zap.String("source", cfg.CatalogSource))

	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer mongoDB.Client().Disconnect(context.Background())
	cartRepo := cartrepo.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Warn("failed to create cart indexes", zap.Error(err))
	}
	carts := cartservice.NewCartService(cartRepo, cartcache.NewRedisCache(redisClient, cfg.CartCache), products, log)

	orders := orderclient.New(api, cfg.Order, log)

	var ledger checkoutrepo.RepoInterface
	if cfg.Postgres.Host != "" {
		repo, err := checkoutrepo.NewRepository(&cfg.Postgres)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer repo.Close()
		if err := repo.RunMigrations(&cfg.Postgres); err != nil {
			log.Fatal("failed to migrate checkout ledger", zap.Error(err))
		}
		ledger = repo
		log.Info("checkout ledger ready", zap.String("host", cfg.Postgres.Host))
	} else {
		log.Warn("POSTGRES_HOST not set, checkout ledger disabled")
	}

	if ledger != nil {
		// without brokers the poller only resyncs fallback drafts
		var writer publisher.MessageWriter
		if len(cfg.KafkaBrokers) > 0 {
			kw := publisher.NewKafkaWriter(cfg.KafkaBrokers...)
			defer kw.Close()
			writer = kw
		}
		poller := publisher.NewOutboxPoller(ledger, writer, orders, checkoutMetrics, log)
		go poller.Run(ctx)
		log.Info("outbox poller started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	if len(cfg.KafkaBrokers) > 0 {
		cleanup := cartconsumer.NewConsumer(cartconsumer.NewKafkaReader(cfg.KafkaBrokers...), carts, log)
		defer cleanup.Close()
		go cleanup.Run(ctx)
	}

	renderer := confirmation.Renderer{Money: money.Formatter{Separator: cfg.PriceSeparator}}
	checkout := checkoutservice.NewCheckoutService(
		func(sessionID string) workflow.Cart { return carts.Bind(sessionID) },
		orders,
		orders,
		ledger,
		checkoutMetrics,
		log,
		checkoutservice.Config{
			SessionTTL: cfg.SessionTTL,
			WorkflowOptions: []workflow.Option{
				workflow.WithSubmitTimeout(cfg.SubmitTimeout),
				workflow.WithSupportPhone(cfg.SupportPhone),
				workflow.WithRenderer(renderer),
			},
		},
	)
	defer checkout.Close()

	router := h.NewRouter(h.RouterConfig{
		Products:       h.NewProductHandler(products, cfg.RequestTimeout, log),
		Cart:           h.NewCartHandler(carts, cfg.RequestTimeout, log),
		Checkout:       h.NewCheckoutHandler(checkout, cfg.RequestTimeout, log),
		Metrics:        serverMetrics,
		MetricsHandler: metrics.Handler(reg),
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + cfg.SubmitTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
