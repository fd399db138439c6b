package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ArtemMasharipov/go-bookstore/internal/cache"
	"github.com/ArtemMasharipov/go-bookstore/internal/cart"
	"github.com/ArtemMasharipov/go-bookstore/internal/catalog"
	"github.com/ArtemMasharipov/go-bookstore/internal/events"
	"github.com/ArtemMasharipov/go-bookstore/internal/httpapi"
	"github.com/ArtemMasharipov/go-bookstore/internal/mail"
	"github.com/ArtemMasharipov/go-bookstore/internal/order"
	"github.com/ArtemMasharipov/go-bookstore/internal/pricing"
	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

type Config struct {
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	PostgresCreds   repository.Credentials
	KafkaBrokers    []string
	JWTSecret       string
	SendgridAPIKey  string
	MailFrom        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "bookstore"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		PostgresCreds: repository.Credentials{
			Host:              getEnv("POSTGRES_HOST", "localhost"),
			Port:              getEnvInt("POSTGRES_PORT", 5432),
			User:              getEnv("POSTGRES_USER", "postgres"),
			Password:          getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:            getEnv("POSTGRES_DB", "bookstore_orders"),
			MigrationsDirPath: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		SendgridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		MailFrom:        getEnv("MAIL_FROM", "orders@bookstore.local"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
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

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := loadConfig()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx := context.Background()

	// MongoDB holds the book catalog and the carts.
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Client().Disconnect(ctx)
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	cartRepo := repository.NewMongoCartRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Fatalf("Failed to create cart indexes: %v", err)
	}

	bookLookup := catalog.NewBreakerLookup(catalog.NewMongoCatalog(mongoDB))

	// Redis caches carts.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")
	cartCache := cache.NewRedisCache(redisClient)

	// Postgres holds orders and the event outbox.
	orderRepo, err := repository.NewOrderRepository(&cfg.PostgresCreds)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer orderRepo.Close()
	if err := orderRepo.RunMigrations(&cfg.PostgresCreds); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("Connected to Postgres, migrations applied")

	cartService := cart.NewService(cartRepo, cartCache, bookLookup)
	priceSync := pricing.NewSynchronizer(cartService, bookLookup)
	orderFactory := order.NewFactory(cartService, orderRepo, bookLookup)
	statusService := order.NewStatusService(orderRepo)

	var mailer mail.Sender
	if cfg.SendgridAPIKey != "" {
		mailer = mail.NewSendGridSender(cfg.SendgridAPIKey, cfg.MailFrom, "Bookstore")
	} else {
		log.Printf("SENDGRID_API_KEY not set, order confirmation mail disabled")
	}

	// Outbox publisher ships order events to Kafka.
	publisher := events.NewPublisher(orderRepo, cfg.KafkaBrokers...)
	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	go publisher.Run(pubCtx)
	defer publisher.Close()

	cartHandler := httpapi.NewCartHandler(cartService, priceSync, cfg.RequestTimeout)
	orderHandler := httpapi.NewOrderHandler(orderFactory, statusService, mailer, cfg.RequestTimeout)
	router := httpapi.NewRouter(cartHandler, orderHandler, []byte(cfg.JWTSecret), cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Bookstore API starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server stopped")
}
