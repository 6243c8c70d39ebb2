package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abkawan/bank-management/internal/api"
	"github.com/abkawan/bank-management/internal/config"
	"github.com/abkawan/bank-management/internal/db"
	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/queue"
	"github.com/abkawan/bank-management/internal/service"
	"github.com/gorilla/mux"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET must be set")
	}

	// Connecting to Postgres
	log.Println("Connecting to PostgreSQL...")
	postgres, err := db.NewPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer postgres.Close()

	// Create schema
	log.Println("Creating the schema...")
	if err := postgres.InitSchema(ctx); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}

	// Connect to MongoDB
	log.Println("Connecting to MongoDB...")
	mongodb, err := db.NewMongoDB(cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongodb.Close(ctx)

	// Connect to RabbitMQ
	log.Println("Connecting to RabbitMQ...")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rabbitmq.Close()

	// Create the ledger
	limits := ledger.NewLimitPolicy(mongodb, ledger.Limits{
		PerTransaction: cfg.PerTransactionLimit,
		Daily:          cfg.DailyLimit,
		Location:       cfg.Location,
	}, nil)
	engine := ledger.NewEngine(postgres, mongodb, limits, rabbitmq, ledger.Options{
		Commit:       ledger.RetryPolicy{Attempts: cfg.CommitAttempts},
		Compensation: ledger.RetryPolicy{Attempts: cfg.CompensationAttempts},
	})
	query := ledger.NewQuery(postgres, postgres, mongodb, cfg.Location)
	accountService := service.NewAccountService(postgres, postgres, cfg.NumberAttempts)

	// Create router and set up routes
	router := mux.NewRouter()
	handler := api.NewHandler(engine, query, accountService, map[string]api.Pinger{
		"postgres": postgres,
		"mongodb":  mongodb,
	})
	api.SetupRoutes(router, handler, []byte(cfg.JWTSecret))

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s...", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server shut down successfully")
}
