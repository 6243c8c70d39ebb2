package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/bank-management/internal/config"
	"github.com/abkawan/bank-management/internal/db"
	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/queue"
	"github.com/abkawan/bank-management/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	//connecting to PostgreSQL
	log.Println("Connecting to PostgreSQL...")
	postgres, err := db.NewPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer postgres.Close()

	// Connect to MongoDB
	log.Println("connecting to MongoDB...")
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

	// repairs reuse the engine's reversal path; no new movements are made here
	engine := ledger.NewEngine(postgres, mongodb, nil, rabbitmq, ledger.Options{
		Compensation: ledger.RetryPolicy{Attempts: cfg.CompensationAttempts},
	})
	processor := service.NewProcessorService(rabbitmq, engine)

	log.Println("Starting movement processor...")
	if err := processor.StartProcessor(ctx); err != nil {
		log.Fatalf("Failed to start movement processor: %v", err)
	}

	log.Println("Movement processor started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down processor...")
	cancel() // Cancel context to stop processor
	log.Println("Processor shut down successfully")
}
