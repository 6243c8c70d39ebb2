package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/abkawan/bank-management/internal/api"
	"github.com/abkawan/bank-management/internal/config"
	"github.com/abkawan/bank-management/internal/db"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	baseURL        = "http://localhost:8080"
	numClients     = 50         // one account per client
	numTransfers   = 5000       // Total number of transfers
	maxConcurrency = 100        // Maximum number of concurrent requests
	initialBalance = 1000       // deposited into each account up front
	maxCents       = 30000      // largest transfer, in cents
	successColor   = "\033[32m" // Green
	errorColor     = "\033[31m" // Red
	infoColor      = "\033[34m" // Blue
	resetColor     = "\033[0m"  // Reset color
)

type participant struct {
	token  string
	number string
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	secret := []byte(cfg.JWTSecret)

	postgres, err := db.NewPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer postgres.Close()

	fmt.Printf("%sstarting a load test with %d clients and %d transfers%s\n",
		infoColor, numClients, numTransfers, resetColor)

	ctx := context.Background()
	run := uuid.New().String()[:8]

	worker := models.User{
		ID: uuid.New().String(), Name: "Load Worker", Username: "load-worker-" + run,
		DPI: dpi(), Role: models.Worker, Active: true,
	}
	if err := postgres.CreateUser(ctx, &worker); err != nil {
		log.Fatalf("failed to create worker: %v", err)
	}
	workerToken, err := api.IssueToken(secret, models.Actor{ID: worker.ID, Role: worker.Role}, time.Hour)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	clients := setupClients(ctx, postgres, secret, workerToken, run)
	fmt.Printf("%sCreated %d funded accounts%s\n", successColor, len(clients), resetColor)
	if len(clients) < 2 {
		log.Fatalf("need at least two accounts to transfer between")
	}

	before := totalBalance(workerToken, clients)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	startTime := time.Now()
	results := map[string]int{}
	var resultsMutex sync.Mutex

	for i := 0; i < numTransfers; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire semaphore

		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			from := clients[rand.Intn(len(clients))]
			to := clients[rand.Intn(len(clients))]
			amount := decimal.New(1+rand.Int63n(maxCents), -2)

			status, body, err := post(from.token, "/movements/transfers", models.TransferRequest{
				Origin:      from.number,
				Destination: to.number,
				Amount:      amount,
			})

			outcome := "Created"
			if err != nil {
				outcome = "RequestFailed"
			} else if status != http.StatusCreated {
				var e map[string]string
				json.Unmarshal(body, &e)
				outcome = e["error"]
			}

			resultsMutex.Lock()
			results[outcome]++
			resultsMutex.Unlock()

			if outcome == "StorageFailure" || outcome == "ConsistencyAlarm" || outcome == "RequestFailed" {
				fmt.Printf("%sTransfer %d failed: %s %v%s\n", errorColor, n, outcome, err, resetColor)
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n%s=== load Test Results ===%s\n", infoColor, resetColor)
	fmt.Printf("Total number of transfers: %d\n", numTransfers)
	for outcome, count := range results {
		fmt.Printf("  %-20s %d (%.1f%%)\n", outcome, count, float64(count)/float64(numTransfers)*100)
	}
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Throughput: %.2f transfers/second\n", float64(numTransfers)/duration.Seconds())

	after := totalBalance(workerToken, clients)
	if after.Equal(before) {
		fmt.Printf("%sTotal balance conserved: %s%s\n", successColor, after, resetColor)
	} else {
		fmt.Printf("%sTotal balance changed: %s -> %s%s\n", errorColor, before, after, resetColor)
	}
}

// setupClients creates clients, opens one account each and funds it
func setupClients(ctx context.Context, postgres *db.Postgres, secret []byte, workerToken, run string) []participant {
	clients := make([]participant, 0, numClients)

	for i := 0; i < numClients; i++ {
		user := models.User{
			ID: uuid.New().String(), Name: fmt.Sprintf("Load Client %d", i),
			Username: fmt.Sprintf("load-client-%s-%d", run, i), DPI: dpi(), Role: models.Client, Active: true,
		}
		if err := postgres.CreateUser(ctx, &user); err != nil {
			fmt.Printf("%sFailed to create client: %v%s\n", errorColor, err, resetColor)
			continue
		}

		status, body, err := post(workerToken, "/accounts", models.OpenAccountRequest{Owner: user.Username})
		if err != nil || status != http.StatusCreated {
			fmt.Printf("%sFailed to open account, status: %d, body: %s, err: %v%s\n",
				errorColor, status, string(body), err, resetColor)
			continue
		}
		var account models.AccountSummary
		if err := json.Unmarshal(body, &account); err != nil {
			fmt.Printf("%sFailed to decode response: %v%s\n", errorColor, err, resetColor)
			continue
		}

		status, body, err = post(workerToken, "/movements/deposits", models.DepositRequest{
			Destination: account.Number,
			Amount:      decimal.NewFromInt(initialBalance),
		})
		if err != nil || status != http.StatusCreated {
			fmt.Printf("%sFailed to fund account %s, status: %d, body: %s%s\n",
				errorColor, account.Number, status, string(body), resetColor)
			continue
		}

		token, err := api.IssueToken(secret, models.Actor{ID: user.ID, Role: models.Client}, time.Hour)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		clients = append(clients, participant{token: token, number: account.Number})
	}

	return clients
}

func totalBalance(token string, clients []participant) decimal.Decimal {
	total := decimal.Zero
	for _, c := range clients {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/accounts/"+c.number, nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("%sError retrieving account %s: %v%s\n", errorColor, c.number, err, resetColor)
			continue
		}
		var account models.AccountSummary
		err = json.NewDecoder(resp.Body).Decode(&account)
		resp.Body.Close()
		if err != nil || account.Balance == nil {
			fmt.Printf("%sError decoding account %s: %v%s\n", errorColor, c.number, err, resetColor)
			continue
		}
		total = total.Add(*account.Balance)
	}
	return total
}

func post(token, path string, payload interface{}) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// dpi draws a random 13-digit identity number
func dpi() string {
	return fmt.Sprintf("%013d", rand.Int63n(9_000_000_000_000)+1_000_000_000_000)
}
