package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/abkawan/bank-management/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const dateLayout = "2006-01-02"

// Pinger is a backing store the health check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is for handling api requests
type Handler struct {
	engine         *ledger.Engine
	query          *ledger.Query
	accountService *service.AccountService
	validate       *validator.Validate
	stores         map[string]Pinger
}

func NewHandler(engine *ledger.Engine, query *ledger.Query, accountService *service.AccountService, stores map[string]Pinger) *Handler {
	return &Handler{
		engine:         engine,
		query:          query,
		accountService: accountService,
		validate:       validator.New(),
		stores:         stores,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// for error response
func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{"error": kind, "message": message})
}

func statusFor(kind string) int {
	switch kind {
	case "InvalidAmount", "InvalidRequest", "SameAccount":
		return http.StatusBadRequest
	case "AccountNotFound", "UserNotFound":
		return http.StatusNotFound
	case "Unauthorized":
		return http.StatusForbidden
	case "InsufficientFunds", "LimitExceeded":
		return http.StatusUnprocessableEntity
	case "StorageFailure":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondLedgerError maps an engine failure to its kind and status.
func respondLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	body := map[string]string{"error": kind, "message": err.Error()}
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		body["message"] = "the ledger could not complete the operation"
	}

	var limitErr *ledger.LimitError
	if errors.As(err, &limitErr) {
		body["scope"] = string(limitErr.Scope)
		body["limit"] = limitErr.Limit.String()
	}
	respondJSON(w, status, body)
}

// decodes and validates a request body into dst
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "InvalidRequest", "invalid request payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return false
	}
	return true
}

func actor(r *http.Request) models.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

// handles deposits by administrators and workers
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	movement, err := h.engine.Deposit(r.Context(), actor(r), req.Destination, req.Amount, req.Description)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.DepositResponse{Movement: movement})
}

// handles transfers between accounts by their owner
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Transfer(r.Context(), actor(r), req.Origin, req.Destination, req.Amount, req.Description)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.TransferResponse{
		Movement:           result.Movement,
		OriginAccount:      result.Origin,
		DestinationAccount: result.Destination,
	})
}

// parses limit and offset, falling back to defaults on bad input
func pageFrom(r *http.Request) ledger.Page {
	var page ledger.Page

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err == nil && parsedLimit > 0 {
			page.Limit = parsedLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err == nil && parsedOffset >= 0 {
			page.Offset = parsedOffset
		}
	}
	return page
}

// GetMovements handles movement history, filtered and scoped to the actor
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	mq := ledger.MovementQuery{
		MovementID:        params.Get("mid"),
		AccountID:         params.Get("aid"),
		Worker:            params.Get("worker"),
		Client:            params.Get("client"),
		Type:              models.MovementType(params.Get("type")),
		OriginNumber:      params.Get("origin"),
		DestinationNumber: params.Get("destination"),
	}
	if mq.Type != "" && !mq.Type.Valid() {
		respondError(w, http.StatusBadRequest, "InvalidRequest", "unknown movement type")
		return
	}
	if date := params.Get("date"); date != "" {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "InvalidRequest", "date must be YYYY-MM-DD")
			return
		}
		mq.Date = day
	}

	total, movements, err := h.query.FindMovements(r.Context(), actor(r), mq, pageFrom(r))
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.MovementsResponse{Total: total, Movements: movements})
}

// GetRanking lists active accounts by movement count
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	direction := ledger.Direction(r.URL.Query().Get("order"))
	if direction == "" {
		direction = ledger.More
	}
	if direction != ledger.More && direction != ledger.Less {
		respondError(w, http.StatusBadRequest, "InvalidRequest", "order must be MORE or LESS")
		return
	}

	accounts, err := h.query.RankAccountsByActivity(r.Context(), direction, pageFrom(r))
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.RankingResponse{Accounts: accounts})
}

// account creation
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req models.OpenAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accountService.OpenAccount(r.Context(), req)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, account)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.CloseAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}

// handles account retrieval by number
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), actor(r), mux.Vars(r)["number"])
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountService.ListAccounts(r.Context(), actor(r))
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, store := range h.stores {
		if err := store.Ping(ctx); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	respondJSON(w, code, status)
}

// sets up the API routes
func SetupRoutes(r *mux.Router, h *Handler, secret []byte) {
	staff := RequireRoles(models.Administrator, models.Worker)
	client := RequireRoles(models.Client)
	anyone := RequireRoles(models.Administrator, models.Worker, models.Client)

	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(Authenticate(secret))

	// Movement routes
	authed.HandleFunc("/movements/deposits", staff(h.Deposit)).Methods("POST")
	authed.HandleFunc("/movements/transfers", client(h.Transfer)).Methods("POST")
	authed.HandleFunc("/movements", anyone(h.GetMovements)).Methods("GET")

	// Account routes
	authed.HandleFunc("/accounts/ranking", staff(h.GetRanking)).Methods("GET")
	authed.HandleFunc("/accounts", client(h.ListAccounts)).Methods("GET")
	authed.HandleFunc("/accounts", staff(h.OpenAccount)).Methods("POST")
	authed.HandleFunc("/accounts/{id}", staff(h.CloseAccount)).Methods("DELETE")
	authed.HandleFunc("/accounts/{number}", anyone(h.GetAccount)).Methods("GET")
}
