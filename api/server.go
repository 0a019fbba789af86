package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/gasprice/pkg/allocation"
	"github.com/gregtusar/gasprice/pkg/mibgas"
	"github.com/gregtusar/gasprice/pkg/models"
	"github.com/gregtusar/gasprice/pkg/pricing"
	"github.com/gregtusar/gasprice/pkg/store"
)

const defaultHistoryLimit = 50

// History is the read side of the pricing history.
type History interface {
	List(ctx context.Context, limit int) ([]store.Record, error)
	Get(ctx context.Context, contractID string) (store.Record, error)
}

type Options struct {
	JWTSecret      string
	RateLimit      float64
	Burst          int
	AllowedOrigins []string
}

type Server struct {
	pricer     *pricing.Pricer
	history    History
	logger     *logrus.Logger
	port       string
	opts       Options
	httpServer *http.Server
}

func NewServer(pricer *pricing.Pricer, history History, logger *logrus.Logger, port string, opts Options) *Server {
	return &Server{
		pricer:  pricer,
		history: history,
		logger:  logger,
		port:    port,
		opts:    opts,
	}
}

// Handler returns the routed API with its middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/allocations", s.handleAllocations)
	mux.HandleFunc("/api/quotes", s.handleQuotes)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/", s.handleHistoryItem)
	mux.HandleFunc("/api/stream", s.handleStream)

	var handler http.Handler = mux
	handler = authMiddleware([]byte(s.opts.JWTSecret), s.logger)(handler)
	handler = rateLimitMiddleware(s.opts.RateLimit, s.opts.Burst)(handler)
	return corsMiddleware(s.opts.AllowedOrigins)(handler)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting API server on port %s", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"dataset":   s.pricer.HasDataset(),
		"history":   s.history != nil,
		"stats":     s.pricer.Stats(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// quoteValue accepts a JSON number or a string such as "26,50".
type quoteValue string

func (q *quoteValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = quoteValue(s)
		return nil
	}
	*q = quoteValue(data)
	return nil
}

// AllocationRequest prices one schedule. Without quotes the trading data of
// the reference date is used.
type AllocationRequest struct {
	ContractID     string                `json:"contract_id,omitempty"`
	ReferenceDate  string                `json:"reference_date"`
	DurationMonths int                   `json:"duration_months"`
	StartMonth     string                `json:"start_month"`
	Quotes         map[string]quoteValue `json:"quotes,omitempty"`
}

type AllocationResponse struct {
	ContractID string             `json:"contract_id,omitempty"`
	TradingDay string             `json:"trading_day"`
	Price      string             `json:"price"`
	Allocation *allocation.Result `json:"allocation"`
}

type errorResponse struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind"`
	Months []models.Month `json:"months,omitempty"`
}

// apiError carries the HTTP status for a failed request.
type apiError struct {
	status int
	body   errorResponse
}

func (e *apiError) Error() string { return e.body.Error }

func badRequest(format string, args ...interface{}) *apiError {
	return &apiError{status: http.StatusBadRequest, body: errorResponse{Error: fmt.Sprintf(format, args...), Kind: "bad_request"}}
}

func classify(err error) *apiError {
	var (
		apiErr   *apiError
		noQuote  *allocation.NoQuoteAvailableError
		coverage *allocation.CoverageMismatchError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, allocation.ErrInvalidSchedule):
		return &apiError{status: http.StatusBadRequest, body: errorResponse{Error: err.Error(), Kind: "invalid_schedule"}}
	case errors.As(err, &noQuote):
		return &apiError{status: http.StatusUnprocessableEntity, body: errorResponse{Error: err.Error(), Kind: "no_quote", Months: noQuote.Months}}
	case errors.As(err, &coverage):
		return &apiError{status: http.StatusUnprocessableEntity, body: errorResponse{Error: err.Error(), Kind: "coverage_mismatch"}}
	case errors.Is(err, mibgas.ErrNoTradingDay):
		return &apiError{status: http.StatusNotFound, body: errorResponse{Error: err.Error(), Kind: "no_trading_day"}}
	case errors.Is(err, pricing.ErrNoDataset):
		return &apiError{status: http.StatusServiceUnavailable, body: errorResponse{Error: err.Error(), Kind: "no_dataset"}}
	default:
		return &apiError{status: http.StatusInternalServerError, body: errorResponse{Error: err.Error(), Kind: "internal"}}
	}
}

// allocate serves both the REST and the stream endpoints.
func (s *Server) allocate(ctx context.Context, req AllocationRequest) (*AllocationResponse, error) {
	ref, err := time.Parse("2006-01-02", strings.TrimSpace(req.ReferenceDate))
	if err != nil {
		return nil, badRequest("invalid reference_date %q", req.ReferenceDate)
	}
	start, err := models.ParseMonth(strings.TrimSpace(req.StartMonth))
	if err != nil {
		return nil, badRequest("invalid start_month %q", req.StartMonth)
	}
	contract := models.Contract{
		ID:             req.ContractID,
		PriceDate:      ref,
		DurationMonths: req.DurationMonths,
		StartMonth:     start,
	}
	if err := allocation.Validate(contract.Schedule()); err != nil {
		return nil, err
	}

	var outcome pricing.Outcome
	if len(req.Quotes) > 0 {
		raw := make(map[string]string, len(req.Quotes))
		for code, v := range req.Quotes {
			raw[code] = string(v)
		}
		quotes, err := models.ParseQuotes(raw)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		outcome = s.pricer.PriceSnapshot(ctx, contract, &mibgas.Snapshot{TradingDay: ref, Quotes: quotes})
	} else {
		outcome = s.pricer.PriceContract(ctx, contract)
	}
	if outcome.Status != pricing.StatusPriced {
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return nil, badRequest("%s", outcome.Reason)
	}

	return &AllocationResponse{
		ContractID: req.ContractID,
		TradingDay: outcome.TradingDay.Format("2006-01-02"),
		Price:      outcome.Result.WeightedAverage.StringFixed(2),
		Allocation: outcome.Result,
	}, nil
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid request body: %v", err))
		return
	}

	resp, err := s.allocate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.writeError(w, badRequest("invalid date %q", raw))
			return
		}
		date = d
	}

	snap, err := s.pricer.Quotes(date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []store.Record{})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, badRequest("invalid limit %q", raw))
			return
		}
		limit = n
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if id == "" || s.history == nil {
		http.NotFound(w, r)
		return
	}

	record, err := s.history.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, &apiError{status: http.StatusNotFound, body: errorResponse{Error: err.Error(), Kind: "not_found"}})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	apiErr := classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, apiErr.status, apiErr.body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
