package query

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// NewRouter builds the debug-only HTTP surface over Service: direct state
// reads and dry-run solution checks, plus the health/ready/metrics
// endpoints the rest of the engine already exposes. This is deliberately
// not a REST façade for contract deployment or solution submission — it
// exists for operators and test harnesses to poke at committed state.
func NewRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/query", func(r chi.Router) {
		r.Get("/state", svc.handleQueryState)
		r.Post("/check", svc.handleCheckSolution)
	})

	return r
}

type stateQueryResponse struct {
	RequestID string   `json:"request_id"`
	Value     []uint64 `json:"value"`
}

func (s *Service) handleQueryState(w http.ResponseWriter, r *http.Request) {
	contractHex := r.URL.Query().Get("contract")
	keyParam := r.URL.Query().Get("key")
	if contractHex == "" || keyParam == "" {
		writeError(w, http.StatusBadRequest, "contract and key query parameters are required")
		return
	}

	contract, err := types.ParseAddress(contractHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract address: "+err.Error())
		return
	}
	word, err := strconv.ParseUint(keyParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key word: "+err.Error())
		return
	}

	value, err := s.QueryState(r.Context(), contract, types.Key{types.Word(word)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stateQueryResponse{
		RequestID: middlewareRequestID(r),
		Value:     value,
	})
}

type checkSolutionRequest struct {
	Solution types.Solution `json:"solution"`
}

type checkSolutionResponse struct {
	RequestID string  `json:"request_id"`
	Satisfied bool    `json:"satisfied"`
	Utility   float64 `json:"utility"`
	Gas       uint64  `json:"gas"`
}

func (s *Service) handleCheckSolution(w http.ResponseWriter, r *http.Request) {
	var req checkSolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := s.CheckSolution(r.Context(), req.Solution)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, checkSolutionResponse{
		RequestID: middlewareRequestID(r),
		Satisfied: outcome.Satisfied,
		Utility:   outcome.Utility,
		Gas:       outcome.Gas,
	})
}

func middlewareRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
