package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"flowsmith/internal/config"
	"flowsmith/internal/events"
	"flowsmith/internal/flowerr"
	"flowsmith/internal/ledger"
	"flowsmith/internal/pipeline"
	"flowsmith/internal/types"
)

// Handler carries the API dependencies.
type Handler struct {
	pipe   *pipeline.Pipeline
	ledger *ledger.Ledger
	hub    *events.Hub
	credit config.CreditConfig
}

type generateRequest struct {
	Prompt   string   `json:"prompt"`
	Platform string   `json:"platform"`
	Hints    []string `json:"hints,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// HandleGenerate runs one generation request to a terminal outcome. The
// principal id and depletion preference arrive from the session boundary as
// headers.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get("X-Principal")
	if principal == "" {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "missing X-Principal header"})
		return
	}
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	req := types.GenerationRequest{
		ID:        uuid.NewString(),
		Principal: principal,
		Prompt:    body.Prompt,
		Platform:  body.Platform,
		Hints:     body.Hints,
	}
	settings := types.PrincipalSettings{
		BonusFirst: r.Header.Get("X-Bonus-First") == "true",
		Tier:       r.Header.Get("X-Tier"),
	}

	res, err := h.pipe.Run(r.Context(), req, settings)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get("X-Principal")
	if principal == "" {
		principal = r.URL.Query().Get("principal")
	}
	if principal == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "principal is required"})
		return
	}
	bal, err := h.ledger.Store().Balance(r.Context(), principal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type rolloverRequest struct {
	Principal        string   `json:"principal"`
	Allocation       *int64   `json:"allocation,omitempty"`
	RolloverFraction *float64 `json:"rollover_fraction,omitempty"`
}

// HandleRollover applies a period-boundary rollover. Allocation and cap
// default to the configured credit policy; the billing boundary may
// override them per principal.
func (h *Handler) HandleRollover(w http.ResponseWriter, r *http.Request) {
	var body rolloverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Principal == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "principal is required"})
		return
	}
	allocation := h.credit.Allocation
	if body.Allocation != nil {
		allocation = *body.Allocation
	}
	fraction := h.credit.RolloverFraction
	if body.RolloverFraction != nil {
		fraction = *body.RolloverFraction
	}
	entry, err := h.ledger.Rollover(r.Context(), body.Principal, allocation, fraction)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type provisionRequest struct {
	Principal string `json:"principal"`
	Regular   int64  `json:"regular"`
	Bonus     int64  `json:"bonus"`
}

func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	var body provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Principal == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "principal is required"})
		return
	}
	b := ledger.Balance{Regular: body.Regular, Bonus: body.Bonus}
	if err := h.ledger.Provision(r.Context(), body.Principal, b); err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func writeStageError(w http.ResponseWriter, err error) {
	var se *flowerr.StageError
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch se.Kind {
	case flowerr.KindInsufficientCredits:
		status = http.StatusPaymentRequired
	case flowerr.KindPlanning, flowerr.KindAssembly:
		status = http.StatusUnprocessableEntity
	case flowerr.KindModule:
		status = http.StatusBadGateway
	case flowerr.KindTimeout:
		status = http.StatusGatewayTimeout
	case flowerr.KindSettlement:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, errorResponse{
		Error:  "generation failed",
		Stage:  se.Stage,
		Kind:   string(se.Kind),
		Detail: se.Detail,
	})
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
