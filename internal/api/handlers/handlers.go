package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/api/middleware"
	"github.com/dvloznov/expense-insight/internal/domain"
	"github.com/dvloznov/expense-insight/internal/profile"
	"github.com/dvloznov/expense-insight/internal/rca"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// AnalysisService is the subset of analysis.Service used by the handlers.
type AnalysisService interface {
	Detect(ctx context.Context, method string, o anomaly.Overrides) (any, error)
	RCA(ctx context.Context, from, to string) (domain.AttributionResult, error)
	DynamicRCA(ctx context.Context) (rca.TimelineResult, error)
	Profile(ctx context.Context) (*profile.Profile, error)
	Breakdown(ctx context.Context, dimension string, topN int) (profile.BreakdownResult, error)
}

// Envelope wraps every analysis response.
type Envelope struct {
	Status     string `json:"status"`
	Method     string `json:"method,omitempty"`
	Parameters any    `json:"parameters,omitempty"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSON(w, status, Envelope{Status: statusError, Message: message})
}

// queryFloat reads an optional float parameter; absent yields nil. Values
// that are not finite numbers are rejected.
func queryFloat(r *http.Request, name string) (*float64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

// AnomalyHandler serves the anomaly detection endpoints.
type AnomalyHandler struct {
	svc AnalysisService
	log zerolog.Logger
}

// NewAnomalyHandler creates a new anomaly handler.
func NewAnomalyHandler(svc AnalysisService, log zerolog.Logger) *AnomalyHandler {
	return &AnomalyHandler{svc: svc, log: log}
}

// Detect handles GET /api/anomaly/detect?method=...
// The method defaults to comprehensive.
func (h *AnomalyHandler) Detect(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	if method == "" {
		method = string(anomaly.MethodComprehensive)
	}
	h.detect(w, r, method)
}

// Method returns a handler for one fixed detection method, as served by
// /api/anomaly/statistical, /ml and /trends.
func (h *AnomalyHandler) Method(method anomaly.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.detect(w, r, string(method))
	}
}

func (h *AnomalyHandler) detect(w http.ResponseWriter, r *http.Request, method string) {
	var o anomaly.Overrides
	params := map[string]any{}
	for name, dst := range map[string]**float64{
		"threshold":     &o.Threshold,
		"contamination": &o.Contamination,
		"threshold_pct": &o.ThresholdPct,
	} {
		v, ok := queryFloat(r, name)
		if !ok {
			writeFailure(w, http.StatusBadRequest, "Invalid "+name)
			return
		}
		*dst = v
	}
	if err := o.Validate(); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	resolved := o.Apply(anomaly.DefaultParams())
	switch anomaly.Method(strings.ToLower(method)) {
	case anomaly.MethodStatistical:
		params["threshold"] = resolved.Threshold
	case anomaly.MethodML:
		params["contamination"] = resolved.Contamination
	case anomaly.MethodTrend:
		params["threshold_pct"] = resolved.ThresholdPct
	default:
		for k, v := range r.URL.Query() {
			params[k] = strings.Join(v, ",")
		}
	}

	data, err := h.svc.Detect(r.Context(), method, o)
	if err != nil {
		h.log.Error().Err(err).Str("method", method).Msg("Anomaly detection failed")
		writeFailure(w, http.StatusInternalServerError, "Failed to load ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, Envelope{
		Status:     statusSuccess,
		Method:     method,
		Parameters: params,
		Data:       data,
	})
}

// RCAHandler serves the root-cause endpoints.
type RCAHandler struct {
	svc AnalysisService
	log zerolog.Logger
}

// NewRCAHandler creates a new root-cause handler.
func NewRCAHandler(svc AnalysisService, log zerolog.Logger) *RCAHandler {
	return &RCAHandler{svc: svc, log: log}
}

// Pair handles GET /api/rca?from=YYYY-PP&to=YYYY-PP
func (h *RCAHandler) Pair(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeFailure(w, http.StatusBadRequest, "from and to are required")
		return
	}

	result, err := h.svc.RCA(r.Context(), from, to)
	if err != nil {
		h.log.Error().Err(err).Str("from", from).Str("to", to).Msg("Root cause analysis failed")
		writeFailure(w, http.StatusInternalServerError, "Failed to load ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, Envelope{
		Status:     statusSuccess,
		Method:     "rca",
		Parameters: map[string]string{"from": from, "to": to},
		Data:       result,
	})
}

// Dynamic handles GET /api/rca/dynamic
func (h *RCAHandler) Dynamic(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.DynamicRCA(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Dynamic root cause analysis failed")
		writeFailure(w, http.StatusInternalServerError, "Failed to load ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, Envelope{
		Status: statusSuccess,
		Method: "dynamic_rca",
		Data:   result,
	})
}

// LedgerHandler serves ledger exploration endpoints.
type LedgerHandler struct {
	svc AnalysisService
	log zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(svc AnalysisService, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, log: log}
}

// Profile handles GET /api/ledger/profile
func (h *LedgerHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to profile ledger")
		writeFailure(w, http.StatusInternalServerError, "Failed to load ledger")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

// Breakdown handles GET /api/ledger/breakdown?dimension=...&top_n=...
func (h *LedgerHandler) Breakdown(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dimension := query.Get("dimension")
	if dimension == "" {
		writeFailure(w, http.StatusBadRequest, "dimension is required")
		return
	}

	topN := profile.DefaultTopN
	if raw := query.Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeFailure(w, http.StatusBadRequest, "Invalid top_n")
			return
		}
		topN = n
	}

	result, err := h.svc.Breakdown(r.Context(), dimension, topN)
	if err != nil {
		h.log.Error().Err(err).Str("dimension", dimension).Msg("Failed to break down ledger")
		writeFailure(w, http.StatusInternalServerError, "Failed to load ledger")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}
