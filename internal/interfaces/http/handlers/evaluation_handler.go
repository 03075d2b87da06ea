package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/search/opensearch"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// MaxBatchSize bounds the number of cases in one batch request.
const MaxBatchSize = 100

// EvaluationHandler serves case evaluation and verdict lookup.
type EvaluationHandler struct {
	svc         evaluation.Service
	logger      logging.Logger
	maxBodySize int64
}

// NewEvaluationHandler creates an EvaluationHandler. maxBodySize <= 0 uses
// DefaultMaxBodySize.
func NewEvaluationHandler(svc evaluation.Service, logger logging.Logger, maxBodySize int64) *EvaluationHandler {
	return &EvaluationHandler{
		svc:         svc,
		logger:      logging.OrNop(logger).Named("http.evaluation"),
		maxBodySize: maxBodySize,
	}
}

// BatchEvaluateRequest is the body of POST /cases/evaluate/batch.
type BatchEvaluateRequest struct {
	Cases []evaluation.EvaluateRequest `json:"cases"`
}

// BatchEvaluateResponse lists per-case outcomes in request order.
type BatchEvaluateResponse struct {
	Items     []evaluation.BatchItem `json:"items"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
}

// Evaluate handles POST /api/v1/cases/evaluate
func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluation.EvaluateRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	req.RequestedBy = getUserIDFromContext(r)

	res, err := h.svc.Evaluate(r.Context(), req)
	if err != nil {
		h.logFailure("evaluation failed", err, logging.CaseID(req.Case.ID))
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

// EvaluateBatch handles POST /api/v1/cases/evaluate/batch
func (h *EvaluationHandler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if len(req.Cases) == 0 {
		writeAppError(w, r, errors.InvalidParam("cases must not be empty"))
		return
	}
	if len(req.Cases) > MaxBatchSize {
		writeAppError(w, r, errors.InvalidParam("too many cases").
			WithDetail("at most "+strconv.Itoa(MaxBatchSize)+" cases per batch"))
		return
	}

	user := getUserIDFromContext(r)
	for i := range req.Cases {
		req.Cases[i].RequestedBy = user
	}

	items, err := h.svc.EvaluateBatch(r.Context(), req.Cases)
	if err != nil {
		h.logFailure("batch evaluation aborted", err, logging.Int("cases", len(req.Cases)))
		writeAppError(w, r, err)
		return
	}

	resp := BatchEvaluateResponse{Items: items}
	for _, it := range items {
		if it.Result != nil {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

// GetVerdict handles GET /api/v1/verdicts/{caseID}
func (h *EvaluationHandler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	rec, err := h.svc.GetVerdict(r.Context(), caseID)
	if err != nil {
		h.logFailure("verdict lookup failed", err, logging.CaseID(caseID))
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, rec)
}

// VerdictHistory handles GET /api/v1/verdicts/{caseID}/history?limit=N
func (h *EvaluationHandler) VerdictHistory(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	limit := parseLimit(r, "limit", 20, 200)

	recs, err := h.svc.VerdictHistory(r.Context(), caseID, limit)
	if err != nil {
		h.logFailure("verdict history failed", err, logging.CaseID(caseID))
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, recs)
}

// SearchVerdicts handles GET /api/v1/verdicts/search
func (h *EvaluationHandler) SearchVerdicts(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := opensearch.VerdictQuery{
		Text:            qs.Get("q"),
		Track:           qs.Get("track"),
		Eligibility:     qs.Get("eligibility"),
		MissingDocument: qs.Get("missing_document"),
		FindingCode:     qs.Get("finding_code"),
		Size:            parseLimit(r, "size", 20, 500),
	}
	if v := qs.Get("from"); v != "" {
		from, err := strconv.Atoi(v)
		if err != nil || from < 0 {
			writeAppError(w, r, errors.InvalidParam("from must be a non-negative integer"))
			return
		}
		q.From = from
	}

	res, err := h.svc.SearchVerdicts(r.Context(), q)
	if err != nil {
		h.logFailure("verdict search failed", err)
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

// logFailure logs server-side failures at error and client mistakes at debug.
func (h *EvaluationHandler) logFailure(msg string, err error, fields ...logging.Field) {
	fields = append(fields, logging.Err(err), logging.String("code", errors.GetCode(err).String()))
	if errors.IsServerError(errors.GetCode(err)) || errors.GetCode(err) == errors.CodeUnknown {
		h.logger.Error(msg, fields...)
		return
	}
	h.logger.Debug(msg, fields...)
}
