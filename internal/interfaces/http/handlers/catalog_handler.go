package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// Reloader re-reads the catalog and policy and swaps them into the service.
// It returns the new catalog version.
type Reloader func(ctx context.Context) (string, error)

// CatalogHandler serves the catalog and the stateless core operations:
// single-document validation, opinion analysis and location strategy.
type CatalogHandler struct {
	svc         evaluation.Service
	reload      Reloader
	logger      logging.Logger
	maxBodySize int64
}

// NewCatalogHandler creates a CatalogHandler. A nil reload disables
// POST /catalog/reload.
func NewCatalogHandler(svc evaluation.Service, reload Reloader, logger logging.Logger, maxBodySize int64) *CatalogHandler {
	return &CatalogHandler{
		svc:         svc,
		reload:      reload,
		logger:      logging.OrNop(logger).Named("http.catalog"),
		maxBodySize: maxBodySize,
	}
}

// ValidateDocumentRequest is the body of POST /documents/validate.
type ValidateDocumentRequest struct {
	DocumentType string `json:"document_type"`
	Text         string `json:"text"`

	// ReferenceDate enables certificate recency checks. Any format the
	// date parser accepts.
	ReferenceDate string `json:"reference_date,omitempty"`
}

// AnalyzeOpinionRequest is the body of POST /opinions/analyze.
type AnalyzeOpinionRequest struct {
	Text  string `json:"text"`
	Track string `json:"track,omitempty"`
}

// CatalogSummary is the body of GET /catalog.
type CatalogSummary struct {
	Version       string               `json:"version"`
	Tracks        []*catalog.TrackSpec `json:"tracks"`
	DocumentTypes []DocumentTypeInfo   `json:"document_types"`
}

// DocumentTypeInfo is the list view of one document type.
type DocumentTypeInfo struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	LengthOnly bool     `json:"length_only,omitempty"`
	MaxAgeDays int      `json:"max_age_days,omitempty"`
	Variants   int      `json:"variants,omitempty"`
}

// LocationResponse is the body of GET /catalog/documents/{name}/location.
type LocationResponse struct {
	DocumentType string                   `json:"document_type"`
	Known        bool                     `json:"known"`
	Location     []catalog.LocationSource `json:"location"`
}

// ReloadResponse is the body of POST /catalog/reload.
type ReloadResponse struct {
	PreviousVersion string `json:"previous_version"`
	Version         string `json:"version"`
}

// ValidateDocument handles POST /api/v1/documents/validate
func (h *CatalogHandler) ValidateDocument(w http.ResponseWriter, r *http.Request) {
	var req ValidateDocumentRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if strings.TrimSpace(req.DocumentType) == "" {
		writeAppError(w, r, errors.InvalidParam("document_type is required"))
		return
	}

	var ref time.Time
	if req.ReferenceDate != "" {
		t, err := dates.Parse(req.ReferenceDate)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		ref = t
	}

	res := h.svc.ValidateDocument(req.DocumentType, req.Text, ref)
	if res.Reason == termmatch.ReasonUnknownDocumentType {
		writeAppError(w, r, errors.New(errors.ErrCodeUnknownDocumentType, "unknown document type").
			WithDetail(req.DocumentType))
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

// AnalyzeOpinion handles POST /api/v1/opinions/analyze
func (h *CatalogHandler) AnalyzeOpinion(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeOpinionRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	res, err := h.svc.AnalyzeOpinion(req.Text, req.Track)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if res.ProposedDecision == opinion.DecisionUnknown && len(res.Alerts) > 0 {
		h.logger.Debug("opinion inconclusive", logging.Strings("alerts", res.Alerts))
	}
	writeSuccess(w, r, http.StatusOK, res)
}

// GetCatalog handles GET /api/v1/catalog
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.svc.Catalog()
	types := cat.Types()

	out := CatalogSummary{
		Version:       cat.Version(),
		Tracks:        cat.Tracks(),
		DocumentTypes: make([]DocumentTypeInfo, 0, len(types)),
	}
	for _, t := range types {
		out.DocumentTypes = append(out.DocumentTypes, DocumentTypeInfo{
			Name:       t.Name,
			Aliases:    t.Aliases,
			LengthOnly: t.LengthOnly,
			MaxAgeDays: t.MaxAgeDays,
			Variants:   len(t.Variants),
		})
	}
	writeSuccess(w, r, http.StatusOK, out)
}

// GetDocumentType handles GET /api/v1/catalog/documents/{name}
func (h *CatalogHandler) GetDocumentType(w http.ResponseWriter, r *http.Request) {
	spec, err := h.svc.Catalog().Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, spec)
}

// GetLocation handles GET /api/v1/catalog/documents/{name}/location.
// Unknown types answer with the default order instead of 404.
func (h *CatalogHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, err := h.svc.Catalog().Lookup(name)
	writeSuccess(w, r, http.StatusOK, LocationResponse{
		DocumentType: name,
		Known:        err == nil,
		Location:     h.svc.LocationStrategy(name),
	})
}

// Reload handles POST /api/v1/catalog/reload
func (h *CatalogHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeAppError(w, r, errors.New(errors.ErrCodeNotImplemented, "catalog reload is not configured"))
		return
	}
	prev := h.svc.Catalog().Version()
	version, err := h.reload(r.Context())
	if err != nil {
		h.logger.Error("catalog reload failed", logging.Err(err))
		writeAppError(w, r, err)
		return
	}
	h.logger.Info("catalog reloaded",
		logging.String("previous_version", prev),
		logging.String("version", version),
		logging.String("user_id", getUserIDFromContext(r)))
	writeSuccess(w, r, http.StatusOK, ReloadResponse{PreviousVersion: prev, Version: version})
}
