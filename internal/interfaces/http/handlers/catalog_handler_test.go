package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/internal/testutil"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

func TestCatalogHandler_ValidateDocument(t *testing.T) {
	h := NewCatalogHandler(newLocalService(t), nil, nil, 0)

	rec := serve(t, http.MethodPost, "/v", "/v", ValidateDocumentRequest{
		DocumentType: "cpf",
		Text:         testutil.DocumentTexts[testutil.DocCPF],
	}, h.ValidateDocument)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[termmatch.ValidationResult](t, rec)
	assert.True(t, res.Data.Valid)
	assert.Equal(t, "CPF", res.Data.DocumentType)
}

func TestCatalogHandler_ValidateDocumentRecency(t *testing.T) {
	h := NewCatalogHandler(newLocalService(t), nil, nil, 0)
	body := ValidateDocumentRequest{
		DocumentType:  testutil.DocCriminalBrazil,
		Text:          testutil.DocumentTexts[testutil.DocCriminalBrazil],
		ReferenceDate: "01/12/2025",
	}

	rec := serve(t, http.MethodPost, "/v", "/v", body, h.ValidateDocument)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[termmatch.ValidationResult](t, rec)
	assert.False(t, res.Data.Valid)
	assert.True(t, strings.HasPrefix(res.Data.Reason, termmatch.ReasonCertificateExpired), res.Data.Reason)
}

func TestCatalogHandler_ValidateDocumentErrors(t *testing.T) {
	h := NewCatalogHandler(newLocalService(t), nil, nil, 0)

	rec := serve(t, http.MethodPost, "/v", "/v", ValidateDocumentRequest{Text: "x"}, h.ValidateDocument)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/v", "/v", ValidateDocumentRequest{DocumentType: "boarding pass", Text: "x"}, h.ValidateDocument)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CAT_001", decode[any](t, rec).Error.Code)

	rec = serve(t, http.MethodPost, "/v", "/v", ValidateDocumentRequest{DocumentType: "CPF", ReferenceDate: "someday"}, h.ValidateDocument)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DATE_001", decode[any](t, rec).Error.Code)
}

func TestCatalogHandler_AnalyzeOpinion(t *testing.T) {
	h := NewCatalogHandler(newLocalService(t), nil, nil, 0)

	rec := serve(t, http.MethodPost, "/o", "/o", AnalyzeOpinionRequest{Text: "Sugere-se o indeferimento do pedido."}, h.AnalyzeOpinion)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, opinion.DecisionReject, decode[opinion.Result](t, rec).Data.ProposedDecision)

	rec = serve(t, http.MethodPost, "/o", "/o", AnalyzeOpinionRequest{Text: "x", Track: "honorary"}, h.AnalyzeOpinion)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogHandler_Catalog(t *testing.T) {
	svc := newLocalService(t)
	h := NewCatalogHandler(svc, nil, nil, 0)

	rec := serve(t, http.MethodGet, "/catalog", "/catalog", nil, h.GetCatalog)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[CatalogSummary](t, rec).Data
	assert.Equal(t, svc.Catalog().Version(), sum.Version)
	assert.Len(t, sum.DocumentTypes, len(svc.Catalog().Types()))
	assert.Len(t, sum.Tracks, 3)

	rec = serve(t, http.MethodGet, "/d/{name}", "/d/cpf", nil, h.GetDocumentType)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CPF", decode[catalog.DocumentTypeSpec](t, rec).Data.Name)

	rec = serve(t, http.MethodGet, "/d/{name}", "/d/visa", nil, h.GetDocumentType)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogHandler_Location(t *testing.T) {
	h := NewCatalogHandler(newLocalService(t), nil, nil, 0)

	rec := serve(t, http.MethodGet, "/d/{name}/location", "/d/visa/location", nil, h.GetLocation)

	require.Equal(t, http.StatusOK, rec.Code)
	loc := decode[LocationResponse](t, rec).Data
	assert.False(t, loc.Known)
	assert.Equal(t, catalog.DefaultLocation(), loc.Location)
}

func TestCatalogHandler_Reload(t *testing.T) {
	svc := newLocalService(t)

	h := NewCatalogHandler(svc, nil, nil, 0)
	rec := serve(t, http.MethodPost, "/r", "/r", nil, h.Reload)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	h = NewCatalogHandler(svc, func(context.Context) (string, error) { return "v2", nil }, testutil.NewMockLogger(), 0)
	rec = serve(t, http.MethodPost, "/r", "/r", nil, h.Reload)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ReloadResponse](t, rec).Data
	assert.Equal(t, "v2", out.Version)
	assert.Equal(t, svc.Catalog().Version(), out.PreviousVersion)

	h = NewCatalogHandler(svc, func(context.Context) (string, error) {
		return "", errors.New(errors.ErrCodeCatalogInvalid, "invalid document catalog")
	}, nil, 0)
	rec = serve(t, http.MethodPost, "/r", "/r", nil, h.Reload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "CAT_002", decode[any](t, rec).Error.Code)
}
