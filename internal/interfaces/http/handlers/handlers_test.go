package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/testutil"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func newLocalService(t *testing.T) evaluation.Service {
	t.Helper()
	return evaluation.NewService(catalog.MustDefault(), eligibility.DefaultPolicy(), evaluation.Dependencies{}, nil,
		evaluation.WithClock(func() time.Time { return fixedNow }))
}

func provisionalCase(id string) eligibility.Case {
	return eligibility.Case{
		ID:          id,
		Track:       "provisional",
		Personal:    eligibility.PersonalData{BirthDate: "12/03/2012", ProcessDate: "10/01/2025"},
		OpinionText: "O requerente ingressou no território nacional antes de completar 10 anos de idade. Proposta: DEFERIMENTO.",
		Documents: testutil.Documents(
			testutil.DocLegalRepresentative,
			testutil.DocCRNM,
			testutil.DocResidenceProof,
			testutil.DocTravel,
		),
	}
}

// serve routes a single request through a chi router so URL params resolve.
func serve(t *testing.T, method, pattern, target string, body interface{}, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) common.APIResponse[T] {
	t.Helper()
	var out common.APIResponse[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
