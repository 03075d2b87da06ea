// Package handlers implements the REST endpoints of NaturaCheck. Every body
// is a common.APIResponse envelope; errors carry the AppError code.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// DefaultMaxBodySize bounds request bodies when the handler is built
// without an explicit limit.
const DefaultMaxBodySize int64 = 8 << 20

// getUserIDFromContext returns the token subject, or "" for anonymous
// requests.
func getUserIDFromContext(r *http.Request) string {
	uid, _ := keycloak.UserIDFromContext(r.Context())
	return uid
}

// parseLimit reads an integer query parameter clamped to [1, max].
func parseLimit(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// decodeJSON reads a JSON body of at most limit bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			return errors.InvalidParam("request body too large")
		case stderrors.Is(err, io.EOF):
			return errors.InvalidParam("request body is empty")
		default:
			return errors.InvalidParam("invalid request body").WithDetail(err.Error())
		}
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeSuccess wraps data in a success envelope.
func writeSuccess[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = chimw.GetReqID(r.Context())
	writeJSON(w, statusCode, resp)
}

// writeAppError maps err to its HTTP status. Server-side failures keep their
// code but never expose the cause chain.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown || code == errors.CodeOK {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	detail := &common.ErrorDetail{Code: code.String(), Message: errors.DefaultMessageForCode(code)}
	var ae *errors.AppError
	if status < 500 && stderrors.As(err, &ae) {
		detail.Message = ae.Message
		detail.Detail = ae.Detail
	}

	resp := common.APIResponse[any]{
		Success:   false,
		Error:     detail,
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: common.NewTimestamp(),
	}
	writeJSON(w, status, resp)
}
