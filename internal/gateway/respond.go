// ABOUTME: JSON response helpers and the error-kind to HTTP status mapping
// ABOUTME: Every failure leaves the gateway as {"error", "kind", "violations"}

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/blvckwall/blvckwall-gateway/internal/providers"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind"`
	Violations []record.Violation `json:"violations,omitempty"`
	RetryAfter int                `json:"retry_after,omitempty"`
}

// kindProvider labels upstream provider failures.
const kindProvider = "provider"

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, record.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, record.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, record.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, providers.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as JSON. Unclassified errors are logged and reported
// without detail.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Kind: record.Kind(err)}

	var verr *record.ValidationError
	if errors.As(err, &verr) {
		resp.Error = "validation failed"
		resp.Violations = verr.Violations
	}

	var rl *record.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		resp.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	switch status {
	case http.StatusBadGateway:
		resp.Kind = kindProvider
		g.logger.Warn("provider call failed", "path", r.URL.Path, "error", err)
	case http.StatusServiceUnavailable:
		resp.Error = "store unavailable"
		g.logger.Error("store unavailable", "path", r.URL.Path, "error", err)
	case http.StatusInternalServerError:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal server error"
	}

	writeJSON(w, status, resp)
}

// decodeJSON decodes a JSON object body into v. Malformed bodies are
// validation failures on the "body" field.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return record.NewValidationError(record.Violation{Field: "body", Message: "is required"})
		}
		return record.NewValidationError(record.Violation{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)})
	}
	return nil
}

// decodeFields decodes a flat JSON object body.
func decodeFields(r *http.Request) (map[string]any, error) {
	var m map[string]any
	if err := decodeJSON(r, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, record.NewValidationError(record.Violation{Field: "body", Message: "must be a JSON object"})
	}
	return m, nil
}
