package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/audit"
	"safeworks.org/ptw/internal/obs"
)

// envelope is the body of every API response except ops probes and file downloads.
type envelope struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, r *http.Request, code int, message, detail string) {
	writeJSON(w, code, envelope{
		Message:   message,
		Error:     detail,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the failure envelope for err. The underlying error
// text is only exposed outside production.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	msg := apperr.MessageOf(err, http.StatusText(code))

	detail := kind.String()
	if !a.opts.Production {
		detail = err.Error()
	}
	if code >= http.StatusInternalServerError {
		obs.Component("httpapi").WithContext(r.Context()).WithFields(logrus.Fields{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"kind":       kind.String(),
		}).WithError(err).Error("request failed")
		if a.opts.Production {
			msg = http.StatusText(code)
		}
	}
	writeJSON(w, code, envelope{
		Message:   msg,
		Error:     detail,
		Details:   apperr.DetailsOf(err),
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// decodeJSON reads exactly one JSON document from the body.
func decodeJSON(r *http.Request, dst any) error {
	const op = "httpapi.decode"
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(op, err, "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(op, err, "request body too large")
		}
		return apperr.Validation(op, err, "invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Validation(op, err, "unexpected data after JSON body")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	var ae *apperr.Error
	if errors.As(err, &ae) && errors.Is(ae.Err, io.EOF) {
		return nil
	}
	return err
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("httpapi.path", err, "invalid %s %q", name, raw)
	}
	return id, nil
}
