package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"guild-leveling/pkg/errutil"

	"go.uber.org/zap"
)

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// WriteError renders err as the standard error envelope. Errors that are not an
// errutil.BaseError become internal errors without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var be errutil.BaseError
	switch {
	case errors.As(err, &be):
		WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
	case errors.Is(err, context.DeadlineExceeded):
		be = errutil.BaseError{Code: errutil.StatusTimeout, Message: "request timed out"}
		WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
	default:
		zap.L().Error("unhandled error", zap.Error(err))
		be = errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}
		WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("http.request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
