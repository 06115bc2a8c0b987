package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"guild-leveling/pkg/errutil"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// RequireBearer wraps h so it only runs when the request carries the admin token.
func RequireBearer(token string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			WriteError(w, errutil.New(errutil.StatusUnauthorized, "missing or invalid admin token"))
			return
		}
		h(w, r, params)
	}
}
