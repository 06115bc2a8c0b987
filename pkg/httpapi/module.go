package httpapi

import (
	"net/http"

	"guild-leveling/pkg/health"
	"guild-leveling/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Invoke(registerHealthEndpoints),
)

func registerHealthEndpoints(mux *runtime.ServeMux, checker *health.Checker) {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": health.StatusHealthy})
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
	}

	if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		report := checker.Readiness(r.Context())
		code := http.StatusOK
		if !report.Healthy() {
			code = http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, code, report)
	}); err != nil {
		zap.L().Error("failed to register readiness endpoint", zap.Error(err))
	}
}
