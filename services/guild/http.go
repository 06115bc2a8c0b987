package guild

import (
	"net/http"

	"guild-leveling/pkg/errutil"
	"guild-leveling/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Gateway = fx.Module("guild.gateway",
	fx.Invoke(RegisterHTTPHandlers),
)

func RegisterHTTPHandlers(mux *runtime.ServeMux, svc *Service) error {
	return mux.HandlePath(http.MethodGet, "/v1/guilds/{guild_id}/policy", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		p, err := svc.Load(r.Context(), params["guild_id"])
		if err != nil {
			middleware.WriteError(w, errutil.ServiceUnavailable("failed to load guild policy", err))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, p)
	})
}
