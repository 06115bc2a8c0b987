package progression

import (
	"encoding/json"
	"net/http"

	"guild-leveling/pkg/config"
	"guild-leveling/pkg/errutil"
	"guild-leveling/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

type commandRequest struct {
	Kind   CommandKind `json:"kind"`
	Amount int64       `json:"amount"`
	Level  int         `json:"level"`
}

type commandResponse struct {
	Before UserProgress  `json:"before"`
	After  UserProgress  `json:"after"`
	Change *LevelChanged `json:"change,omitempty"`
	// DispatchError is set when the XP write committed but the reward hand-off failed.
	DispatchError string `json:"dispatch_error,omitempty"`
}

func RegisterHTTPHandlers(mux *runtime.ServeMux, cfg *config.Config, svc *Service) error {
	if err := mux.HandlePath(http.MethodGet, "/v1/guilds/{guild_id}/members/{user_id}/progress", svc.handleProgress); err != nil {
		return err
	}

	if cfg.Server.AdminToken == "" {
		zap.L().Warn("HTTP_SERVER.ADMIN_TOKEN not set, admin command endpoint disabled")
		return nil
	}
	return mux.HandlePath(http.MethodPost, "/v1/guilds/{guild_id}/members/{user_id}/commands",
		middleware.RequireBearer(cfg.Server.AdminToken, svc.handleCommand))
}

func (s *Service) handleProgress(w http.ResponseWriter, r *http.Request, params map[string]string) {
	view, err := s.Progress(r.Context(), params["guild_id"], params["user_id"])
	if err != nil {
		middleware.WriteError(w, ToAPIError(err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, view)
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		middleware.WriteError(w, errutil.BadRequest("malformed request body", err))
		return
	}

	res, err := s.Apply(r.Context(), AdminCommand{
		Kind:    req.Kind,
		GuildID: params["guild_id"],
		UserID:  params["user_id"],
		Amount:  req.Amount,
		Level:   req.Level,
	})
	if err != nil {
		middleware.WriteError(w, ToAPIError(err))
		return
	}

	out := commandResponse{Before: res.Before, After: res.After, Change: res.Change}
	if res.DispatchErr != nil {
		out.DispatchError = res.DispatchErr.Error()
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}
