package ranking

import (
	"net/http"

	"guild-leveling/pkg/db/pagination"
	"guild-leveling/pkg/middleware"
	"guild-leveling/services/progression"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type pageResponse struct {
	Data     []Entry              `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func RegisterHTTPHandlers(mux *runtime.ServeMux, svc *Service) error {
	if err := mux.HandlePath(http.MethodGet, "/v1/leaderboard", svc.handleGlobal); err != nil {
		return err
	}
	if err := mux.HandlePath(http.MethodGet, "/v1/guilds/{guild_id}/leaderboard", svc.handleGuild); err != nil {
		return err
	}
	return mux.HandlePath(http.MethodGet, "/v1/guilds/{guild_id}/members/{user_id}/rank", svc.handleRank)
}

func (s *Service) handleGlobal(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	p := pagination.FromQuery(r.URL.Query()).Normalize(MaxPageSize)
	snapshot, err := s.globalSnapshot(r.Context(), 0)
	if err != nil {
		middleware.WriteError(w, progression.ToAPIError(err))
		return
	}
	writePage(w, pageOf(snapshot, p.Offset, p.Limit+1), p)
}

func (s *Service) handleGuild(w http.ResponseWriter, r *http.Request, params map[string]string) {
	p := pagination.FromQuery(r.URL.Query()).Normalize(MaxPageSize)
	rows, err := s.guildPage(r.Context(), params["guild_id"], p.Limit+1, p.Offset)
	if err != nil {
		middleware.WriteError(w, progression.ToAPIError(err))
		return
	}
	writePage(w, rows, p)
}

func (s *Service) handleRank(w http.ResponseWriter, r *http.Request, params map[string]string) {
	entry, err := s.RankOf(r.Context(), params["guild_id"], params["user_id"])
	if err != nil {
		middleware.WriteError(w, progression.ToAPIError(err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, entry)
}

func writePage(w http.ResponseWriter, rows []Entry, p pagination.Pagination) {
	data, info := pagination.BuildPageInfo(rows, p)
	middleware.WriteJSON(w, http.StatusOK, pageResponse{Data: data, PageInfo: info})
}

