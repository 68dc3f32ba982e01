package handler

import (
	"contest_engine/internal/app/service"
	"contest_engine/internal/common"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type LeaderboardHandler struct {
	leaderboardService *service.LeaderboardService
}

func NewLeaderboardHandler(ls *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboardService: ls}
}

func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{contestID}/leaderboard", h.getLeaderboard)
	r.Get("/{contestID}/standings/{userID}", h.getStanding)
}

func (h *LeaderboardHandler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	result, err := h.leaderboardService.GetLeaderboard(r.Context(), chi.URLParam(r, "contestID"), page, pageSize, q.Get("search"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

func (h *LeaderboardHandler) getStanding(w http.ResponseWriter, r *http.Request) {
	entry, err := h.leaderboardService.GetParticipantStanding(r.Context(), chi.URLParam(r, "contestID"), chi.URLParam(r, "userID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entry)
}
