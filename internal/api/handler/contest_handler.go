package handler

import (
	"context"
	"contest_engine/internal/api/middleware"
	"contest_engine/internal/app/service"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type ContestHandler struct {
	contestService *service.ContestService
}

func NewContestHandler(cs *service.ContestService) *ContestHandler {
	return &ContestHandler{contestService: cs}
}

func (h *ContestHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listContests)
	r.Get("/slug/{contestSlug}", h.getContestBySlug)
	r.Get("/{contestID}", h.getContest)
	r.Get("/{contestID}/problems", h.getProblems)

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.Authenticator)
		authed.Post("/{contestID}/join", h.join)
		authed.Delete("/{contestID}/join", h.unregister)
	})

	r.Group(func(organizer chi.Router) {
		organizer.Use(middleware.Authenticator)
		organizer.Use(middleware.OrganizerOnly)
		organizer.Post("/", h.createContest)
		organizer.Put("/{contestID}", h.updateContest)
		organizer.Delete("/{contestID}", h.deleteContest)
		organizer.Post("/{contestID}/schedule", h.scheduleContest)
		organizer.Post("/{contestID}/start", h.startContest)
		organizer.Post("/{contestID}/end", h.endContest)
		organizer.Post("/{contestID}/cancel", h.cancelContest)
		organizer.Post("/{contestID}/problems", h.attachProblem)
		organizer.Put("/{contestID}/problems/order", h.reorderProblems)
		organizer.Delete("/{contestID}/problems/{problemID}", h.removeProblem)
		organizer.Post("/sweep", h.sweep)
	})
}

func (h *ContestHandler) createContest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CreateContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	contest, err := h.contestService.CreateContest(r.Context(), userID, req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, contest)
}

func (h *ContestHandler) updateContest(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	contest, err := h.contestService.UpdateContest(r.Context(), chi.URLParam(r, "contestID"), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, contest)
}

func (h *ContestHandler) deleteContest(w http.ResponseWriter, r *http.Request) {
	if err := h.contestService.DeleteContest(r.Context(), chi.URLParam(r, "contestID")); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Contest deleted"})
}

func (h *ContestHandler) getContest(w http.ResponseWriter, r *http.Request) {
	contest, err := h.contestService.GetContest(r.Context(), chi.URLParam(r, "contestID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, contest)
}

func (h *ContestHandler) getContestBySlug(w http.ResponseWriter, r *http.Request) {
	contest, err := h.contestService.GetContestBySlug(r.Context(), chi.URLParam(r, "contestSlug"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, contest)
}

func (h *ContestHandler) listContests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	filter := model.ContestFilter{
		Status:       model.ContestStatus(q.Get("status")),
		RunningOnly:  q.Get("running") == "true",
		UpcomingOnly: q.Get("upcoming") == "true",
		Search:       q.Get("search"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid 'from' timestamp, expected RFC3339")
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid 'to' timestamp, expected RFC3339")
			return
		}
		filter.To = &t
	}

	contests, total, err := h.contestService.ListContests(r.Context(), filter, page, pageSize)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type PaginatedContestsResponse struct {
		Contests []model.Contest `json:"contests"`
		Total    int             `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedContestsResponse{
		Contests: contests,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *ContestHandler) scheduleContest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contestService.ScheduleContest, "Contest scheduled")
}

func (h *ContestHandler) startContest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contestService.StartContest, "Contest started")
}

func (h *ContestHandler) endContest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contestService.EndContest, "Contest ended")
}

func (h *ContestHandler) cancelContest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contestService.CancelContest, "Contest cancelled")
}

func (h *ContestHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, contestID string) error, message string) {
	if err := op(r.Context(), chi.URLParam(r, "contestID")); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (h *ContestHandler) attachProblem(w http.ResponseWriter, r *http.Request) {
	var req service.AttachProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	cp, err := h.contestService.AttachProblem(r.Context(), chi.URLParam(r, "contestID"), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, cp)
}

func (h *ContestHandler) removeProblem(w http.ResponseWriter, r *http.Request) {
	err := h.contestService.RemoveProblem(r.Context(), chi.URLParam(r, "contestID"), chi.URLParam(r, "problemID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Problem removed"})
}

func (h *ContestHandler) reorderProblems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProblemIDs []string `json:"problem_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	err := h.contestService.ReorderProblems(r.Context(), chi.URLParam(r, "contestID"), req.ProblemIDs)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Problem order updated"})
}

func (h *ContestHandler) getProblems(w http.ResponseWriter, r *http.Request) {
	role, _ := middleware.GetUserRoleFromContext(r.Context())
	problems, err := h.contestService.GetProblems(r.Context(), chi.URLParam(r, "contestID"), role == model.RoleOrganizer)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problems)
}

func (h *ContestHandler) join(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	participant, err := h.contestService.Join(r.Context(), chi.URLParam(r, "contestID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, participant)
}

func (h *ContestHandler) unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	err := h.contestService.Unregister(r.Context(), chi.URLParam(r, "contestID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Unregistered"})
}

func (h *ContestHandler) sweep(w http.ResponseWriter, r *http.Request) {
	started, ended, err := h.contestService.Sweep(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]int64{"started": started, "ended": ended})
}
