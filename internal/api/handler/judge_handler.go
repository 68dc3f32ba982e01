package handler

import (
	"contest_engine/internal/app/service"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// JudgeResultPayload is the callback body posted by the external judge once a
// submission has been evaluated.
type JudgeResultPayload struct {
	ContestID   string        `json:"contest_id"`
	UserID      string        `json:"user_id"`
	ProblemID   string        `json:"problem_id"`
	Verdict     model.Verdict `json:"verdict"`
	VerdictTime time.Time     `json:"verdict_time"`
}

type JudgeHandler struct {
	standingService *service.StandingService
	webhookSecret   string
}

func NewJudgeHandler(ss *service.StandingService, webhookSecret string) *JudgeHandler {
	return &JudgeHandler{standingService: ss, webhookSecret: webhookSecret}
}

func (h *JudgeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/judge", h.handleJudgeResult)
}

func (h *JudgeHandler) handleJudgeResult(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" && r.Header.Get("X-Webhook-Secret") != h.webhookSecret {
		common.RespondWithError(w, http.StatusUnauthorized, "Invalid webhook secret")
		return
	}

	var payload JudgeResultPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("ERROR: Judge webhook: Invalid payload: %v", err)
		common.RespondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	defer r.Body.Close()

	if payload.ContestID == "" || payload.UserID == "" || payload.ProblemID == "" {
		common.RespondWithError(w, http.StatusBadRequest, "contest_id, user_id and problem_id are required")
		return
	}

	err := h.standingService.ApplyVerdict(r.Context(), payload.ContestID, payload.UserID, payload.ProblemID, payload.Verdict, payload.VerdictTime)
	if err != nil {
		log.Printf("ERROR: Judge webhook: Failed to apply verdict for user %s in contest %s: %v", payload.UserID, payload.ContestID, err)
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Verdict applied"})
}
