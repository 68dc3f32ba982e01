package handler

import (
	"contest_engine/internal/app/broadcast"
	"contest_engine/internal/app/service"
	"contest_engine/internal/common"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler serves the live leaderboard websocket. Each connection gets
// its own subscription on the contest's broadcast channel; the hub closes the
// event channel after the terminal contest_ended event.
type StreamHandler struct {
	contestService *service.ContestService
	hub            *broadcast.Hub
}

func NewStreamHandler(cs *service.ContestService, hub *broadcast.Hub) *StreamHandler {
	return &StreamHandler{contestService: cs, hub: hub}
}

func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{contestID}/live", h.streamLeaderboard)
}

func (h *StreamHandler) streamLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")
	if _, err := h.contestService.GetContest(r.Context(), contestID); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: Failed to upgrade websocket for contest %s: %v", contestID, err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(r.Context(), contestID)
	defer unsubscribe()

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		// Discard client frames; the stream is one-way. Read errors mean the
		// client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Printf("WARN: Websocket closed unexpectedly for contest %s: %v", contestID, err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-clientClosed:
			return
		case event, ok := <-events:
			if !ok {
				// Contest ended; the terminal event was already delivered.
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("ERROR: Failed to marshal standing event for contest %s: %v", contestID, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
