// Package broadcast fans standing-update events out to live listeners. The
// source of truth is a Redis pub/sub channel per contest; each process holds
// at most one real subscription per channel and multiplexes it to its local
// listeners, so N websocket clients for the same contest cost one network
// subscription.
package broadcast

import (
	"context"
	"contest_engine/internal/domain/model"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChannelName is the pub/sub channel carrying a contest's standing events.
func ChannelName(contestID string) string {
	return "contest:" + contestID + ":leaderboard"
}

type contestChannel struct {
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	listeners map[int]chan model.StandingEvent
	nextID    int
	closed    bool
}

type Hub struct {
	rdb               *redis.Client
	heartbeatInterval time.Duration

	mu       sync.Mutex
	channels map[string]*contestChannel
}

func NewHub(rdb *redis.Client, heartbeatInterval time.Duration) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Hub{
		rdb:               rdb,
		heartbeatInterval: heartbeatInterval,
		channels:          make(map[string]*contestChannel),
	}
}

// Publish sends a standing event to every instance subscribed to the
// contest's channel, this process included.
func (h *Hub) Publish(ctx context.Context, event model.StandingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broadcast.Publish marshal: %w", err)
	}
	if err := h.rdb.Publish(ctx, ChannelName(event.ContestID), payload).Err(); err != nil {
		return fmt.Errorf("broadcast.Publish: %w", err)
	}
	return nil
}

// PublishEnded emits the terminal event for a contest. Listeners are closed
// when it arrives back through the subscription.
func (h *Hub) PublishEnded(ctx context.Context, contestID string) error {
	return h.Publish(ctx, model.StandingEvent{
		Type:      model.EventContestEnded,
		ContestID: contestID,
		Timestamp: time.Now().UTC(),
	})
}

// Subscribe registers a local listener for a contest's standing events and
// returns its channel plus an unsubscribe func. The first listener opens the
// underlying Redis subscription and starts the heartbeat ticker; the last
// one leaving tears both down.
func (h *Hub) Subscribe(ctx context.Context, contestID string) (<-chan model.StandingEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cc, ok := h.channels[contestID]
	if !ok {
		runCtx, cancel := context.WithCancel(context.Background())
		cc = &contestChannel{
			pubsub:    h.rdb.Subscribe(ctx, ChannelName(contestID)),
			cancel:    cancel,
			listeners: make(map[int]chan model.StandingEvent),
		}
		h.channels[contestID] = cc
		go h.relay(runCtx, contestID, cc)
		go h.heartbeat(runCtx, contestID)
	}

	id := cc.nextID
	cc.nextID++
	ch := make(chan model.StandingEvent, 16)
	cc.listeners[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.channels[contestID]
		if !ok || cur != cc {
			return
		}
		if lch, ok := cc.listeners[id]; ok {
			delete(cc.listeners, id)
			close(lch)
		}
		if len(cc.listeners) == 0 {
			h.teardownLocked(contestID, cc)
		}
	}
	return ch, unsubscribe
}

// relay pumps the Redis subscription into the local listeners.
func (h *Hub) relay(ctx context.Context, contestID string, cc *contestChannel) {
	msgCh := cc.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var event model.StandingEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("WARN: Dropping malformed broadcast payload on %s: %v", msg.Channel, err)
				continue
			}
			h.dispatch(contestID, event)
			if event.Type == model.EventContestEnded {
				h.closeContest(contestID)
				return
			}
		}
	}
}

// heartbeat emits periodic keep-alive events to local listeners, independent
// of real data events.
func (h *Hub) heartbeat(ctx context.Context, contestID string) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.dispatch(contestID, model.StandingEvent{
				Type:      model.EventHeartbeat,
				ContestID: contestID,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// dispatch fans one event out to the contest's local listeners. A listener
// whose buffer is full has the event dropped rather than blocking the hub.
func (h *Hub) dispatch(contestID string, event model.StandingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cc, ok := h.channels[contestID]
	if !ok {
		return
	}
	for _, ch := range cc.listeners {
		select {
		case ch <- event:
		default:
		}
	}
}

// closeContest closes all local listeners after the terminal event and tears
// the channel down.
func (h *Hub) closeContest(contestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cc, ok := h.channels[contestID]
	if !ok {
		return
	}
	for id, ch := range cc.listeners {
		delete(cc.listeners, id)
		close(ch)
	}
	h.teardownLocked(contestID, cc)
}

func (h *Hub) teardownLocked(contestID string, cc *contestChannel) {
	if cc.closed {
		return
	}
	cc.closed = true
	cc.cancel()
	if cc.pubsub != nil {
		if err := cc.pubsub.Close(); err != nil {
			log.Printf("WARN: Failed to close subscription for contest %s: %v", contestID, err)
		}
	}
	delete(h.channels, contestID)
}

// Close tears down every open channel; used on process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.closeContest(id)
	}
}
