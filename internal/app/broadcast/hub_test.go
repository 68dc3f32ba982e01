package broadcast

import (
	"context"
	"contest_engine/internal/domain/model"
	"testing"
	"time"
)

// newLocalChannel wires a contest channel without a Redis subscription so
// the fan-out paths can be exercised in isolation.
func newLocalChannel(h *Hub, contestID string) (*contestChannel, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	cc := &contestChannel{
		cancel:    cancel,
		listeners: make(map[int]chan model.StandingEvent),
	}
	h.channels[contestID] = cc
	return cc, ctx
}

func addListener(cc *contestChannel, buffer int) chan model.StandingEvent {
	ch := make(chan model.StandingEvent, buffer)
	cc.listeners[cc.nextID] = ch
	cc.nextID++
	return ch
}

func TestDispatchFansOutToAllListeners(t *testing.T) {
	h := NewHub(nil, time.Minute)
	cc, _ := newLocalChannel(h, "c1")
	a := addListener(cc, 16)
	b := addListener(cc, 16)

	h.dispatch("c1", model.StandingEvent{Type: model.EventLeaderboardUpdate, ContestID: "c1"})

	for name, ch := range map[string]chan model.StandingEvent{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != model.EventLeaderboardUpdate {
				t.Fatalf("listener %s got wrong event type %s", name, ev.Type)
			}
		default:
			t.Fatalf("listener %s did not receive the event", name)
		}
	}
}

func TestDispatchDropsForSlowListener(t *testing.T) {
	h := NewHub(nil, time.Minute)
	cc, _ := newLocalChannel(h, "c1")
	slow := addListener(cc, 1)
	fast := addListener(cc, 16)

	// Fill the slow listener's buffer, then dispatch twice more.
	h.dispatch("c1", model.StandingEvent{Type: model.EventLeaderboardUpdate, ContestID: "c1"})
	h.dispatch("c1", model.StandingEvent{Type: model.EventLeaderboardUpdate, ContestID: "c1"})
	h.dispatch("c1", model.StandingEvent{Type: model.EventLeaderboardUpdate, ContestID: "c1"})

	if got := len(slow); got != 1 {
		t.Fatalf("slow listener should hold exactly its buffer, got %d", got)
	}
	if got := len(fast); got != 3 {
		t.Fatalf("fast listener should have all events, got %d", got)
	}
}

func TestCloseContestClosesListenersAndRemovesChannel(t *testing.T) {
	h := NewHub(nil, time.Minute)
	cc, ctx := newLocalChannel(h, "c1")
	ch := addListener(cc, 16)

	h.dispatch("c1", model.StandingEvent{Type: model.EventContestEnded, ContestID: "c1"})
	h.closeContest("c1")

	// Terminal event delivered, then the channel closes.
	ev, ok := <-ch
	if !ok || ev.Type != model.EventContestEnded {
		t.Fatalf("expected terminal event before close, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("listener channel should be closed after the terminal event")
	}
	if _, exists := h.channels["c1"]; exists {
		t.Fatal("contest channel should be removed after teardown")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("channel context should be cancelled on teardown")
	}
}

func TestHeartbeatEmitsPeriodically(t *testing.T) {
	h := NewHub(nil, 10*time.Millisecond)
	cc, ctx := newLocalChannel(h, "c1")
	ch := addListener(cc, 16)

	go h.heartbeat(ctx, "c1")
	defer h.closeContest("c1")

	select {
	case ev := <-ch:
		if ev.Type != model.EventHeartbeat {
			t.Fatalf("expected heartbeat, got %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("heartbeat must carry a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat within deadline")
	}
}

func TestUnsubscribeLastListenerTearsDown(t *testing.T) {
	h := NewHub(nil, time.Minute)
	cc, _ := newLocalChannel(h, "c1")

	// Mirror what Subscribe's unsubscribe closure does for the last listener.
	ch := addListener(cc, 16)
	h.mu.Lock()
	delete(cc.listeners, 0)
	close(ch)
	if len(cc.listeners) == 0 {
		h.teardownLocked("c1", cc)
	}
	h.mu.Unlock()

	if _, exists := h.channels["c1"]; exists {
		t.Fatal("channel should be removed once the last listener leaves")
	}
}
