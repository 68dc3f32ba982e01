package worker

import (
	"context"
	"contest_engine/internal/app/service"
	"log"
	"time"
)

// SweepWorker periodically runs the contest status sweep so SCHEDULED
// contests start and RUNNING contests end on time even when no request
// traffic touches them. The sweep is also exposed over HTTP for external
// schedulers; both paths share the same bulk conditional updates, so
// overlapping runs are harmless.
type SweepWorker struct {
	contestService *service.ContestService
	interval       time.Duration
}

func NewSweepWorker(contestService *service.ContestService, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SweepWorker{
		contestService: contestService,
		interval:       interval,
	}
}

func (w *SweepWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *SweepWorker) run(ctx context.Context) {
	log.Printf("INFO: Sweep worker started, interval %s", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Catch up immediately on boot in case the process was down across a
	// contest boundary.
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("INFO: Sweep worker stopping...")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	if _, _, err := w.contestService.Sweep(ctx); err != nil {
		log.Printf("ERROR: Contest status sweep failed: %v", err)
	}
}
