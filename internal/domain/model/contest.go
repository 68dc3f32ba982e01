package model

import (
	"contest_engine/internal/common"
	"time"
)

type ContestStatus string

const (
	StatusDraft     ContestStatus = "DRAFT"
	StatusScheduled ContestStatus = "SCHEDULED"
	StatusRunning   ContestStatus = "RUNNING"
	StatusEnded     ContestStatus = "ENDED"
	StatusCancelled ContestStatus = "CANCELLED"
)

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 7 * 1440
)

type Contest struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Slug             string        `json:"slug"`
	Description      string        `json:"description"`
	Rules            string        `json:"rules"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Status           ContestStatus `json:"status"`
	ParticipantCount int           `json:"participant_count"`
	MaxParticipants  int           `json:"max_participants"` // 0 = unlimited
	CreatedByID      string        `json:"created_by_id"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Problems         []ContestProblem `json:"problems,omitempty"`
}

// DurationMinutes is derived from the timing window.
func (c *Contest) DurationMinutes() int {
	return int(c.EndTime.Sub(c.StartTime) / time.Minute)
}

// ValidateWindow checks the timing invariants: end after start and a
// duration between 15 minutes and 7 days.
func (c *Contest) ValidateWindow() error {
	if !c.EndTime.After(c.StartTime) {
		return common.Errorf("end time must be after start time: %w", common.ErrValidation)
	}
	d := c.DurationMinutes()
	if d < MinDurationMinutes || d > MaxDurationMinutes {
		return common.Errorf("contest duration must be between %d and %d minutes, got %d: %w",
			MinDurationMinutes, MaxDurationMinutes, d, common.ErrValidation)
	}
	return nil
}

// CanTransitionTo encodes the lifecycle state machine:
// DRAFT -> SCHEDULED -> RUNNING -> ENDED, with CANCELLED reachable from any
// non-ENDED state. ENDED and CANCELLED are terminal.
func (s ContestStatus) CanTransitionTo(next ContestStatus) bool {
	switch next {
	case StatusScheduled:
		return s == StatusDraft
	case StatusRunning:
		return s == StatusScheduled
	case StatusEnded:
		return s == StatusRunning || s == StatusScheduled
	case StatusCancelled:
		return s != StatusEnded && s != StatusCancelled
	default:
		return false
	}
}

// IsDeletable: contests are only physically removed before publication or
// after cancellation.
func (s ContestStatus) IsDeletable() bool {
	return s == StatusDraft || s == StatusCancelled
}

// ProblemSetFrozen: the problem set cannot change once the contest has
// started (or finished).
func (s ContestStatus) ProblemSetFrozen() bool {
	return s == StatusRunning || s == StatusEnded
}

type ContestFilter struct {
	Status       ContestStatus
	RunningOnly  bool
	UpcomingOnly bool
	From         *time.Time
	To           *time.Time
	Search       string
}
