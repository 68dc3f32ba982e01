package model

import "time"

type ProblemStatus string

const (
	ProblemSolved     ProblemStatus = "SOLVED"
	ProblemAttempted  ProblemStatus = "ATTEMPTED"
	ProblemNotStarted ProblemStatus = "NOT_STARTED"
)

// ProblemCell is one leaderboard column for one participant, in the
// contest's display order.
type ProblemCell struct {
	ProblemID       string        `json:"problem_id"`
	Label           string        `json:"label"`
	Status          ProblemStatus `json:"status"`
	Score           float64       `json:"score"`
	SubmissionCount int           `json:"submission_count"`
}

type LeaderboardEntry struct {
	Rank             int           `json:"rank"`
	UserID           string        `json:"user_id"`
	TotalScore       float64       `json:"total_score"`
	SolvedCount      int           `json:"solved_count"`
	FinishTimeMs     int64         `json:"finish_time_ms"`
	TotalSubmissions int           `json:"total_submissions"`
	Problems         []ProblemCell `json:"problems"`
}

type LeaderboardPage struct {
	ContestID string             `json:"contest_id"`
	Entries   []LeaderboardEntry `json:"entries"`
	Total     int                `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
}

// Live update event kinds carried on the per-contest broadcast channel.
const (
	EventLeaderboardUpdate = "leaderboard_update"
	EventHeartbeat         = "heartbeat"
	EventContestEnded      = "contest_ended"
)

type StandingEvent struct {
	Type      string            `json:"type"`
	ContestID string            `json:"contest_id"`
	Timestamp time.Time         `json:"timestamp"`
	Entry     *LeaderboardEntry `json:"entry,omitempty"` // set for leaderboard_update
}
