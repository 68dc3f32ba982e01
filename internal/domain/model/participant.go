package model

import "time"

type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictCompilationError    Verdict = "CompilationError"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictSystemError         Verdict = "SystemError"
)

// IsAccepted reports whether the verdict counts for scoring. Every other
// verdict still increments submission counters.
func (v Verdict) IsAccepted() bool {
	return v == VerdictAccepted
}

// ProblemScore is a participant's running state for one contest problem. It
// is embedded in the participant row (serialized as a JSON blob at the
// storage boundary) so one submission event is one atomic write.
type ProblemScore struct {
	Score             float64    `json:"score"`
	SubmissionCount   int        `json:"submission_count"`
	LastSubmitTime    time.Time  `json:"last_submit_time"`
	FirstAcceptedTime *time.Time `json:"first_accepted_time,omitempty"`
}

// ContestParticipant is the aggregate row contended over by concurrent
// verdict events. Version is the optimistic-concurrency token: writes only
// succeed when it is unchanged since load.
type ContestParticipant struct {
	ContestID        string                  `json:"contest_id"`
	UserID           string                  `json:"user_id"`
	TotalScore       float64                 `json:"total_score"`
	SolvedCount      int                     `json:"solved_count"`
	FinishTimeMs     int64                   `json:"finish_time_ms"`
	TotalSubmissions int                     `json:"total_submissions"`
	LastSubmissionAt *time.Time              `json:"last_submission_at,omitempty"`
	ProblemScores    map[string]ProblemScore `json:"problem_scores"`
	Version          int64                   `json:"-"`
	JoinedAt         time.Time               `json:"joined_at"`
}
