package model

import "time"

// ContestProblem is the assignment of a problem to a contest. The problem
// statement itself lives in the external catalog; only the contest-specific
// point value and ordering are kept here.
type ContestProblem struct {
	ContestID  string    `json:"contest_id"`
	ProblemID  string    `json:"problem_id"`
	Points     float64   `json:"points"`
	OrderIndex int       `json:"order_index"`
	Label      string    `json:"label"` // A, B, C, ... derived from OrderIndex
	CreatedAt  time.Time `json:"created_at"`
}

const DefaultProblemPoints = 100

// LabelForIndex derives the display label from a zero-based order index:
// 0 -> A, 25 -> Z, 26 -> AA, in spreadsheet-column fashion.
func LabelForIndex(index int) string {
	if index < 0 {
		return ""
	}
	label := ""
	n := index
	for {
		label = string(rune('A'+n%26)) + label
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return label
}
