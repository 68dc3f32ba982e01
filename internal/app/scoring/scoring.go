// Package scoring implements the time-decay score computation and the
// per-participant aggregate arithmetic. It performs no I/O; malformed input
// indicates a data-integrity bug upstream and panics.
package scoring

import (
	"contest_engine/internal/domain/model"
	"fmt"
	"math"
	"time"
)

// Round2 rounds to 2 decimal places, half up, on the scaled integer.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// ProblemPoints computes the decayed score for an accepted verdict.
//
//	elapsedMinutes = max(0, verdictTime - contestStart) / 60000
//	decayFactor    = min(1, elapsedMinutes/durationMinutes * decayRate)
//	score          = round2(basePoints * (1 - decayFactor))
//
// A non-positive duration or base point value short-circuits to the base
// points with no decay applied.
func ProblemPoints(basePoints float64, contestStart time.Time, durationMinutes int, verdictTime time.Time, decayRate float64) float64 {
	if durationMinutes <= 0 || basePoints <= 0 {
		return basePoints
	}
	elapsedMs := verdictTime.Sub(contestStart).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	elapsedMinutes := float64(elapsedMs) / 60000.0
	decayFactor := elapsedMinutes / float64(durationMinutes) * decayRate
	if decayFactor > 1 {
		decayFactor = 1
	}
	return Round2(basePoints * (1 - decayFactor))
}

// VerdictInput carries everything Apply needs to fold one judged submission
// into a participant aggregate.
type VerdictInput struct {
	ContestStart    time.Time
	DurationMinutes int
	BasePoints      float64
	DecayRate       float64
	Verdict         model.Verdict
	VerdictTime     time.Time
}

// Apply folds one verdict into the participant's per-problem state and
// recomputes the aggregate totals. The stored per-problem score never
// decreases: a later accepted resubmission with a lower decayed score keeps
// the previous maximum. firstAcceptedTime is latched on the first accepted
// verdict only. Every verdict, accepted or not, increments the submission
// counters.
func Apply(p *model.ContestParticipant, problemID string, in VerdictInput) {
	if p == nil || problemID == "" {
		panic(fmt.Sprintf("scoring.Apply: invalid input (participant=%v, problemID=%q)", p, problemID))
	}
	if in.VerdictTime.IsZero() {
		panic("scoring.Apply: zero verdict time")
	}
	if p.ProblemScores == nil {
		p.ProblemScores = make(map[string]model.ProblemScore)
	}

	ps := p.ProblemScores[problemID]
	ps.SubmissionCount++
	ps.LastSubmitTime = in.VerdictTime

	if in.Verdict.IsAccepted() {
		score := ProblemPoints(in.BasePoints, in.ContestStart, in.DurationMinutes, in.VerdictTime, in.DecayRate)
		if score > ps.Score {
			ps.Score = score
		}
		if ps.FirstAcceptedTime == nil {
			t := in.VerdictTime
			ps.FirstAcceptedTime = &t
		}
	}
	p.ProblemScores[problemID] = ps

	p.TotalSubmissions++
	t := in.VerdictTime
	p.LastSubmissionAt = &t

	Recompute(p, in.ContestStart)
}

// Recompute rebuilds the aggregate totals from the per-problem mapping:
// totalScore is the sum of problem scores, solvedCount the number of
// problems with an accepted verdict, and finishTime the cumulative
// time-to-accept in milliseconds over solved problems.
func Recompute(p *model.ContestParticipant, contestStart time.Time) {
	var total float64
	var solved int
	var finishMs int64

	for _, ps := range p.ProblemScores {
		total += ps.Score
		if ps.FirstAcceptedTime != nil {
			solved++
			elapsed := ps.FirstAcceptedTime.Sub(contestStart).Milliseconds()
			if elapsed < 0 {
				elapsed = 0
			}
			finishMs += elapsed
		}
	}

	p.TotalScore = Round2(total)
	p.SolvedCount = solved
	p.FinishTimeMs = finishMs
}
