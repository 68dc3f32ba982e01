package service

import (
	"context"
	"contest_engine/internal/app/scoring"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"contest_engine/internal/domain/repository"
	"errors"
	"log"
	"time"
)

// StandingBroadcaster pushes standing events to live listeners. Delivery is
// best-effort; the authoritative write never depends on it.
type StandingBroadcaster interface {
	Publish(ctx context.Context, event model.StandingEvent) error
	PublishEnded(ctx context.Context, contestID string) error
}

// StandingService applies judged-submission outcomes to participant
// aggregates. It is the only write path for participant rows: every update
// goes through the load / score / compare-and-swap loop so concurrent
// verdicts for the same participant are linearized by the version token.
type StandingService struct {
	contestRepo     repository.ContestRepository
	participantRepo repository.ParticipantRepository
	cache           ContestCache
	broadcaster     StandingBroadcaster
	settings        ScoreSettings
}

func NewStandingService(
	contestRepo repository.ContestRepository,
	participantRepo repository.ParticipantRepository,
	cache ContestCache,
	broadcaster StandingBroadcaster,
	settings ScoreSettings,
) *StandingService {
	return &StandingService{
		contestRepo:     contestRepo,
		participantRepo: participantRepo,
		cache:           cache,
		broadcaster:     broadcaster,
		settings:        settings,
	}
}

// ApplyVerdict folds one judge outcome into the participant's aggregate.
// Score maximization makes the effect idempotent, but submission counters
// increment on every call. After exhausting the retry budget the error is
// surfaced to the ingestion pipeline, which owns its own backlog policy.
func (s *StandingService) ApplyVerdict(ctx context.Context, contestID, userID, problemID string, verdict model.Verdict, verdictTime time.Time) error {
	if verdictTime.IsZero() {
		return common.Errorf("verdict time is required: %w", common.ErrValidation)
	}

	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	problems, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return err
	}
	var basePoints float64 = -1
	for _, cp := range problems {
		if cp.ProblemID == problemID {
			basePoints = cp.Points
			break
		}
	}
	if basePoints < 0 {
		return common.Errorf("problem %s is not part of contest %s: %w", problemID, contestID, common.ErrNotFound)
	}

	input := scoring.VerdictInput{
		ContestStart:    contest.StartTime,
		DurationMinutes: contest.DurationMinutes(),
		BasePoints:      basePoints,
		DecayRate:       s.settings.DecayRate(ctx),
		Verdict:         verdict,
		VerdictTime:     verdictTime,
	}

	maxAttempts := s.settings.MaxRetryAttempts(ctx)
	var participant *model.ContestParticipant
	for attempt := 1; ; attempt++ {
		participant, err = s.participantRepo.Find(ctx, contestID, userID)
		if err != nil {
			return err
		}

		scoring.Apply(participant, problemID, input)

		err = s.participantRepo.SaveCAS(ctx, participant)
		if err == nil {
			break
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return err
		}
		if attempt >= maxAttempts {
			return common.Errorf("verdict for user %s in contest %s lost %d compare-and-swap races: %w",
				userID, contestID, maxAttempts, common.ErrConflict)
		}
		log.Printf("INFO: Verdict write conflict for user %s in contest %s, attempt %d/%d", userID, contestID, attempt, maxAttempts)
		time.Sleep(s.settings.RetryDelay())
	}

	// The authoritative write succeeded. Cache and broadcast failures only
	// cost freshness (bounded by the cache TTL), never the caller's request.
	if err := s.cache.InvalidateContest(ctx, contestID, contest.Slug); err != nil {
		log.Printf("WARN: Cache invalidation failed after verdict for contest %s: %v", contestID, err)
	}
	s.broadcastStanding(ctx, contestID, participant, problems)
	return nil
}

func (s *StandingService) broadcastStanding(ctx context.Context, contestID string, p *model.ContestParticipant, problems []model.ContestProblem) {
	better, err := s.participantRepo.CountStrictlyBetter(ctx, contestID, p.SolvedCount, p.TotalScore, p.FinishTimeMs)
	if err != nil {
		log.Printf("WARN: Rank lookup failed for broadcast in contest %s: %v", contestID, err)
		return
	}
	entry := buildLeaderboardEntry(p, problems, better+1)
	event := model.StandingEvent{
		Type:      model.EventLeaderboardUpdate,
		ContestID: contestID,
		Timestamp: time.Now().UTC(),
		Entry:     &entry,
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		log.Printf("WARN: Standing broadcast failed for contest %s: %v", contestID, err)
	}
}
