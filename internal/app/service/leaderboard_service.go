package service

import (
	"context"
	"contest_engine/internal/domain/model"
	"contest_engine/internal/domain/repository"
	"log"
	"time"
)

const (
	DefaultLeaderboardPageSize = 50
	MaxLeaderboardPageSize     = 200
)

// LeaderboardService serves ranked standings pages. Reads go through the
// shared cache; the updater invalidates on every successful verdict write, so
// the TTL only bounds staleness when invalidation itself fails.
type LeaderboardService struct {
	contestRepo     repository.ContestRepository
	participantRepo repository.ParticipantRepository
	cache           ContestCache
	cacheTTL        time.Duration
}

func NewLeaderboardService(
	contestRepo repository.ContestRepository,
	participantRepo repository.ParticipantRepository,
	cache ContestCache,
	cacheTTL time.Duration,
) *LeaderboardService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &LeaderboardService{
		contestRepo:     contestRepo,
		participantRepo: participantRepo,
		cache:           cache,
		cacheTTL:        cacheTTL,
	}
}

// GetLeaderboard returns one page of dense-ranked standings. Ties on the full
// (solvedCount, totalScore, finishTime) tuple share a rank and the next
// distinct tuple takes rank+1, so page boundaries never split a tie group's
// rank value.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, contestID string, page, pageSize int, search string) (*model.LeaderboardPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultLeaderboardPageSize
	}
	if pageSize > MaxLeaderboardPageSize {
		pageSize = MaxLeaderboardPageSize
	}

	cacheKey := cacheKeyLeaderboard(contestID, page, pageSize, search)
	cached := &model.LeaderboardPage{}
	if hit, err := s.cache.GetJSON(ctx, cacheKey, cached); err != nil {
		log.Printf("WARN: Leaderboard cache read failed for contest %s: %v", contestID, err)
	} else if hit {
		return cached, nil
	}

	if _, err := s.contestRepo.FindContestByID(ctx, contestID); err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize
	participants, total, err := s.participantRepo.ListRanked(ctx, contestID, search, pageSize, offset)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(participants))
	if search == "" {
		// An unfiltered page is a contiguous slice of the full ordering, so
		// one outrank count anchors the first row and ties are walked locally.
		rank := 0
		for i, p := range participants {
			if i == 0 {
				better, err := s.participantRepo.CountStrictlyBetter(ctx, contestID, p.SolvedCount, p.TotalScore, p.FinishTimeMs)
				if err != nil {
					return nil, err
				}
				rank = better + 1
			} else if !sameStanding(&participants[i-1], &p) {
				rank++
			}
			entries = append(entries, buildLeaderboardEntry(&p, problems, rank))
		}
	} else {
		// A filtered page has gaps, so each row keeps its global rank.
		for i := range participants {
			p := &participants[i]
			better, err := s.participantRepo.CountStrictlyBetter(ctx, contestID, p.SolvedCount, p.TotalScore, p.FinishTimeMs)
			if err != nil {
				return nil, err
			}
			entries = append(entries, buildLeaderboardEntry(p, problems, better+1))
		}
	}

	result := &model.LeaderboardPage{
		ContestID: contestID,
		Entries:   entries,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	}
	if err := s.cache.SetJSON(ctx, cacheKey, result, s.cacheTTL); err != nil {
		log.Printf("WARN: Leaderboard cache write failed for contest %s: %v", contestID, err)
	}
	return result, nil
}

// GetParticipantStanding returns one participant's current entry with their
// global dense rank, bypassing the page cache.
func (s *LeaderboardService) GetParticipantStanding(ctx context.Context, contestID, userID string) (*model.LeaderboardEntry, error) {
	participant, err := s.participantRepo.Find(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return nil, err
	}
	better, err := s.participantRepo.CountStrictlyBetter(ctx, contestID, participant.SolvedCount, participant.TotalScore, participant.FinishTimeMs)
	if err != nil {
		return nil, err
	}
	entry := buildLeaderboardEntry(participant, problems, better+1)
	return &entry, nil
}

func sameStanding(a, b *model.ContestParticipant) bool {
	return a.SolvedCount == b.SolvedCount && a.TotalScore == b.TotalScore && a.FinishTimeMs == b.FinishTimeMs
}

// buildLeaderboardEntry projects the aggregate row into its presentation
// shape, one cell per contest problem in display order.
func buildLeaderboardEntry(p *model.ContestParticipant, problems []model.ContestProblem, rank int) model.LeaderboardEntry {
	cells := make([]model.ProblemCell, 0, len(problems))
	for _, cp := range problems {
		cell := model.ProblemCell{
			ProblemID: cp.ProblemID,
			Label:     cp.Label,
			Status:    model.ProblemNotStarted,
		}
		if ps, ok := p.ProblemScores[cp.ProblemID]; ok {
			cell.Score = ps.Score
			cell.SubmissionCount = ps.SubmissionCount
			switch {
			case ps.FirstAcceptedTime != nil:
				cell.Status = model.ProblemSolved
			case ps.SubmissionCount > 0:
				cell.Status = model.ProblemAttempted
			}
		}
		cells = append(cells, cell)
	}
	return model.LeaderboardEntry{
		Rank:             rank,
		UserID:           p.UserID,
		TotalScore:       p.TotalScore,
		SolvedCount:      p.SolvedCount,
		FinishTimeMs:     p.FinishTimeMs,
		TotalSubmissions: p.TotalSubmissions,
		Problems:         cells,
	}
}
