package service

import (
	"context"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"contest_engine/internal/domain/repository"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// In-memory doubles for the repository, cache and broadcast boundaries.

type fakeContestRepo struct {
	contests map[string]*model.Contest
	problems map[string][]model.ContestProblem

	dueScheduled   []repository.ContestRef
	expiredRunning []repository.ContestRef
	sweepStarted   int64
	sweepEnded     int64
}

func newFakeContestRepo() *fakeContestRepo {
	return &fakeContestRepo{
		contests: make(map[string]*model.Contest),
		problems: make(map[string][]model.ContestProblem),
	}
}

func (r *fakeContestRepo) CreateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	for _, existing := range r.contests {
		if existing.Slug == c.Slug {
			return fmt.Errorf("contest with this slug already exists: %w", common.ErrConflict)
		}
	}
	cp := *c
	r.contests[c.ID] = &cp
	return nil
}

func (r *fakeContestRepo) UpdateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	if _, ok := r.contests[c.ID]; !ok {
		return common.ErrNotFound
	}
	cp := *c
	r.contests[c.ID] = &cp
	return nil
}

func (r *fakeContestRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, contestID string, from, to model.ContestStatus) (bool, error) {
	c, ok := r.contests[contestID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *fakeContestRepo) DeleteContest(ctx context.Context, contestID string) error {
	if _, ok := r.contests[contestID]; !ok {
		return common.ErrNotFound
	}
	delete(r.contests, contestID)
	delete(r.problems, contestID)
	return nil
}

func (r *fakeContestRepo) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	c, ok := r.contests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContestRepo) FindContestBySlug(ctx context.Context, slug string) (*model.Contest, error) {
	for _, c := range r.contests {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeContestRepo) ListContests(ctx context.Context, filter model.ContestFilter, limit, offset int) ([]model.Contest, int, error) {
	out := []model.Contest{}
	for _, c := range r.contests {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *fakeContestRepo) SweepStatuses(ctx context.Context, now time.Time) (int64, int64, error) {
	var started, ended int64
	for _, ref := range r.dueScheduled {
		if c, ok := r.contests[ref.ID]; ok && c.Status == model.StatusScheduled {
			c.Status = model.StatusRunning
			started++
		}
	}
	for _, ref := range r.expiredRunning {
		if c, ok := r.contests[ref.ID]; ok && c.Status == model.StatusRunning {
			c.Status = model.StatusEnded
			ended++
		}
	}
	r.sweepStarted, r.sweepEnded = started, ended
	return started, ended, nil
}

func (r *fakeContestRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]repository.ContestRef, error) {
	return r.dueScheduled, nil
}

func (r *fakeContestRepo) ListExpiredRunning(ctx context.Context, now time.Time) ([]repository.ContestRef, error) {
	return r.expiredRunning, nil
}

func (r *fakeContestRepo) AttachProblem(ctx context.Context, tx *sql.Tx, cp *model.ContestProblem) error {
	for _, existing := range r.problems[cp.ContestID] {
		if existing.ProblemID == cp.ProblemID {
			return fmt.Errorf("problem already attached: %w", common.ErrConflict)
		}
	}
	r.problems[cp.ContestID] = append(r.problems[cp.ContestID], *cp)
	return nil
}

func (r *fakeContestRepo) RemoveProblem(ctx context.Context, tx *sql.Tx, contestID, problemID string) error {
	list := r.problems[contestID]
	for i, cp := range list {
		if cp.ProblemID == problemID {
			r.problems[contestID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeContestRepo) ListProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error) {
	list := append([]model.ContestProblem{}, r.problems[contestID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].OrderIndex < list[j].OrderIndex })
	for i := range list {
		list[i].Label = model.LabelForIndex(i)
	}
	return list, nil
}

func (r *fakeContestRepo) SetProblemOrder(ctx context.Context, tx *sql.Tx, contestID string, orderedProblemIDs []string) error {
	pos := make(map[string]int, len(orderedProblemIDs))
	for i, id := range orderedProblemIDs {
		pos[id] = i
	}
	list := r.problems[contestID]
	for i := range list {
		if p, ok := pos[list[i].ProblemID]; ok {
			list[i].OrderIndex = p
		}
	}
	return nil
}

type fakeParticipantRepo struct {
	participants map[string]*model.ContestParticipant

	full        bool // capacity exhausted
	casFailures int  // SaveCAS calls to reject before accepting
	casCalls    int
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{participants: make(map[string]*model.ContestParticipant)}
}

func participantKey(contestID, userID string) string {
	return contestID + "/" + userID
}

func (r *fakeParticipantRepo) Register(ctx context.Context, contestID, userID string) (bool, error) {
	key := participantKey(contestID, userID)
	if _, ok := r.participants[key]; ok {
		return false, nil
	}
	if r.full {
		return false, fmt.Errorf("contest is full: %w", common.ErrConflict)
	}
	r.participants[key] = &model.ContestParticipant{
		ContestID:     contestID,
		UserID:        userID,
		ProblemScores: make(map[string]model.ProblemScore),
		JoinedAt:      time.Now(),
	}
	return true, nil
}

func (r *fakeParticipantRepo) Unregister(ctx context.Context, contestID, userID string) error {
	key := participantKey(contestID, userID)
	if _, ok := r.participants[key]; !ok {
		return common.ErrNotFound
	}
	delete(r.participants, key)
	return nil
}

func (r *fakeParticipantRepo) Find(ctx context.Context, contestID, userID string) (*model.ContestParticipant, error) {
	p, ok := r.participants[participantKey(contestID, userID)]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *p
	cp.ProblemScores = make(map[string]model.ProblemScore, len(p.ProblemScores))
	for k, v := range p.ProblemScores {
		cp.ProblemScores[k] = v
	}
	return &cp, nil
}

func (r *fakeParticipantRepo) SaveCAS(ctx context.Context, p *model.ContestParticipant) error {
	r.casCalls++
	if r.casFailures > 0 {
		r.casFailures--
		return common.ErrVersionConflict
	}
	stored, ok := r.participants[participantKey(p.ContestID, p.UserID)]
	if !ok || stored.Version != p.Version {
		return common.ErrVersionConflict
	}
	cp := *p
	cp.Version++
	r.participants[participantKey(p.ContestID, p.UserID)] = &cp
	p.Version++
	return nil
}

func (r *fakeParticipantRepo) ListRanked(ctx context.Context, contestID, search string, limit, offset int) ([]model.ContestParticipant, int, error) {
	all := []model.ContestParticipant{}
	for _, p := range r.participants {
		if p.ContestID != contestID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.UserID), strings.ToLower(search)) {
			continue
		}
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.SolvedCount != b.SolvedCount {
			return a.SolvedCount > b.SolvedCount
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.FinishTimeMs != b.FinishTimeMs {
			return a.FinishTimeMs < b.FinishTimeMs
		}
		return a.UserID < b.UserID
	})
	total := len(all)
	if offset >= len(all) {
		return []model.ContestParticipant{}, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *fakeParticipantRepo) CountStrictlyBetter(ctx context.Context, contestID string, solvedCount int, totalScore float64, finishTimeMs int64) (int, error) {
	type tuple struct {
		solved int
		score  float64
		finish int64
	}
	seen := make(map[tuple]bool)
	for _, p := range r.participants {
		if p.ContestID != contestID {
			continue
		}
		better := p.SolvedCount > solvedCount ||
			(p.SolvedCount == solvedCount && p.TotalScore > totalScore) ||
			(p.SolvedCount == solvedCount && p.TotalScore == totalScore && p.FinishTimeMs < finishTimeMs)
		if better {
			seen[tuple{p.SolvedCount, p.TotalScore, p.FinishTimeMs}] = true
		}
	}
	return len(seen), nil
}

type fakeCache struct {
	store         map[string][]byte
	invalidations []string
	getErr        error
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]byte)}
}

func (c *fakeCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.getErr != nil {
		return false, c.getErr
	}
	data, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store[key] = data
	return nil
}

func (c *fakeCache) InvalidateContest(ctx context.Context, contestID, slug string) error {
	c.invalidations = append(c.invalidations, contestID)
	delete(c.store, cacheKeyContestDetail(contestID))
	if slug != "" {
		delete(c.store, cacheKeyContestSlug(slug))
	}
	prefix := "contest:" + contestID + ":leaderboard:"
	for key := range c.store {
		if strings.HasPrefix(key, prefix) {
			delete(c.store, key)
		}
	}
	return nil
}

type fakeBroadcaster struct {
	events     []model.StandingEvent
	endedIDs   []string
	publishErr error
}

func (b *fakeBroadcaster) Publish(ctx context.Context, event model.StandingEvent) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBroadcaster) PublishEnded(ctx context.Context, contestID string) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.endedIDs = append(b.endedIDs, contestID)
	return nil
}

type staticSettings struct {
	decayRate   float64
	maxAttempts int
}

func (s staticSettings) DecayRate(ctx context.Context) float64    { return s.decayRate }
func (s staticSettings) MaxRetryAttempts(ctx context.Context) int { return s.maxAttempts }
func (s staticSettings) RetryDelay() time.Duration                { return 0 }
