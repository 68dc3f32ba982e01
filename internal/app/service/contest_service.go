package service

import (
	"context"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"contest_engine/internal/domain/repository"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// ContestService owns the contest lifecycle state machine. The contest
// record is mutated through this service only; participant aggregates are
// mutated through StandingService only.
type ContestService struct {
	contestRepo     repository.ContestRepository
	participantRepo repository.ParticipantRepository
	cache           ContestCache
	broadcaster     StandingBroadcaster
	cacheTTL        time.Duration
}

func NewContestService(
	contestRepo repository.ContestRepository,
	participantRepo repository.ParticipantRepository,
	cache ContestCache,
	broadcaster StandingBroadcaster,
	cacheTTL time.Duration,
) *ContestService {
	return &ContestService{
		contestRepo:     contestRepo,
		participantRepo: participantRepo,
		cache:           cache,
		broadcaster:     broadcaster,
		cacheTTL:        cacheTTL,
	}
}

type CreateContestRequest struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Rules           string    `json:"rules"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxParticipants int       `json:"max_participants"`
	Schedule        bool      `json:"schedule"` // publish immediately instead of starting in DRAFT
}

type UpdateContestRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Rules           *string    `json:"rules,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	MaxParticipants *int       `json:"max_participants,omitempty"`
}

func (s *ContestService) CreateContest(ctx context.Context, userID string, req CreateContestRequest) (*model.Contest, error) {
	if req.Title == "" {
		return nil, common.Errorf("title is required: %w", common.ErrValidation)
	}
	status := model.StatusDraft
	if req.Schedule {
		status = model.StatusScheduled
	}
	contest := &model.Contest{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Slug:            slug.Make(req.Title),
		Description:     req.Description,
		Rules:           req.Rules,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Status:          status,
		MaxParticipants: req.MaxParticipants,
		CreatedByID:     userID,
	}
	if req.MaxParticipants < 0 {
		return nil, common.Errorf("max participants cannot be negative: %w", common.ErrValidation)
	}
	if err := contest.ValidateWindow(); err != nil {
		return nil, err
	}
	if err := s.contestRepo.CreateContest(ctx, nil, contest); err != nil {
		return nil, err
	}
	return contest, nil
}

func (s *ContestService) UpdateContest(ctx context.Context, contestID string, req UpdateContestRequest) (*model.Contest, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.Status != model.StatusDraft && contest.Status != model.StatusScheduled {
		return nil, common.Errorf("contest metadata is frozen in status %s: %w", contest.Status, common.ErrInvalidState)
	}

	oldSlug := contest.Slug
	if req.Title != nil {
		contest.Title = *req.Title
		// The slug is immutable once published; it only follows the title
		// while the contest is still a draft.
		if contest.Status == model.StatusDraft {
			contest.Slug = slug.Make(*req.Title)
		}
	}
	if req.Description != nil {
		contest.Description = *req.Description
	}
	if req.Rules != nil {
		contest.Rules = *req.Rules
	}
	if req.StartTime != nil {
		contest.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		contest.EndTime = *req.EndTime
	}
	if req.MaxParticipants != nil {
		if *req.MaxParticipants < 0 {
			return nil, common.Errorf("max participants cannot be negative: %w", common.ErrValidation)
		}
		contest.MaxParticipants = *req.MaxParticipants
	}
	if err := contest.ValidateWindow(); err != nil {
		return nil, err
	}
	if err := s.contestRepo.UpdateContest(ctx, nil, contest); err != nil {
		return nil, err
	}
	s.invalidate(ctx, contest.ID, oldSlug)
	if contest.Slug != oldSlug {
		s.invalidate(ctx, contest.ID, contest.Slug)
	}
	return contest, nil
}

func (s *ContestService) DeleteContest(ctx context.Context, contestID string) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.Status.IsDeletable() {
		return common.Errorf("only draft or cancelled contests can be deleted, status is %s: %w",
			contest.Status, common.ErrInvalidState)
	}
	if err := s.contestRepo.DeleteContest(ctx, contestID); err != nil {
		return err
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return nil
}

func (s *ContestService) GetContest(ctx context.Context, contestID string) (*model.Contest, error) {
	key := cacheKeyContestDetail(contestID)
	cached := &model.Contest{}
	if hit, err := s.cache.GetJSON(ctx, key, cached); err != nil {
		log.Printf("WARN: Contest cache read failed for %s: %v", contestID, err)
	} else if hit {
		return cached, nil
	}

	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return nil, err
	}
	contest.Problems = problems

	if err := s.cache.SetJSON(ctx, key, contest, s.cacheTTL); err != nil {
		log.Printf("WARN: Contest cache write failed for %s: %v", contestID, err)
	}
	return contest, nil
}

func (s *ContestService) GetContestBySlug(ctx context.Context, contestSlug string) (*model.Contest, error) {
	key := cacheKeyContestSlug(contestSlug)
	cached := &model.Contest{}
	if hit, err := s.cache.GetJSON(ctx, key, cached); err != nil {
		log.Printf("WARN: Contest cache read failed for slug %s: %v", contestSlug, err)
	} else if hit {
		return cached, nil
	}

	contest, err := s.contestRepo.FindContestBySlug(ctx, contestSlug)
	if err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListProblems(ctx, contest.ID)
	if err != nil {
		return nil, err
	}
	contest.Problems = problems

	if err := s.cache.SetJSON(ctx, key, contest, s.cacheTTL); err != nil {
		log.Printf("WARN: Contest cache write failed for slug %s: %v", contestSlug, err)
	}
	return contest, nil
}

func (s *ContestService) ListContests(ctx context.Context, filter model.ContestFilter, page, pageSize int) ([]model.Contest, int, error) {
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	return s.contestRepo.ListContests(ctx, filter, pageSize, offset)
}

// ScheduleContest publishes a draft: DRAFT -> SCHEDULED.
func (s *ContestService) ScheduleContest(ctx context.Context, contestID string) error {
	return s.transition(ctx, contestID, model.StatusScheduled, nil)
}

// StartContest is the manual start: SCHEDULED -> RUNNING only.
func (s *ContestService) StartContest(ctx context.Context, contestID string) error {
	return s.transition(ctx, contestID, model.StatusRunning, nil)
}

// EndContest ends a running contest, or a scheduled one whose configured end
// time has already passed.
func (s *ContestService) EndContest(ctx context.Context, contestID string) error {
	check := func(c *model.Contest) error {
		if c.Status == model.StatusScheduled && time.Now().Before(c.EndTime) {
			return common.Errorf("scheduled contest cannot end before its end time: %w", common.ErrInvalidState)
		}
		return nil
	}
	if err := s.transition(ctx, contestID, model.StatusEnded, check); err != nil {
		return err
	}
	s.publishEnded(ctx, contestID)
	return nil
}

// CancelContest is reachable from any non-ENDED state.
func (s *ContestService) CancelContest(ctx context.Context, contestID string) error {
	if err := s.transition(ctx, contestID, model.StatusCancelled, nil); err != nil {
		return err
	}
	s.publishEnded(ctx, contestID)
	return nil
}

// transition runs one state-machine edge as a conditional update so a
// concurrent transition cannot be applied twice.
func (s *ContestService) transition(ctx context.Context, contestID string, to model.ContestStatus, check func(*model.Contest) error) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.Status.CanTransitionTo(to) {
		return common.Errorf("cannot transition contest from %s to %s: %w", contest.Status, to, common.ErrInvalidState)
	}
	if check != nil {
		if err := check(contest); err != nil {
			return err
		}
	}
	ok, err := s.contestRepo.UpdateStatus(ctx, nil, contestID, contest.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return common.Errorf("contest status changed concurrently: %w", common.ErrConflict)
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return nil
}

// Sweep promotes every due SCHEDULED contest to RUNNING and every expired
// RUNNING contest to ENDED. Safe to run repeatedly; invoked by the ticker
// worker and exposed for external schedulers.
func (s *ContestService) Sweep(ctx context.Context) (int64, int64, error) {
	now := time.Now().UTC()

	// Snapshot the affected ids first; the bulk updates themselves stay
	// conditional, so a concurrent sweep only results in redundant cache
	// invalidations, never double transitions.
	toStart, err := s.contestRepo.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	toEnd, err := s.contestRepo.ListExpiredRunning(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	started, ended, err := s.contestRepo.SweepStatuses(ctx, now)
	if err != nil {
		return started, ended, err
	}

	for _, ref := range toStart {
		s.invalidate(ctx, ref.ID, ref.Slug)
	}
	for _, ref := range toEnd {
		s.invalidate(ctx, ref.ID, ref.Slug)
		s.publishEnded(ctx, ref.ID)
	}
	if started > 0 || ended > 0 {
		log.Printf("INFO: Status sweep started %d and ended %d contests", started, ended)
	}
	return started, ended, nil
}

type AttachProblemRequest struct {
	ProblemID string  `json:"problem_id"`
	Points    float64 `json:"points"`
}

func (s *ContestService) AttachProblem(ctx context.Context, contestID string, req AttachProblemRequest) (*model.ContestProblem, error) {
	if req.ProblemID == "" {
		return nil, common.Errorf("problem id is required: %w", common.ErrValidation)
	}
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.Status.ProblemSetFrozen() {
		return nil, common.Errorf("problem set is frozen in status %s: %w", contest.Status, common.ErrInvalidState)
	}

	existing, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return nil, err
	}
	cp := &model.ContestProblem{
		ContestID:  contestID,
		ProblemID:  req.ProblemID,
		Points:     req.Points,
		OrderIndex: len(existing),
	}
	if cp.Points <= 0 {
		cp.Points = model.DefaultProblemPoints
	}
	cp.Label = model.LabelForIndex(cp.OrderIndex)

	if err := s.contestRepo.AttachProblem(ctx, nil, cp); err != nil {
		return nil, err
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return cp, nil
}

func (s *ContestService) RemoveProblem(ctx context.Context, contestID, problemID string) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.Status.ProblemSetFrozen() {
		return common.Errorf("problem set is frozen in status %s: %w", contest.Status, common.ErrInvalidState)
	}
	if err := s.contestRepo.RemoveProblem(ctx, nil, contestID, problemID); err != nil {
		return err
	}

	// Keep order indices dense from 0 after removal.
	remaining, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(remaining))
	for _, cp := range remaining {
		ids = append(ids, cp.ProblemID)
	}
	if err := s.contestRepo.SetProblemOrder(ctx, nil, contestID, ids); err != nil {
		return err
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return nil
}

func (s *ContestService) ReorderProblems(ctx context.Context, contestID string, orderedProblemIDs []string) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.Status.ProblemSetFrozen() {
		return common.Errorf("problem set is frozen in status %s: %w", contest.Status, common.ErrInvalidState)
	}

	attached, err := s.contestRepo.ListProblems(ctx, contestID)
	if err != nil {
		return err
	}
	if len(orderedProblemIDs) != len(attached) {
		return common.Errorf("order must include every attached problem exactly once: %w", common.ErrValidation)
	}
	seen := make(map[string]bool, len(attached))
	for _, cp := range attached {
		seen[cp.ProblemID] = true
	}
	for _, id := range orderedProblemIDs {
		if !seen[id] {
			return common.Errorf("problem %s is not attached to this contest: %w", id, common.ErrValidation)
		}
		delete(seen, id)
	}

	if err := s.contestRepo.SetProblemOrder(ctx, nil, contestID, orderedProblemIDs); err != nil {
		return err
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return nil
}

// GetProblems returns the contest's problem list. Non-organizers only see it
// once the contest is running or finished.
func (s *ContestService) GetProblems(ctx context.Context, contestID string, isOrganizer bool) ([]model.ContestProblem, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if !isOrganizer && contest.Status != model.StatusRunning && contest.Status != model.StatusEnded {
		return nil, common.Errorf("problem list is not visible before the contest starts: %w", common.ErrForbidden)
	}
	return s.contestRepo.ListProblems(ctx, contestID)
}

// Join registers a user. Re-joining returns the existing registration
// instead of erroring; a full contest returns a conflict.
func (s *ContestService) Join(ctx context.Context, contestID, userID string) (*model.ContestParticipant, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.Status != model.StatusScheduled && contest.Status != model.StatusRunning {
		return nil, common.Errorf("registration is only open for scheduled or running contests: %w", common.ErrInvalidState)
	}

	created, err := s.participantRepo.Register(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	if created {
		s.invalidate(ctx, contestID, contest.Slug)
	}
	return s.participantRepo.Find(ctx, contestID, userID)
}

// Unregister removes a registration; only allowed before the contest starts.
func (s *ContestService) Unregister(ctx context.Context, contestID, userID string) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.Status != model.StatusScheduled {
		return common.Errorf("unregistration is only allowed before the contest starts: %w", common.ErrInvalidState)
	}
	if err := s.participantRepo.Unregister(ctx, contestID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, contestID, contest.Slug)
	return nil
}

// invalidate drops the contest's cached views. Failures leave stale data at
// most until the cache TTL, so they are logged and swallowed.
func (s *ContestService) invalidate(ctx context.Context, contestID, slug string) {
	if err := s.cache.InvalidateContest(ctx, contestID, slug); err != nil {
		log.Printf("WARN: Cache invalidation failed for contest %s: %v", contestID, err)
	}
}

func (s *ContestService) publishEnded(ctx context.Context, contestID string) {
	if err := s.broadcaster.PublishEnded(ctx, contestID); err != nil {
		log.Printf("WARN: Failed to broadcast contest_ended for %s: %v", contestID, err)
	}
}
