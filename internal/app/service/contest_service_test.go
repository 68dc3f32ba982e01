package service

import (
	"context"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"contest_engine/internal/domain/repository"
	"errors"
	"testing"
	"time"
)

func newContestFixture() (*ContestService, *fakeContestRepo, *fakeParticipantRepo, *fakeCache, *fakeBroadcaster) {
	contestRepo := newFakeContestRepo()
	participantRepo := newFakeParticipantRepo()
	cache := newFakeCache()
	broadcaster := &fakeBroadcaster{}
	svc := NewContestService(contestRepo, participantRepo, cache, broadcaster, 30*time.Second)
	return svc, contestRepo, participantRepo, cache, broadcaster
}

func validCreateRequest() CreateContestRequest {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return CreateContestRequest{
		Title:     "Spring Open Round",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	}
}

func TestCreateContestDraftByDefault(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()

	contest, err := svc.CreateContest(context.Background(), "org-1", validCreateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contest.Status != model.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", contest.Status)
	}
	if contest.Slug != "spring-open-round" {
		t.Fatalf("unexpected slug %q", contest.Slug)
	}
	if contest.CreatedByID != "org-1" {
		t.Fatalf("creator not recorded: %q", contest.CreatedByID)
	}
}

func TestCreateContestScheduledWhenRequested(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()

	req := validCreateRequest()
	req.Schedule = true
	contest, err := svc.CreateContest(context.Background(), "org-1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contest.Status != model.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", contest.Status)
	}
}

func TestCreateContestRejectsBadWindow(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()

	req := validCreateRequest()
	req.EndTime = req.StartTime.Add(10 * time.Minute) // below minimum duration
	if _, err := svc.CreateContest(context.Background(), "org-1", req); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = validCreateRequest()
	req.EndTime = req.StartTime.Add(8 * 24 * time.Hour) // above maximum
	if _, err := svc.CreateContest(context.Background(), "org-1", req); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = validCreateRequest()
	req.Title = ""
	if _, err := svc.CreateContest(context.Background(), "org-1", req); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
}

func TestCreateContestDuplicateSlugConflicts(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()

	if _, err := svc.CreateContest(context.Background(), "org-1", validCreateRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.CreateContest(context.Background(), "org-1", validCreateRequest()); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected conflict for duplicate slug, got %v", err)
	}
}

func TestUpdateContestSlugImmutableOncePublished(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()

	req := validCreateRequest()
	req.Schedule = true
	contest, err := svc.CreateContest(context.Background(), "org-1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	title := "Renamed Round"
	updated, err := svc.UpdateContest(context.Background(), contest.ID, UpdateContestRequest{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "Renamed Round" {
		t.Fatalf("title not updated: %q", updated.Title)
	}
	if updated.Slug != "spring-open-round" {
		t.Fatalf("slug must not change once scheduled, got %q", updated.Slug)
	}

	// In DRAFT the slug still follows the title.
	draft, err := svc.CreateContest(context.Background(), "org-1", CreateContestRequest{
		Title:     "Autumn Round",
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err = svc.UpdateContest(context.Background(), draft.ID, UpdateContestRequest{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Slug != "renamed-round" {
		t.Fatalf("draft slug must follow the title, got %q", updated.Slug)
	}
	if repo.contests[draft.ID].Slug != "renamed-round" {
		t.Fatal("slug change not persisted")
	}
}

func TestUpdateContestFrozenWhenRunning(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()

	contest, _ := svc.CreateContest(context.Background(), "org-1", validCreateRequest())
	repo.contests[contest.ID].Status = model.StatusRunning

	title := "New Title"
	if _, err := svc.UpdateContest(context.Background(), contest.ID, UpdateContestRequest{Title: &title}); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestDeleteContestOnlyDraftOrCancelled(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()

	contest, _ := svc.CreateContest(context.Background(), "org-1", validCreateRequest())
	if err := svc.DeleteContest(context.Background(), contest.ID); err != nil {
		t.Fatalf("draft must be deletable: %v", err)
	}

	req := validCreateRequest()
	req.Schedule = true
	contest, _ = svc.CreateContest(context.Background(), "org-1", req)
	if err := svc.DeleteContest(context.Background(), contest.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("scheduled contest must not be deletable, got %v", err)
	}

	repo.contests[contest.ID].Status = model.StatusCancelled
	if err := svc.DeleteContest(context.Background(), contest.ID); err != nil {
		t.Fatalf("cancelled contest must be deletable: %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	svc, repo, _, _, broadcaster := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())

	if err := svc.StartContest(ctx, contest.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("DRAFT -> RUNNING must be rejected, got %v", err)
	}
	if err := svc.ScheduleContest(ctx, contest.ID); err != nil {
		t.Fatalf("DRAFT -> SCHEDULED failed: %v", err)
	}
	if err := svc.StartContest(ctx, contest.ID); err != nil {
		t.Fatalf("SCHEDULED -> RUNNING failed: %v", err)
	}
	if err := svc.EndContest(ctx, contest.ID); err != nil {
		t.Fatalf("RUNNING -> ENDED failed: %v", err)
	}
	if repo.contests[contest.ID].Status != model.StatusEnded {
		t.Fatalf("status not persisted: %s", repo.contests[contest.ID].Status)
	}
	if len(broadcaster.endedIDs) != 1 || broadcaster.endedIDs[0] != contest.ID {
		t.Fatalf("contest_ended not broadcast: %v", broadcaster.endedIDs)
	}

	// Terminal states reject further transitions.
	if err := svc.CancelContest(ctx, contest.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("ENDED must be terminal, got %v", err)
	}
}

func TestCancelFromAnyNonEndedState(t *testing.T) {
	svc, repo, _, _, broadcaster := newContestFixture()
	ctx := context.Background()

	for _, status := range []model.ContestStatus{model.StatusDraft, model.StatusScheduled, model.StatusRunning} {
		contest, err := svc.CreateContest(ctx, "org-1", CreateContestRequest{
			Title:     "Cancel from " + string(status),
			StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		repo.contests[contest.ID].Status = status
		if err := svc.CancelContest(ctx, contest.ID); err != nil {
			t.Fatalf("cancel from %s failed: %v", status, err)
		}
	}
	if len(broadcaster.endedIDs) != 3 {
		t.Fatalf("expected 3 terminal broadcasts, got %d", len(broadcaster.endedIDs))
	}
}

func TestEndScheduledOnlyAfterEndTime(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	req.StartTime = time.Now().Add(time.Hour)
	req.EndTime = time.Now().Add(3 * time.Hour)
	contest, _ := svc.CreateContest(ctx, "org-1", req)

	if err := svc.EndContest(ctx, contest.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("scheduled contest before its end time must not end, got %v", err)
	}

	// Past its window the scheduled contest may be closed out directly.
	repo.contests[contest.ID].StartTime = time.Now().Add(-3 * time.Hour)
	repo.contests[contest.ID].EndTime = time.Now().Add(-time.Hour)
	if err := svc.EndContest(ctx, contest.ID); err != nil {
		t.Fatalf("expired scheduled contest must be endable: %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	contest, _ := svc.CreateContest(ctx, "org-1", req)

	first, err := svc.Join(ctx, contest.ID, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Join(ctx, contest.ID, "u1")
	if err != nil {
		t.Fatalf("re-join must not error: %v", err)
	}
	if !first.JoinedAt.Equal(second.JoinedAt) {
		t.Fatal("re-join must return the existing registration")
	}
}

func TestJoinFullContestConflicts(t *testing.T) {
	svc, _, participantRepo, _, _ := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	req.MaxParticipants = 1
	contest, _ := svc.CreateContest(ctx, "org-1", req)

	if _, err := svc.Join(ctx, contest.ID, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	participantRepo.full = true
	if _, err := svc.Join(ctx, contest.ID, "u2"); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected conflict when full, got %v", err)
	}
	// The registered user still gets the idempotent response.
	if _, err := svc.Join(ctx, contest.ID, "u1"); err != nil {
		t.Fatalf("existing participant must still re-join: %v", err)
	}
}

func TestJoinRejectedOutsideOpenStates(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())
	for _, status := range []model.ContestStatus{model.StatusDraft, model.StatusEnded, model.StatusCancelled} {
		repo.contests[contest.ID].Status = status
		if _, err := svc.Join(ctx, contest.ID, "u1"); !errors.Is(err, common.ErrInvalidState) {
			t.Fatalf("join in %s must be rejected, got %v", status, err)
		}
	}
}

func TestUnregisterOnlyBeforeStart(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	contest, _ := svc.CreateContest(ctx, "org-1", req)
	if _, err := svc.Join(ctx, contest.ID, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo.contests[contest.ID].Status = model.StatusRunning
	if err := svc.Unregister(ctx, contest.ID, "u1"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("unregister after start must be rejected, got %v", err)
	}

	repo.contests[contest.ID].Status = model.StatusScheduled
	if err := svc.Unregister(ctx, contest.ID, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Unregister(ctx, contest.ID, "u1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("double unregister must be not-found, got %v", err)
	}
}

func TestAttachProblemDefaultsAndLabels(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())

	first, err := svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Points != model.DefaultProblemPoints {
		t.Fatalf("expected default points, got %v", first.Points)
	}
	if first.Label != "A" || first.OrderIndex != 0 {
		t.Fatalf("first problem must be A/0, got %s/%d", first.Label, first.OrderIndex)
	}

	second, err := svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p2", Points: 250})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Points != 250 || second.Label != "B" {
		t.Fatalf("unexpected second problem: %+v", second)
	}
}

func TestProblemSetFrozenOnceRunning(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())
	if _, err := svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo.contests[contest.ID].Status = model.StatusRunning
	if _, err := svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p2"}); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("attach while running must be rejected, got %v", err)
	}
	if err := svc.RemoveProblem(ctx, contest.ID, "p1"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("remove while running must be rejected, got %v", err)
	}
	if err := svc.ReorderProblems(ctx, contest.ID, []string{"p1"}); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("reorder while running must be rejected, got %v", err)
	}
}

func TestRemoveProblemKeepsOrderDense(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())
	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: id}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := svc.RemoveProblem(ctx, contest.ID, "p2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	problems, err := svc.GetProblems(ctx, contest.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %d", len(problems))
	}
	if problems[0].ProblemID != "p1" || problems[0].Label != "A" {
		t.Fatalf("unexpected first problem: %+v", problems[0])
	}
	if problems[1].ProblemID != "p3" || problems[1].Label != "B" || problems[1].OrderIndex != 1 {
		t.Fatalf("remaining problem must re-index to B/1: %+v", problems[1])
	}
}

func TestReorderProblemsValidatesSet(t *testing.T) {
	svc, _, _, _, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())
	svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p1"})
	svc.AttachProblem(ctx, contest.ID, AttachProblemRequest{ProblemID: "p2"})

	if err := svc.ReorderProblems(ctx, contest.ID, []string{"p1"}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("partial order must be rejected, got %v", err)
	}
	if err := svc.ReorderProblems(ctx, contest.ID, []string{"p1", "p9"}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("unknown problem must be rejected, got %v", err)
	}

	if err := svc.ReorderProblems(ctx, contest.ID, []string{"p2", "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	problems, _ := svc.GetProblems(ctx, contest.ID, true)
	if problems[0].ProblemID != "p2" || problems[1].ProblemID != "p1" {
		t.Fatalf("order not applied: %+v", problems)
	}
}

func TestGetProblemsVisibilityGate(t *testing.T) {
	svc, repo, _, _, _ := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	contest, _ := svc.CreateContest(ctx, "org-1", req)

	if _, err := svc.GetProblems(ctx, contest.ID, false); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("participants must not see problems before start, got %v", err)
	}
	if _, err := svc.GetProblems(ctx, contest.ID, true); err != nil {
		t.Fatalf("organizers always see problems: %v", err)
	}

	repo.contests[contest.ID].Status = model.StatusRunning
	if _, err := svc.GetProblems(ctx, contest.ID, false); err != nil {
		t.Fatalf("running contest problems must be visible: %v", err)
	}
}

func TestGetContestReadThroughCache(t *testing.T) {
	svc, repo, _, cache, _ := newContestFixture()
	ctx := context.Background()

	contest, _ := svc.CreateContest(ctx, "org-1", validCreateRequest())

	if _, err := svc.GetContest(ctx, contest.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.store[cacheKeyContestDetail(contest.ID)]; !ok {
		t.Fatal("detail not cached after read")
	}

	// Serve from cache even when the backing row changes underneath.
	repo.contests[contest.ID].Title = "changed behind the cache"
	got, err := svc.GetContest(ctx, contest.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Spring Open Round" {
		t.Fatalf("expected cached title, got %q", got.Title)
	}

	// Cache read failures fall back to the repository.
	cache.getErr = errors.New("redis down")
	got, err = svc.GetContest(ctx, contest.ID)
	if err != nil {
		t.Fatalf("cache failure must not fail the read: %v", err)
	}
	if got.Title != "changed behind the cache" {
		t.Fatalf("expected repository fallback, got %q", got.Title)
	}
}

func TestSweepTransitionsAndBroadcasts(t *testing.T) {
	svc, repo, _, cache, broadcaster := newContestFixture()
	ctx := context.Background()

	req := validCreateRequest()
	req.Schedule = true
	due, _ := svc.CreateContest(ctx, "org-1", req)

	running, _ := svc.CreateContest(ctx, "org-1", CreateContestRequest{
		Title:     "Expired Round",
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	repo.contests[running.ID].Status = model.StatusRunning

	repo.dueScheduled = []repository.ContestRef{{ID: due.ID, Slug: due.Slug}}
	repo.expiredRunning = []repository.ContestRef{{ID: running.ID, Slug: running.Slug}}

	started, ended, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started != 1 || ended != 1 {
		t.Fatalf("expected 1 started and 1 ended, got %d/%d", started, ended)
	}
	if repo.contests[due.ID].Status != model.StatusRunning {
		t.Fatalf("due contest not started: %s", repo.contests[due.ID].Status)
	}
	if repo.contests[running.ID].Status != model.StatusEnded {
		t.Fatalf("expired contest not ended: %s", repo.contests[running.ID].Status)
	}
	if len(broadcaster.endedIDs) != 1 || broadcaster.endedIDs[0] != running.ID {
		t.Fatalf("only the ended contest broadcasts terminal event: %v", broadcaster.endedIDs)
	}
	if len(cache.invalidations) != 2 {
		t.Fatalf("both swept contests must be invalidated, got %v", cache.invalidations)
	}
}
