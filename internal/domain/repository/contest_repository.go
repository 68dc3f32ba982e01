package repository

import (
	"context"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type ContestRepository interface {
	CreateContest(ctx context.Context, tx *sql.Tx, contest *model.Contest) error
	UpdateContest(ctx context.Context, tx *sql.Tx, contest *model.Contest) error
	// UpdateStatus performs the conditional transition WHERE status = from.
	// Zero rows affected means the contest was missing or not in the
	// expected state.
	UpdateStatus(ctx context.Context, tx *sql.Tx, contestID string, from, to model.ContestStatus) (bool, error)
	DeleteContest(ctx context.Context, contestID string) error
	FindContestByID(ctx context.Context, id string) (*model.Contest, error)
	FindContestBySlug(ctx context.Context, slug string) (*model.Contest, error)
	ListContests(ctx context.Context, filter model.ContestFilter, limit, offset int) ([]model.Contest, int, error)
	// SweepStatuses promotes SCHEDULED->RUNNING and RUNNING->ENDED in one
	// bulk conditional update each. Idempotent under repeated invocation.
	SweepStatuses(ctx context.Context, now time.Time) (started, ended int64, err error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]ContestRef, error)
	ListExpiredRunning(ctx context.Context, now time.Time) ([]ContestRef, error)

	AttachProblem(ctx context.Context, tx *sql.Tx, cp *model.ContestProblem) error
	RemoveProblem(ctx context.Context, tx *sql.Tx, contestID, problemID string) error
	ListProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error)
	SetProblemOrder(ctx context.Context, tx *sql.Tx, contestID string, orderedProblemIDs []string) error
}

type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

// execer lets methods run against either the pool or an open transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *pgContestRepository) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

const contestColumns = `id, title, slug, description, rules, start_time, end_time, status,
       participant_count, max_participants, created_by, created_at, updated_at`

func scanContest(row interface{ Scan(...interface{}) error }) (*model.Contest, error) {
	c := &model.Contest{}
	err := row.Scan(
		&c.ID, &c.Title, &c.Slug, &c.Description, &c.Rules, &c.StartTime, &c.EndTime, &c.Status,
		&c.ParticipantCount, &c.MaxParticipants, &c.CreatedByID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *pgContestRepository) CreateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	query := `INSERT INTO contests (id, title, slug, description, rules, start_time, end_time, status, max_participants, created_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.exec(tx).ExecContext(ctx, query,
		c.ID, c.Title, c.Slug, c.Description, c.Rules, c.StartTime, c.EndTime, c.Status, c.MaxParticipants, c.CreatedByID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint for slug
			return fmt.Errorf("contest with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.CreateContest: %w", err)
	}
	return nil
}

func (r *pgContestRepository) UpdateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	query := `UPDATE contests SET
	            title = $1, slug = $2, description = $3, rules = $4, start_time = $5, end_time = $6,
	            max_participants = $7, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $8`
	res, err := r.exec(tx).ExecContext(ctx, query,
		c.Title, c.Slug, c.Description, c.Rules, c.StartTime, c.EndTime, c.MaxParticipants, c.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("contest with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.UpdateContest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgContestRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, contestID string, from, to model.ContestStatus) (bool, error) {
	query := `UPDATE contests SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3`
	res, err := r.exec(tx).ExecContext(ctx, query, to, contestID, from)
	if err != nil {
		return false, fmt.Errorf("pgContestRepository.UpdateStatus: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *pgContestRepository) DeleteContest(ctx context.Context, contestID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contests WHERE id = $1`, contestID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.DeleteContest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgContestRepository) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE id = $1`
	c, err := scanContest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindContestByID: %w", err)
	}
	return c, nil
}

func (r *pgContestRepository) FindContestBySlug(ctx context.Context, slug string) (*model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE slug = $1`
	c, err := scanContest(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindContestBySlug: %w", err)
	}
	return c, nil
}

func (r *pgContestRepository) ListContests(ctx context.Context, filter model.ContestFilter, limit, offset int) ([]model.Contest, int, error) {
	var conditions []string
	var args []interface{}
	argID := 1

	addCondition := func(cond string, vals ...interface{}) {
		conditions = append(conditions, cond)
		args = append(args, vals...)
		argID += len(vals)
	}

	if filter.Status != "" {
		addCondition(fmt.Sprintf("status = $%d", argID), filter.Status)
	}
	if filter.RunningOnly {
		addCondition(fmt.Sprintf("status = $%d", argID), model.StatusRunning)
	}
	if filter.UpcomingOnly {
		addCondition(fmt.Sprintf("status = $%d AND start_time > CURRENT_TIMESTAMP", argID), model.StatusScheduled)
	}
	if filter.From != nil {
		addCondition(fmt.Sprintf("start_time >= $%d", argID), *filter.From)
	}
	if filter.To != nil {
		addCondition(fmt.Sprintf("end_time <= $%d", argID), *filter.To)
	}
	if filter.Search != "" {
		likeTerm := "%" + filter.Search + "%"
		addCondition(fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argID, argID+1), likeTerm, likeTerm)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM contests` + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgContestRepository.ListContests count: %w", err)
	}

	query := `SELECT ` + contestColumns + ` FROM contests` + whereClause +
		fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgContestRepository.ListContests query: %w", err)
	}
	defer rows.Close()

	contests := []model.Contest{}
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgContestRepository.ListContests scan: %w", err)
		}
		contests = append(contests, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgContestRepository.ListContests rows.Err: %w", err)
	}
	return contests, total, nil
}

func (r *pgContestRepository) SweepStatuses(ctx context.Context, now time.Time) (int64, int64, error) {
	startRes, err := r.db.ExecContext(ctx,
		`UPDATE contests SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE status = $2 AND start_time <= $3`,
		model.StatusRunning, model.StatusScheduled, now)
	if err != nil {
		return 0, 0, fmt.Errorf("pgContestRepository.SweepStatuses start: %w", err)
	}
	started, _ := startRes.RowsAffected()

	endRes, err := r.db.ExecContext(ctx,
		`UPDATE contests SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE status = $2 AND end_time <= $3`,
		model.StatusEnded, model.StatusRunning, now)
	if err != nil {
		return started, 0, fmt.Errorf("pgContestRepository.SweepStatuses end: %w", err)
	}
	ended, _ := endRes.RowsAffected()

	return started, ended, nil
}

func (r *pgContestRepository) AttachProblem(ctx context.Context, tx *sql.Tx, cp *model.ContestProblem) error {
	query := `INSERT INTO contest_problems (contest_id, problem_id, points, order_index)
	          VALUES ($1, $2, $3, $4)`
	_, err := r.exec(tx).ExecContext(ctx, query, cp.ContestID, cp.ProblemID, cp.Points, cp.OrderIndex)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("problem already attached to contest: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.AttachProblem: %w", err)
	}
	return nil
}

func (r *pgContestRepository) RemoveProblem(ctx context.Context, tx *sql.Tx, contestID, problemID string) error {
	res, err := r.exec(tx).ExecContext(ctx,
		`DELETE FROM contest_problems WHERE contest_id = $1 AND problem_id = $2`, contestID, problemID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.RemoveProblem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgContestRepository) ListProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error) {
	query := `SELECT contest_id, problem_id, points, order_index, created_at
	          FROM contest_problems WHERE contest_id = $1 ORDER BY order_index ASC`
	rows, err := r.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListProblems query: %w", err)
	}
	defer rows.Close()

	var problems []model.ContestProblem
	for rows.Next() {
		var cp model.ContestProblem
		if err := rows.Scan(&cp.ContestID, &cp.ProblemID, &cp.Points, &cp.OrderIndex, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgContestRepository.ListProblems scan: %w", err)
		}
		cp.Label = model.LabelForIndex(cp.OrderIndex)
		problems = append(problems, cp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListProblems rows.Err: %w", err)
	}
	return problems, nil
}

// SetProblemOrder rewrites order indices dense from 0 following the given
// problem id sequence.
func (r *pgContestRepository) SetProblemOrder(ctx context.Context, tx *sql.Tx, contestID string, orderedProblemIDs []string) error {
	for i, problemID := range orderedProblemIDs {
		res, err := r.exec(tx).ExecContext(ctx,
			`UPDATE contest_problems SET order_index = $1 WHERE contest_id = $2 AND problem_id = $3`,
			i, contestID, problemID)
		if err != nil {
			return fmt.Errorf("pgContestRepository.SetProblemOrder: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("problem %s not attached to contest %s: %w", problemID, contestID, common.ErrNotFound)
		}
	}
	return nil
}

// ContestRef identifies a contest plus its slug, enough to invalidate its
// cached views.
type ContestRef struct {
	ID   string
	Slug string
}

func (r *pgContestRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]ContestRef, error) {
	return r.listRefs(ctx,
		`SELECT id, slug FROM contests WHERE status = $1 AND start_time <= $2`,
		model.StatusScheduled, now)
}

func (r *pgContestRepository) ListExpiredRunning(ctx context.Context, now time.Time) ([]ContestRef, error) {
	return r.listRefs(ctx,
		`SELECT id, slug FROM contests WHERE status = $1 AND end_time <= $2`,
		model.StatusRunning, now)
}

func (r *pgContestRepository) listRefs(ctx context.Context, query string, args ...interface{}) ([]ContestRef, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.listRefs query: %w", err)
	}
	defer rows.Close()

	var refs []ContestRef
	for rows.Next() {
		var ref ContestRef
		if err := rows.Scan(&ref.ID, &ref.Slug); err != nil {
			return nil, fmt.Errorf("pgContestRepository.listRefs scan: %w", err)
		}
		refs = append(refs, ref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgContestRepository.listRefs rows.Err: %w", err)
	}
	return refs, nil
}
