package repository

import (
	"context"
	"contest_engine/internal/common"
	"contest_engine/internal/domain/model"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type ParticipantRepository interface {
	// Register inserts the registration row and bumps the contest's
	// participant count, conditional on remaining capacity, in one
	// transaction. Returns false when the participant already existed
	// (idempotent re-join, count untouched). A full contest returns
	// ErrConflict.
	Register(ctx context.Context, contestID, userID string) (bool, error)
	// Unregister removes the registration row and decrements the count.
	Unregister(ctx context.Context, contestID, userID string) error
	Find(ctx context.Context, contestID, userID string) (*model.ContestParticipant, error)
	// SaveCAS writes the aggregate back conditioned on the version token
	// being unchanged since load. Returns ErrVersionConflict when another
	// writer won the race.
	SaveCAS(ctx context.Context, participant *model.ContestParticipant) error
	ListRanked(ctx context.Context, contestID, search string, limit, offset int) ([]model.ContestParticipant, int, error)
	// CountStrictlyBetter counts participants that outrank the given tuple
	// under (solvedCount DESC, totalScore DESC, finishTime ASC), as distinct
	// tuples so the result + 1 is the dense rank.
	CountStrictlyBetter(ctx context.Context, contestID string, solvedCount int, totalScore float64, finishTimeMs int64) (int, error)
}

type pgParticipantRepository struct {
	db *sql.DB
}

func NewPgParticipantRepository(db *sql.DB) ParticipantRepository {
	return &pgParticipantRepository{db: db}
}

func (r *pgParticipantRepository) Register(ctx context.Context, contestID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("pgParticipantRepository.Register begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO contest_participants (contest_id, user_id, problem_scores)
		 VALUES ($1, $2, '{}')
		 ON CONFLICT (contest_id, user_id) DO NOTHING`,
		contestID, userID)
	if err != nil {
		return false, fmt.Errorf("pgParticipantRepository.Register insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already registered: idempotent, leave the count alone.
		return false, tx.Commit()
	}

	// Conditional on capacity so two concurrent joins cannot overshoot.
	res, err = tx.ExecContext(ctx,
		`UPDATE contests SET participant_count = participant_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND (max_participants = 0 OR participant_count < max_participants)`,
		contestID)
	if err != nil {
		return false, fmt.Errorf("pgParticipantRepository.Register count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("contest is full: %w", common.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("pgParticipantRepository.Register commit: %w", err)
	}
	return true, nil
}

func (r *pgParticipantRepository) Unregister(ctx context.Context, contestID, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgParticipantRepository.Unregister begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM contest_participants WHERE contest_id = $1 AND user_id = $2`, contestID, userID)
	if err != nil {
		return fmt.Errorf("pgParticipantRepository.Unregister: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE contests SET participant_count = GREATEST(participant_count - 1, 0), updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`, contestID)
	if err != nil {
		return fmt.Errorf("pgParticipantRepository.Unregister count: %w", err)
	}

	return tx.Commit()
}

const participantColumns = `contest_id, user_id, total_score, solved_count, finish_time_ms,
       total_submissions, last_submission_at, problem_scores, version, joined_at`

func scanParticipant(row interface{ Scan(...interface{}) error }) (*model.ContestParticipant, error) {
	p := &model.ContestParticipant{}
	var scores []byte
	err := row.Scan(
		&p.ContestID, &p.UserID, &p.TotalScore, &p.SolvedCount, &p.FinishTimeMs,
		&p.TotalSubmissions, &p.LastSubmissionAt, &scores, &p.Version, &p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scores, &p.ProblemScores); err != nil {
		return nil, fmt.Errorf("unmarshal problem scores: %w", err)
	}
	if p.ProblemScores == nil {
		p.ProblemScores = make(map[string]model.ProblemScore)
	}
	return p, nil
}

func (r *pgParticipantRepository) Find(ctx context.Context, contestID, userID string) (*model.ContestParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM contest_participants WHERE contest_id = $1 AND user_id = $2`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, contestID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgParticipantRepository.Find: %w", err)
	}
	return p, nil
}

func (r *pgParticipantRepository) SaveCAS(ctx context.Context, p *model.ContestParticipant) error {
	scores, err := json.Marshal(p.ProblemScores)
	if err != nil {
		return fmt.Errorf("pgParticipantRepository.SaveCAS marshal: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE contest_participants SET
		   total_score = $1, solved_count = $2, finish_time_ms = $3, total_submissions = $4,
		   last_submission_at = $5, problem_scores = $6, version = version + 1
		 WHERE contest_id = $7 AND user_id = $8 AND version = $9`,
		p.TotalScore, p.SolvedCount, p.FinishTimeMs, p.TotalSubmissions,
		p.LastSubmissionAt, scores, p.ContestID, p.UserID, p.Version)
	if err != nil {
		return fmt.Errorf("pgParticipantRepository.SaveCAS: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrVersionConflict
	}
	p.Version++
	return nil
}

func (r *pgParticipantRepository) ListRanked(ctx context.Context, contestID, search string, limit, offset int) ([]model.ContestParticipant, int, error) {
	args := []interface{}{contestID}
	where := `WHERE contest_id = $1`
	if search != "" {
		where += ` AND user_id::text ILIKE $2`
		args = append(args, "%"+search+"%")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM contest_participants ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgParticipantRepository.ListRanked count: %w", err)
	}

	query := `SELECT ` + participantColumns + ` FROM contest_participants ` + where +
		fmt.Sprintf(` ORDER BY solved_count DESC, total_score DESC, finish_time_ms ASC, user_id ASC
		 LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgParticipantRepository.ListRanked query: %w", err)
	}
	defer rows.Close()

	participants := []model.ContestParticipant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgParticipantRepository.ListRanked scan: %w", err)
		}
		participants = append(participants, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgParticipantRepository.ListRanked rows.Err: %w", err)
	}
	return participants, total, nil
}

func (r *pgParticipantRepository) CountStrictlyBetter(ctx context.Context, contestID string, solvedCount int, totalScore float64, finishTimeMs int64) (int, error) {
	query := `SELECT COUNT(DISTINCT (solved_count, total_score, finish_time_ms))
	          FROM contest_participants
	          WHERE contest_id = $1
	            AND (solved_count > $2
	             OR (solved_count = $2 AND total_score > $3)
	             OR (solved_count = $2 AND total_score = $3 AND finish_time_ms < $4))`
	var count int
	err := r.db.QueryRowContext(ctx, query, contestID, solvedCount, totalScore, finishTimeMs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgParticipantRepository.CountStrictlyBetter: %w", err)
	}
	return count, nil
}
