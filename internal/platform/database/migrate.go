package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the schema. Statements are idempotent so the process can
// run them on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS contests (
			id               UUID PRIMARY KEY,
			title            TEXT NOT NULL,
			slug             TEXT NOT NULL UNIQUE,
			description      TEXT NOT NULL DEFAULT '',
			rules            TEXT NOT NULL DEFAULT '',
			start_time       TIMESTAMPTZ NOT NULL,
			end_time         TIMESTAMPTZ NOT NULL,
			status           TEXT NOT NULL DEFAULT 'DRAFT',
			participant_count INT NOT NULL DEFAULT 0,
			max_participants INT NOT NULL DEFAULT 0,
			created_by       UUID NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contests_status ON contests (status)`,
		`CREATE INDEX IF NOT EXISTS idx_contests_start_time ON contests (start_time)`,

		`CREATE TABLE IF NOT EXISTS contest_problems (
			contest_id  UUID NOT NULL REFERENCES contests(id) ON DELETE CASCADE,
			problem_id  UUID NOT NULL,
			points      NUMERIC(10,2) NOT NULL DEFAULT 100,
			order_index INT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (contest_id, problem_id)
		)`,

		`CREATE TABLE IF NOT EXISTS contest_participants (
			contest_id        UUID NOT NULL REFERENCES contests(id) ON DELETE CASCADE,
			user_id           UUID NOT NULL,
			total_score       NUMERIC(12,2) NOT NULL DEFAULT 0,
			solved_count      INT NOT NULL DEFAULT 0,
			finish_time_ms    BIGINT NOT NULL DEFAULT 0,
			total_submissions INT NOT NULL DEFAULT 0,
			last_submission_at TIMESTAMPTZ,
			problem_scores    JSONB NOT NULL DEFAULT '{}',
			version           BIGINT NOT NULL DEFAULT 0,
			joined_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (contest_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_ranking
			ON contest_participants (contest_id, solved_count DESC, total_score DESC, finish_time_ms ASC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database.Migrate: %w", err)
		}
	}
	return nil
}
