package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

var createAttemptsSQL = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		id             TEXT PRIMARY KEY,
		quiz_id        TEXT NOT NULL,
		learner_id     TEXT NOT NULL,
		attempt_number INT NOT NULL,
		status         TEXT NOT NULL,
		question_order JSONB NOT NULL DEFAULT '[]',
		answers        JSONB NOT NULL DEFAULT '[]',
		score          INT NOT NULL DEFAULT 0,
		total_possible INT NOT NULL DEFAULT 0,
		percentage     DOUBLE PRECISION NOT NULL DEFAULT 0,
		passed         BOOLEAN NOT NULL DEFAULT FALSE,
		time_spent     INT NOT NULL DEFAULT 0,
		started_at     TIMESTAMPTZ NOT NULL,
		completed_at   TIMESTAMPTZ,
		UNIQUE (quiz_id, learner_id, attempt_number)
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_learner_idx ON attempts (quiz_id, learner_id)`,
}

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			for _, stmt := range createAttemptsSQL {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS attempts`)
			return err
		},
	)
}
