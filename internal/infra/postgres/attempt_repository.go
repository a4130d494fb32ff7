package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

const attemptColumns = `id, quiz_id, learner_id, attempt_number, status, question_order, answers,
	score, total_possible, percentage, passed, time_spent, started_at, completed_at`

// AttemptRepository stores attempts in the attempts table.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts an attempt. A concurrent start that claimed the same attempt
// number surfaces as domain.ErrStartInProgress.
func (r *AttemptRepository) Create(ctx context.Context, a domain.Attempt) error {
	order, answers, err := encodeAttemptJSON(a)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.QuizID, a.LearnerID, a.AttemptNumber, string(a.Status), order, answers,
		a.Score, a.TotalPossible, a.Percentage, a.Passed, a.TimeSpent, a.StartedAt, a.CompletedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrStartInProgress
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, err
}

func (r *AttemptRepository) ListByLearner(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE quiz_id=$1 AND learner_id=$2 ORDER BY attempt_number`, quizID, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Complete writes the graded attempt only while it is still active.
func (r *AttemptRepository) Complete(ctx context.Context, a domain.Attempt) (bool, error) {
	_, answers, err := encodeAttemptJSON(a)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE attempts SET
			status=$2, answers=$3, score=$4, total_possible=$5, percentage=$6,
			passed=$7, time_spent=$8, completed_at=$9
		WHERE id=$1 AND status=$10`,
		a.ID, string(domain.AttemptCompleted), answers, a.Score, a.TotalPossible, a.Percentage,
		a.Passed, a.TimeSpent, a.CompletedAt, string(domain.AttemptActive))
	if err != nil {
		return false, fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM attempts WHERE id=$1)`, a.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("complete attempt: %w", err)
	}
	if !exists {
		return false, domain.ErrAttemptNotFound
	}
	return false, nil
}

func encodeAttemptJSON(a domain.Attempt) (order, answers []byte, err error) {
	if a.QuestionOrder == nil {
		a.QuestionOrder = []string{}
	}
	if a.Answers == nil {
		a.Answers = []domain.Answer{}
	}
	if order, err = json.Marshal(a.QuestionOrder); err != nil {
		return nil, nil, err
	}
	if answers, err = json.Marshal(a.Answers); err != nil {
		return nil, nil, err
	}
	return order, answers, nil
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a       domain.Attempt
		status  string
		order   []byte
		answers []byte
	)
	err := row.Scan(&a.ID, &a.QuizID, &a.LearnerID, &a.AttemptNumber, &status, &order, &answers,
		&a.Score, &a.TotalPossible, &a.Percentage, &a.Passed, &a.TimeSpent, &a.StartedAt, &a.CompletedAt)
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Status = domain.AttemptStatus(status)
	if err := json.Unmarshal(order, &a.QuestionOrder); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode question order: %w", err)
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode answers: %w", err)
	}
	if len(a.Answers) == 0 {
		a.Answers = nil
	}
	return a, nil
}
