package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, user_id, job_type, status, priority, input_data, result_data, error_message,
	retry_count, run_at, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j             models.Job
		jobType       string
		status        string
		input, result []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &jobType, &status, &j.Priority, &input, &result, &j.ErrorMessage,
		&j.RetryCount, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.JobType = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.InputData = input
	j.ResultData = result
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const insertJobSQL = `INSERT INTO jobs (id, user_id, job_type, status, priority, input_data, retry_count, run_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func insertJobArgs(job *models.Job) []any {
	var input []byte
	if len(job.InputData) > 0 {
		input = []byte(job.InputData)
	}
	return []any{job.ID, job.UserID, string(job.JobType), string(job.Status), job.Priority, input,
		job.RetryCount, job.RunAt, job.CreatedAt, job.UpdatedAt}
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx, insertJobSQL, insertJobArgs(job)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.JobType != "" {
		conditions = append(conditions, fmt.Sprintf("job_type = $%d", argIdx))
		args = append(args, string(filter.JobType))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// TransitionJob moves a job from one status to another with a single
// compare-and-set UPDATE. If the job is no longer in status from, or no longer
// at the version pinned by WithExpectedUpdatedAt, nothing is written and
// ErrStatusConflict is returned.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := ApplyJobUpdateOptions(opts...)

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $3, updated_at = $4`
	args := []any{id, string(from), string(to), now}
	argIdx := 5

	switch to {
	case models.JobStatusProcessing:
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	case models.JobStatusPending:
		query += ", started_at = NULL, result_data = NULL, error_message = NULL"
	case models.JobStatusCompleted, models.JobStatusFailed:
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ResultData != nil {
		query += fmt.Sprintf(", result_data = $%d", argIdx)
		args = append(args, []byte(params.ResultData))
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.RunAt != nil {
		query += fmt.Sprintf(", run_at = $%d", argIdx)
		args = append(args, *params.RunAt)
		argIdx++
	}
	if params.RetryIncrement {
		query += ", retry_count = retry_count + 1"
	}

	query += " WHERE id = $1 AND status = $2"
	if params.UpdatedAt != nil {
		query += fmt.Sprintf(" AND updated_at = $%d", argIdx)
		args = append(args, *params.UpdatedAt)
	}
	query += " RETURNING " + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition job: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrStatusConflict
}

// ClaimNextJob atomically moves the highest-priority runnable pending job to
// processing. Uses SELECT FOR UPDATE SKIP LOCKED so concurrent claimers never
// receive the same job. Returns ErrNotFound when nothing is claimable.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, types []models.JobType) (*models.Job, error) {
	var typeFilter []string
	for _, t := range types {
		typeFilter = append(typeFilter, string(t))
	}

	j, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = 'processing', started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND ($1::text[] IS NULL OR job_type = ANY($1))
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, typeFilter))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

// ListStaleJobs returns runnable jobs in status whose last update is older than idleSince.
func (s *PostgresStore) ListStaleJobs(ctx context.Context, status models.JobStatus, idleSince time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND updated_at < $2 AND run_at <= NOW()
		 ORDER BY priority DESC, updated_at ASC LIMIT $3`,
		string(status), idleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// --- Credits ---

func (s *PostgresStore) EnsureUserCredits(ctx context.Context, userID uuid.UUID, allotment int, resetAt time.Time) (*models.UserCredits, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_credits (user_id, current_credits, total_used_credits, daily_reset_at, created_at, updated_at)
		 VALUES ($1, $2, 0, $3, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`, userID, allotment, resetAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user credits: %w", err)
	}
	return s.GetUserCredits(ctx, userID)
}

func (s *PostgresStore) GetUserCredits(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	var c models.UserCredits
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, current_credits, total_used_credits, daily_reset_at, created_at, updated_at
		 FROM user_credits WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &c.CurrentCredits, &c.TotalUsedCredits, &c.DailyResetAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user credits: %w", err)
	}
	return &c, nil
}

// deductSQL decrements the balance only when it covers the cost and appends the
// audit row in the same statement. Zero rows means the balance was insufficient.
const deductSQL = `
	WITH upd AS (
		UPDATE user_credits
		SET current_credits = current_credits - $3,
		    total_used_credits = total_used_credits + $3,
		    updated_at = NOW()
		WHERE user_id = $2 AND current_credits >= $3
		RETURNING user_id, current_credits
	), ins AS (
		INSERT INTO credit_transactions (id, user_id, action_type, credits_spent, description, created_at)
		SELECT $1::uuid, user_id, $4::text, $3::integer, $5::text, NOW() FROM upd
	)
	SELECT current_credits FROM upd`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func deduct(ctx context.Context, q querier, d models.Deduction) (int, bool, error) {
	var remaining int
	err := q.QueryRow(ctx, deductSQL, d.TransactionID, d.UserID, d.Cost, string(d.ActionType), d.Description).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := q.QueryRow(ctx, `SELECT current_credits FROM user_credits WHERE user_id = $1`, d.UserID).Scan(&remaining); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, false, ErrNotFound
			}
			return 0, false, fmt.Errorf("read balance: %w", err)
		}
		return remaining, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("deduct credits: %w", err)
	}
	return remaining, true, nil
}

// DeductCredits atomically subtracts d.Cost from the user's balance when it is
// sufficient. It returns the balance after the attempt and whether it succeeded.
func (s *PostgresStore) DeductCredits(ctx context.Context, d models.Deduction) (int, bool, error) {
	return deduct(ctx, s.pool, d)
}

// DeductCreditsAndCreateJob performs the deduction and inserts job in one
// transaction. On insufficient balance nothing is written.
func (s *PostgresStore) DeductCreditsAndCreateJob(ctx context.Context, d models.Deduction, job *models.Job) (int, bool, error) {
	var (
		remaining int
		ok        bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		remaining, ok, err = deduct(ctx, tx, d)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.Exec(ctx, insertJobSQL, insertJobArgs(job)...); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, ok, nil
}

func (s *PostgresStore) ListCreditTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, action_type, credits_spent, description, created_at
		 FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var action string
		if err := rows.Scan(&t.ID, &t.UserID, &action, &t.CreditsSpent, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		t.ActionType = models.ActionType(action)
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// ReplenishCredits resets every balance whose reset time has passed back to
// allotment and schedules the next reset.
func (s *PostgresStore) ReplenishCredits(ctx context.Context, allotment int, now time.Time, nextReset time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_credits SET current_credits = $1, daily_reset_at = $2, updated_at = NOW()
		 WHERE daily_reset_at <= $3`, allotment, nextReset, now)
	if err != nil {
		return 0, fmt.Errorf("replenish credits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Activity & Notifications ---

func (s *PostgresStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	var metadata []byte
	if len(a.Metadata) > 0 {
		metadata = []byte(a.Metadata)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity_logs (id, user_id, type, endpoint, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.Type, a.Endpoint, metadata, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, job_id, title, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.JobID, n.Title, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, job_id, title, message, read_at, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &n.Title, &n.Message, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
