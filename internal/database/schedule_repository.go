package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
)

// postSelectList is the column list for SELECT/RETURNING on scheduled_posts
// (single source for schema changes).
const postSelectList = `id, store_id, external_blog_id, external_article_id,
			title, body, tags, store_timezone, scheduled_at, status,
			failure_reason, attempt_count, last_checked_at, published_at,
			created_at, updated_at`

// ScheduleRepository manages scheduled posts in PostgreSQL. All status
// mutations are compare-and-set updates keyed on the current status, so
// poller ticks and interactive handlers cannot lose each other's writes.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Ping verifies database connectivity.
func (r *ScheduleRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts a new post.
func (r *ScheduleRepository) Create(ctx context.Context, post *domain.ScheduledPost) error {
	query := `
		INSERT INTO scheduled_posts (
			id, store_id, external_blog_id, external_article_id,
			title, body, tags, store_timezone, scheduled_at, status,
			attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		post.ID, post.StoreID, post.ExternalBlogID, post.ExternalArticleID,
		post.Title, post.Body, pq.StringArray(post.Tags), post.StoreTimezone,
		post.ScheduledAt, post.Status, post.AttemptCount,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetByID retrieves a single post.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	query := `SELECT ` + postSelectList + ` FROM scheduled_posts WHERE id = $1`
	post, err := r.queryOne(ctx, query, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return post, nil
}

// FindByExternalArticleID looks up a post by its platform article id.
func (r *ScheduleRepository) FindByExternalArticleID(ctx context.Context, externalArticleID string) (*domain.ScheduledPost, error) {
	query := `SELECT ` + postSelectList + ` FROM scheduled_posts WHERE external_article_id = $1`
	post, err := r.queryOne(ctx, query, externalArticleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find by external article id: %w", err)
	}
	return post, nil
}

// ListByStore returns a store's posts, soonest scheduled first.
func (r *ScheduleRepository) ListByStore(ctx context.Context, storeID string) ([]domain.ScheduledPost, error) {
	query := `SELECT ` + postSelectList + `
		FROM scheduled_posts
		WHERE store_id = $1
		ORDER BY scheduled_at ASC`

	rows, err := r.db.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("list by store: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// ClaimDue atomically claims due posts for publishing. Uses FOR UPDATE
// SKIP LOCKED so concurrent claimers never double-claim a row; past_due
// posts stay eligible alongside scheduled ones.
func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'publishing',
		    attempt_count = attempt_count + 1,
		    last_checked_at = $1,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_posts
			WHERE status IN ('scheduled', 'past_due')
			  AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + postSelectList

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// ClaimForPublish claims a single post for the interactive publish-now
// path. The status condition makes the claim exclusive against a
// concurrent poller tick; the loser observes domain.ErrNotFound and reads
// back the winner's result. Failed posts may be claimed here too (manual
// re-submit is the operator action for them).
func (r *ScheduleRepository) ClaimForPublish(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'publishing',
		    attempt_count = attempt_count + 1,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'past_due', 'failed')
		RETURNING ` + postSelectList

	return r.queryOne(ctx, query, id)
}

// MarkPublished records a successful publish. Conditional on the
// publishing claim so a stale worker cannot overwrite a newer state.
func (r *ScheduleRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	query := `
		UPDATE scheduled_posts
		SET status = 'published',
		    published_at = $2,
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'publishing'`
	if err := r.execExpectOneRow(ctx, query, id, publishedAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed records a publish failure with its reason.
func (r *ScheduleRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE scheduled_posts
		SET status = 'failed',
		    failure_reason = $2,
		    last_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'publishing'`
	if err := r.execExpectOneRow(ctx, query, id, reason); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkPastDue flags scheduled posts overdue past the cutoff as past_due
// for operator visibility. They remain eligible for claiming.
func (r *ScheduleRepository) MarkPastDue(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'past_due', updated_at = NOW()
		WHERE status = 'scheduled'
		  AND scheduled_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark past due: %w", err)
	}
	return result.RowsAffected()
}

// ResetStalePublishing resets posts stuck in "publishing" back to
// "scheduled". This recovers claims lost to a process crash mid-publish.
func (r *ScheduleRepository) ResetStalePublishing(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'scheduled', updated_at = NOW()
		WHERE status = 'publishing'
		  AND updated_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reset stale publishing: %w", err)
	}
	return result.RowsAffected()
}

// Reschedule moves a post to a new instant. Only the instant, zone, and
// visibility flags change; the external article reference is never
// touched, so the platform keeps exactly one draft.
func (r *ScheduleRepository) Reschedule(ctx context.Context, id uuid.UUID, newAt time.Time, zone string) (*domain.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET scheduled_at = $2,
		    store_timezone = $3,
		    status = 'scheduled',
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'past_due')
		RETURNING ` + postSelectList

	post, err := r.queryOne(ctx, query, id, newAt, zone)
	if err == nil {
		return post, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("reschedule: %w", err)
	}
	return nil, r.explainMissedUpdate(ctx, id, domain.ErrNotReschedulable)
}

// Cancel withdraws a post before publication. The superseded external
// draft is left in place on the platform.
func (r *ScheduleRepository) Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'canceled', updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'past_due')
		RETURNING ` + postSelectList

	post, err := r.queryOne(ctx, query, id)
	if err == nil {
		return post, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	return nil, r.explainMissedUpdate(ctx, id, domain.ErrNotCancelable)
}

// StoreStats returns per-status counts and publish lag for a store.
func (r *ScheduleRepository) StoreStats(ctx context.Context, storeID string) (*domain.StoreStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'scheduled') as scheduled,
			COUNT(*) FILTER (WHERE status = 'publishing') as publishing,
			COUNT(*) FILTER (WHERE status = 'published') as published,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'past_due') as past_due,
			COUNT(*) FILTER (WHERE status = 'canceled') as canceled,
			COALESCE(AVG(EXTRACT(EPOCH FROM (published_at - scheduled_at)))
				FILTER (WHERE status = 'published'), 0) as avg_publish_lag_seconds
		FROM scheduled_posts
		WHERE store_id = $1`

	var stats domain.StoreStats
	err := r.db.QueryRowContext(ctx, query, storeID).Scan(
		&stats.Scheduled,
		&stats.Publishing,
		&stats.Published,
		&stats.Failed,
		&stats.PastDue,
		&stats.Canceled,
		&stats.AvgPublishLagSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	return &stats, nil
}

// explainMissedUpdate distinguishes "row does not exist" from "row exists
// but its status forbids this transition".
func (r *ScheduleRepository) explainMissedUpdate(ctx context.Context, id uuid.UUID, stateErr error) error {
	query := `SELECT status FROM scheduled_posts WHERE id = $1`
	var status domain.Status
	err := r.db.QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("explain missed update: %w", err)
	}
	return fmt.Errorf("%w: status is %s", stateErr, status)
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row
// was affected.
func (r *ScheduleRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// queryOne runs a single-row query and maps sql.ErrNoRows to
// domain.ErrNotFound.
func (r *ScheduleRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.ScheduledPost, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*domain.ScheduledPost, error) {
	var p domain.ScheduledPost
	var tags pq.StringArray

	err := row.Scan(
		&p.ID, &p.StoreID, &p.ExternalBlogID, &p.ExternalArticleID,
		&p.Title, &p.Body, &tags, &p.StoreTimezone, &p.ScheduledAt, &p.Status,
		&p.FailureReason, &p.AttemptCount, &p.LastCheckedAt, &p.PublishedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Tags = tags
	return &p, nil
}

// initialBatchCapacity is a reasonable default for batch scans.
const initialBatchCapacity = 50

func scanPosts(rows *sql.Rows) ([]domain.ScheduledPost, error) {
	posts := make([]domain.ScheduledPost, 0, initialBatchCapacity)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}
