// Package domain contains the core domain models for the blog scheduler.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a scheduled post.
type Status string

const (
	// StatusDraft is a post whose external draft has not been confirmed yet.
	StatusDraft Status = "draft"
	// StatusScheduled is a post waiting for its scheduled instant.
	StatusScheduled Status = "scheduled"
	// StatusPublishing is a post claimed by exactly one publish path.
	// It is a transient claim state, never exposed as a terminal outcome.
	StatusPublishing Status = "publishing"
	// StatusPublished is a post confirmed visible on the external platform.
	StatusPublished Status = "published"
	// StatusFailed is a post whose publish attempt failed; see FailureReason.
	StatusFailed Status = "failed"
	// StatusPastDue is a scheduled post overdue past the grace period
	// without having been claimed. A visibility signal, not a failure:
	// past-due posts remain eligible for the next tick.
	StatusPastDue Status = "past_due"
	// StatusCanceled is a post withdrawn before publication. Its external
	// draft is left in place on the platform.
	StatusCanceled Status = "canceled"
)

// ScheduledPost is one unit of content scheduled for future publication.
//
// ScheduledAt is always UTC and is the single source of truth for "when to
// publish"; local display times are derived from it plus StoreTimezone,
// which is captured at scheduling time and never re-resolved.
type ScheduledPost struct {
	ID                uuid.UUID  `db:"id"                  json:"id"`
	StoreID           string     `db:"store_id"            json:"store_id"`
	ExternalBlogID    string     `db:"external_blog_id"    json:"external_blog_id"`
	ExternalArticleID *string    `db:"external_article_id" json:"external_article_id,omitempty"`
	Title             string     `db:"title"               json:"title"`
	Body              string     `db:"body"                json:"body"`
	Tags              []string   `db:"tags"                json:"tags"`
	StoreTimezone     string     `db:"store_timezone"      json:"store_timezone"`
	ScheduledAt       time.Time  `db:"scheduled_at"        json:"scheduled_at"`
	Status            Status     `db:"status"              json:"status"`
	FailureReason     *string    `db:"failure_reason"      json:"failure_reason,omitempty"`
	AttemptCount      int        `db:"attempt_count"       json:"attempt_count"`
	LastCheckedAt     *time.Time `db:"last_checked_at"     json:"last_checked_at,omitempty"`
	PublishedAt       *time.Time `db:"published_at"        json:"published_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"          json:"updated_at"`
}

// NewScheduledPost creates a post in draft state with validation.
// The external article reference is attached later, once the platform
// confirms the draft was created.
func NewScheduledPost(storeID, blogID, title, body string, tags []string, zone string, scheduledAt time.Time) (*ScheduledPost, error) {
	if storeID == "" {
		return nil, fmt.Errorf("%w: store_id is required", ErrInvalidPost)
	}
	if blogID == "" {
		return nil, fmt.Errorf("%w: external_blog_id is required", ErrInvalidPost)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPost)
	}
	if zone == "" {
		return nil, fmt.Errorf("%w: store_timezone is required", ErrInvalidPost)
	}
	if scheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", ErrInvalidPost)
	}

	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UTC()
	return &ScheduledPost{
		ID:             uuid.New(),
		StoreID:        storeID,
		ExternalBlogID: blogID,
		Title:          title,
		Body:           body,
		Tags:           tags,
		StoreTimezone:  zone,
		ScheduledAt:    scheduledAt.UTC(),
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
