// Package service orchestrates scheduling operations: submit, reschedule,
// list, manual publish, and cancel. It is the surface the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jonesrussell/blog-scheduler/internal/dedup"
	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/metrics"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
	"github.com/jonesrussell/blog-scheduler/internal/timezone"
)

// Repository is the persistence surface the service needs.
type Repository interface {
	Create(ctx context.Context, post *domain.ScheduledPost) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	ListByStore(ctx context.Context, storeID string) ([]domain.ScheduledPost, error)
	ClaimForPublish(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	Reschedule(ctx context.Context, id uuid.UUID, newAt time.Time, zone string) (*domain.ScheduledPost, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	StoreStats(ctx context.Context, storeID string) (*domain.StoreStats, error)
}

// DuplicateGuard checks candidates before any platform call.
type DuplicateGuard interface {
	Check(ctx context.Context, blogID, externalArticleID, title string) (dedup.Result, error)
	Remember(ctx context.Context, blogID, title, postID string) error
	Forget(ctx context.Context, blogID, title string) error
}

// Publisher performs the external-platform transitions.
type Publisher interface {
	CreateDraft(ctx context.Context, blogID string, payload platform.Payload, scheduledAt time.Time) (string, error)
	PublishNow(ctx context.Context, articleID string) (*platform.Article, error)
}

// ScheduleRequest is a submission from the authoring flow. Title, body,
// and tags are an opaque payload from the content-generation pipeline.
type ScheduleRequest struct {
	StoreID   string
	BlogID    string
	Title     string
	Body      string
	Tags      []string
	LocalDate string
	LocalTime string
	Timezone  string
}

// PostView is a post enriched with derived local-display fields. The
// local fields are recomputed from the UTC instant on every read, never
// trusted from storage.
type PostView struct {
	domain.ScheduledPost
	LocalDate     string `json:"local_date"`
	LocalTime     string `json:"local_time"`
	TimeRemaining string `json:"time_remaining,omitempty"`
}

// Service implements the scheduling operations.
type Service struct {
	repo      Repository
	guard     DuplicateGuard
	publisher Publisher
	metrics   *metrics.Metrics
	logger    logger.Logger
	now       func() time.Time
}

// New creates the service. clock may be nil, meaning time.Now.
func New(repo Repository, guard DuplicateGuard, publisher Publisher, m *metrics.Metrics, log logger.Logger, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:      repo,
		guard:     guard,
		publisher: publisher,
		metrics:   m,
		logger:    log,
		now:       clock,
	}
}

// Schedule validates a submission, creates the invisible draft on the
// platform, and persists the post as scheduled. The guard runs before the
// platform call so a rejected submission never leaves an orphaned draft.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*domain.ScheduledPost, error) {
	resolution, err := timezone.Resolve(req.LocalDate, req.LocalTime, req.Timezone, s.now())
	if err != nil {
		return nil, err
	}

	check, err := s.guard.Check(ctx, req.BlogID, "", req.Title)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if check.IsDuplicate {
		s.metrics.DuplicatesTotal.Inc()
		return nil, fmt.Errorf("%w: existing post %s", domain.ErrDuplicateDetected, check.ExistingID)
	}

	post, err := domain.NewScheduledPost(req.StoreID, req.BlogID, req.Title, req.Body, req.Tags,
		req.Timezone, resolution.At)
	if err != nil {
		return nil, err
	}

	articleID, err := s.publisher.CreateDraft(ctx, req.BlogID, platform.Payload{
		Title: req.Title,
		Body:  req.Body,
		Tags:  req.Tags,
	}, resolution.At)
	if err != nil {
		return nil, fmt.Errorf("create platform draft: %w", err)
	}

	post.ExternalArticleID = &articleID
	post.Status = domain.StatusScheduled

	if err := s.repo.Create(ctx, post); err != nil {
		// The platform draft is orphaned but invisible; superseded drafts
		// are deliberately left in place rather than deleted.
		s.logger.Error("failed to persist scheduled post, platform draft orphaned",
			logger.String("article_id", articleID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("persist post: %w", err)
	}

	if rememberErr := s.guard.Remember(ctx, req.BlogID, req.Title, post.ID.String()); rememberErr != nil {
		s.logger.Warn("failed to record title in duplicate window",
			logger.String("post_id", post.ID.String()),
			logger.Error(rememberErr),
		)
	}

	s.logger.Info("scheduled post",
		logger.String("post_id", post.ID.String()),
		logger.String("article_id", articleID),
		logger.Time("scheduled_at", post.ScheduledAt),
		logger.Bool("immediate", resolution.Immediate),
	)
	return post, nil
}

// Reschedule moves a scheduled post to a new instant. The platform draft
// is untouched, so the external article reference never changes.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, localDate, localTime, zone string) (*domain.ScheduledPost, error) {
	resolution, err := timezone.Resolve(localDate, localTime, zone, s.now())
	if err != nil {
		return nil, err
	}

	post, err := s.repo.Reschedule(ctx, id, resolution.At, zone)
	if err != nil {
		return nil, err
	}

	s.logger.Info("rescheduled post",
		logger.String("post_id", post.ID.String()),
		logger.Time("scheduled_at", post.ScheduledAt),
		logger.String("store_timezone", zone),
	)
	return post, nil
}

// PublishNow publishes a post immediately, racing safely against the
// poller: the status-conditional claim ensures exactly one path performs
// the platform call. Losing the race to an in-flight publish returns the
// current record without error.
func (s *Service) PublishNow(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	post, err := s.repo.ClaimForPublish(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return s.explainLostClaim(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if post.ExternalArticleID == nil {
		reason := "missing external article reference"
		if markErr := s.repo.MarkFailed(ctx, id, reason); markErr != nil {
			s.logger.Error("failed to mark post as failed", logger.Error(markErr))
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPublishable, reason)
	}

	article, err := s.publisher.PublishNow(ctx, *post.ExternalArticleID)
	if err != nil {
		s.metrics.FailedTotal.Inc()
		if markErr := s.repo.MarkFailed(ctx, id, err.Error()); markErr != nil {
			s.logger.Error("failed to mark post as failed", logger.Error(markErr))
		}
		return nil, err
	}

	publishedAt := s.now().UTC()
	if article.PublishedAt != nil {
		publishedAt = article.PublishedAt.UTC()
	}
	if err := s.repo.MarkPublished(ctx, id, publishedAt); err != nil {
		return nil, fmt.Errorf("mark published: %w", err)
	}
	s.metrics.PublishedTotal.Inc()

	s.logger.Info("published post on demand",
		logger.String("post_id", id.String()),
		logger.Time("published_at", publishedAt),
	)
	return s.repo.GetByID(ctx, id)
}

// explainLostClaim maps a missed publish claim onto the caller-facing
// error taxonomy by reading back the winner's state.
func (s *Service) explainLostClaim(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case domain.StatusPublished:
		return nil, domain.ErrAlreadyPublished
	case domain.StatusPublishing:
		// The poller claimed it first; the publish is in flight.
		return current, nil
	default:
		return nil, fmt.Errorf("%w: status is %s", domain.ErrNotPublishable, current.Status)
	}
}

// Cancel withdraws a post before publication and releases its title from
// the duplicate window so the content can be resubmitted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	post, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	if forgetErr := s.guard.Forget(ctx, post.ExternalBlogID, post.Title); forgetErr != nil {
		s.logger.Warn("failed to release title from duplicate window",
			logger.String("post_id", post.ID.String()),
			logger.Error(forgetErr),
		)
	}
	return post, nil
}

// Get returns a single post with derived display fields.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PostView, error) {
	post, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.buildView(*post)
	return &view, nil
}

// List returns a store's posts with derived display fields.
func (s *Service) List(ctx context.Context, storeID string) ([]PostView, error) {
	posts, err := s.repo.ListByStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	views := make([]PostView, 0, len(posts))
	for _, post := range posts {
		views = append(views, s.buildView(post))
	}
	return views, nil
}

// Stats returns per-store scheduling statistics.
func (s *Service) Stats(ctx context.Context, storeID string) (*domain.StoreStats, error) {
	return s.repo.StoreStats(ctx, storeID)
}

func (s *Service) buildView(post domain.ScheduledPost) PostView {
	view := PostView{ScheduledPost: post}

	localDate, localTime, err := timezone.LocalDisplay(post.ScheduledAt, post.StoreTimezone)
	if err != nil {
		// The zone was valid at scheduling time; a failure here means the
		// zone database changed underneath us. Fall back to UTC display.
		s.logger.Warn("failed to derive local display, falling back to UTC",
			logger.String("post_id", post.ID.String()),
			logger.String("store_timezone", post.StoreTimezone),
			logger.Error(err),
		)
		localDate = post.ScheduledAt.UTC().Format(timezone.DateLayout)
		localTime = post.ScheduledAt.UTC().Format(timezone.TimeLayout)
	}
	view.LocalDate = localDate
	view.LocalTime = localTime

	switch post.Status {
	case domain.StatusScheduled:
		view.TimeRemaining = humanize.RelTime(post.ScheduledAt, s.now(), "overdue", "from now")
	case domain.StatusPastDue:
		view.TimeRemaining = "should have published, retrying shortly"
	}
	return view
}
