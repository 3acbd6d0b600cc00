// Package executor drives content through the external platform's publish
// transition: create invisible, flip visible at the scheduled instant,
// verify the platform actually honored the requested state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
)

// ErrVerificationMismatch is returned when the platform's state disagrees
// with the requested state after a corrective call already failed. It is
// escalated to a failed post, never silently swallowed.
var ErrVerificationMismatch = errors.New("platform state disagrees with requested state")

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Config tunes the bounded retry applied to transient platform failures
// within a single executor call.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Clock overrides the time source; nil means time.Now. Injectable for
	// deterministic tests.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// Executor performs the create/publish/verify sequence against the
// external platform.
type Executor struct {
	platform platform.Client
	logger   logger.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// New creates an executor.
func New(client platform.Client, cfg Config, log logger.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Executor{
		platform:       client,
		logger:         log,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		now:            cfg.Clock,
	}
}

// CreateDraft creates the content invisible on the platform and verifies
// the invisible flag was honored. The platform's write path has been
// observed to sometimes ignore it; when the target instant is still in the
// future the executor issues a corrective unpublish and logs a warning.
func (e *Executor) CreateDraft(ctx context.Context, blogID string, payload platform.Payload, scheduledAt time.Time) (string, error) {
	var articleID string
	err := e.withRetry(ctx, "create_article", func() error {
		var createErr error
		articleID, createErr = e.platform.CreateArticle(ctx, blogID, payload, false)
		return createErr
	})
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}

	record, verifyErr := e.readBack(ctx, articleID)
	if verifyErr != nil {
		// The draft exists; a failed read-back is not a mismatch. The
		// publish path verifies again before going visible.
		e.logger.Warn("could not verify draft after create",
			logger.String("article_id", articleID),
			logger.Error(verifyErr),
		)
		return articleID, nil
	}

	if record.Visible && scheduledAt.After(e.now()) {
		e.logger.Warn("platform published draft prematurely, correcting",
			logger.String("article_id", articleID),
			logger.Time("scheduled_at", scheduledAt),
		)
		if correctErr := e.forceVisibility(ctx, articleID, false); correctErr != nil {
			return articleID, fmt.Errorf("%w: draft %s is visible ahead of schedule: %v",
				ErrVerificationMismatch, articleID, correctErr)
		}
	}

	return articleID, nil
}

// PublishNow flips the article to visible and stamps a published-at time.
// Idempotent: an already-visible article is a no-op success.
func (e *Executor) PublishNow(ctx context.Context, articleID string) (*platform.Article, error) {
	record, err := e.readBack(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("read article before publish: %w", err)
	}
	if record.Visible {
		return record, nil
	}

	publishedAt := e.now().UTC()
	var updated *platform.Article
	err = e.withRetry(ctx, "update_visibility", func() error {
		var updateErr error
		updated, updateErr = e.platform.UpdateVisibility(ctx, articleID, true, &publishedAt)
		return updateErr
	})
	if err != nil {
		return nil, fmt.Errorf("publish article: %w", err)
	}

	verified, verifyErr := e.readBack(ctx, articleID)
	if verifyErr != nil {
		e.logger.Warn("could not verify article after publish",
			logger.String("article_id", articleID),
			logger.Error(verifyErr),
		)
		return updated, nil
	}
	if !verified.Visible {
		e.logger.Warn("platform ignored publish, correcting",
			logger.String("article_id", articleID),
		)
		if correctErr := e.forceVisibility(ctx, articleID, true); correctErr != nil {
			return nil, fmt.Errorf("%w: article %s still invisible after publish: %v",
				ErrVerificationMismatch, articleID, correctErr)
		}
		verified, verifyErr = e.readBack(ctx, articleID)
		if verifyErr == nil && !verified.Visible {
			return nil, fmt.Errorf("%w: article %s still invisible after corrective publish",
				ErrVerificationMismatch, articleID)
		}
	}

	return verified, nil
}

// Verify reads back the authoritative remote state.
func (e *Executor) Verify(ctx context.Context, articleID string) (*platform.Article, error) {
	return e.readBack(ctx, articleID)
}

func (e *Executor) readBack(ctx context.Context, articleID string) (*platform.Article, error) {
	var record *platform.Article
	err := e.withRetry(ctx, "get_article", func() error {
		var getErr error
		record, getErr = e.platform.GetArticle(ctx, articleID)
		return getErr
	})
	return record, err
}

func (e *Executor) forceVisibility(ctx context.Context, articleID string, visible bool) error {
	var publishedAt *time.Time
	if visible {
		now := e.now().UTC()
		publishedAt = &now
	}
	return e.withRetry(ctx, "corrective_update", func() error {
		_, err := e.platform.UpdateVisibility(ctx, articleID, visible, publishedAt)
		return err
	})
}

// withRetry retries fn with exponential backoff while the error is
// transient (platform.ErrUnavailable). Rejections and mismatches surface
// immediately.
func (e *Executor) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := e.initialBackoff
	var err error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, platform.ErrUnavailable) {
			return err
		}
		if attempt == e.maxAttempts {
			break
		}

		e.logger.Warn("transient platform failure, retrying",
			logger.String("op", op),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", delay),
			logger.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > e.maxBackoff {
			delay = e.maxBackoff
		}
	}

	return fmt.Errorf("after %d attempts: %w", e.maxAttempts, err)
}
