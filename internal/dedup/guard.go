// Package dedup guards against double-publication. Two independent
// signals flag a duplicate: an exact match on the platform article id, or
// a normalized-title match against posts created within a trailing window.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
)

// PostFinder looks up posts by their platform article id.
type PostFinder interface {
	FindByExternalArticleID(ctx context.Context, externalArticleID string) (*domain.ScheduledPost, error)
}

// Result reports the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool
	ExistingID  string
}

// Guard checks candidates before any external-platform call is made, so a
// rejected submission never creates an orphaned draft. Check is
// side-effect free; Remember records a title only after the draft is
// confirmed created.
type Guard struct {
	finder PostFinder
	client *redis.Client
	window time.Duration
	logger logger.Logger
}

// NewGuard creates a duplicate guard. window bounds how long a title
// blocks resubmission for the same blog.
func NewGuard(finder PostFinder, client *redis.Client, window time.Duration, log logger.Logger) *Guard {
	return &Guard{
		finder: finder,
		client: client,
		window: window,
		logger: log,
	}
}

func (g *Guard) key(blogID, normalizedTitle string) string {
	return fmt.Sprintf("sched:title:%s:%s", blogID, normalizedTitle)
}

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace
// so cosmetic differences don't defeat the title signal.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Check reports whether the candidate duplicates an existing post. Either
// signal alone is sufficient. Redis failures fail open with a logged
// error: an unavailable cache must not block scheduling.
func (g *Guard) Check(ctx context.Context, blogID, externalArticleID, title string) (Result, error) {
	if externalArticleID != "" {
		existing, err := g.finder.FindByExternalArticleID(ctx, externalArticleID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Result{}, fmt.Errorf("check external article id: %w", err)
		}
		if existing != nil {
			return Result{IsDuplicate: true, ExistingID: existing.ID.String()}, nil
		}
	}

	normalized := NormalizeTitle(title)
	if normalized == "" {
		return Result{}, nil
	}

	existingID, err := g.client.Get(ctx, g.key(blogID, normalized)).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, nil
	}
	if err != nil {
		g.logger.Error("redis error checking title window, assuming not duplicate",
			logger.String("blog_id", blogID),
			logger.Error(err),
		)
		return Result{}, nil
	}

	g.logger.Debug("duplicate title within window",
		logger.String("blog_id", blogID),
		logger.String("existing_id", existingID),
	)
	return Result{IsDuplicate: true, ExistingID: existingID}, nil
}

// Remember records a title for the guard window after a draft is created.
func (g *Guard) Remember(ctx context.Context, blogID, title, postID string) error {
	normalized := NormalizeTitle(title)
	if normalized == "" {
		return nil
	}

	if err := g.client.Set(ctx, g.key(blogID, normalized), postID, g.window).Err(); err != nil {
		g.logger.Error("redis error remembering title",
			logger.String("blog_id", blogID),
			logger.String("post_id", postID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// Forget releases a title, e.g. when its post is canceled so the content
// can be legitimately resubmitted.
func (g *Guard) Forget(ctx context.Context, blogID, title string) error {
	normalized := NormalizeTitle(title)
	if normalized == "" {
		return nil
	}
	return g.client.Del(ctx, g.key(blogID, normalized)).Err()
}
