package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/blog-scheduler/internal/dedup"
	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
)

type fakeFinder struct {
	posts map[string]*domain.ScheduledPost
}

func (f *fakeFinder) FindByExternalArticleID(_ context.Context, externalArticleID string) (*domain.ScheduledPost, error) {
	if post, ok := f.posts[externalArticleID]; ok {
		return post, nil
	}
	return nil, domain.ErrNotFound
}

func newTestGuard(t *testing.T) (*dedup.Guard, *fakeFinder, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	finder := &fakeFinder{posts: map[string]*domain.ScheduledPost{}}
	guard := dedup.NewGuard(finder, client, time.Hour, logger.NewNopLogger())
	return guard, finder, mr
}

func TestNormalizeTitle(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Summer SALE", "summer sale"},
		{"strips punctuation", "Summer Sale!!!", "summer sale"},
		{"collapses whitespace", "  Summer   Sale \t", "summer sale"},
		{"keeps digits", "Top 10 Picks", "top 10 picks"},
		{"empty", "—!?", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dedup.NormalizeTitle(tc.in))
		})
	}
}

func TestCheck_NoDuplicate(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	result, err := guard.Check(context.Background(), "blog-1", "", "Fresh Title")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestCheck_TitleWithinWindow(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Remember(ctx, "blog-1", "Summer Sale!", "post-1"))

	// Cosmetically different title, same normalized form.
	result, err := guard.Check(ctx, "blog-1", "", "summer   SALE")
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, "post-1", result.ExistingID)
}

func TestCheck_TitleScopedToBlog(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Remember(ctx, "blog-1", "Summer Sale", "post-1"))

	result, err := guard.Check(ctx, "blog-2", "", "Summer Sale")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate, "title window is scoped per blog")
}

func TestCheck_WindowExpires(t *testing.T) {
	guard, _, mr := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Remember(ctx, "blog-1", "Summer Sale", "post-1"))
	mr.FastForward(2 * time.Hour)

	result, err := guard.Check(ctx, "blog-1", "", "Summer Sale")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestCheck_ExternalArticleIDMatch(t *testing.T) {
	guard, finder, _ := newTestGuard(t)

	existingID := uuid.New()
	finder.posts["art-9"] = &domain.ScheduledPost{ID: existingID}

	result, err := guard.Check(context.Background(), "blog-1", "art-9", "Entirely Different Title")
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, existingID.String(), result.ExistingID)
}

func TestCheck_RedisDownFailsOpen(t *testing.T) {
	guard, _, mr := newTestGuard(t)
	mr.Close()

	result, err := guard.Check(context.Background(), "blog-1", "", "Summer Sale")
	require.NoError(t, err, "an unavailable cache must not block scheduling")
	assert.False(t, result.IsDuplicate)
}

func TestForget(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Remember(ctx, "blog-1", "Summer Sale", "post-1"))
	require.NoError(t, guard.Forget(ctx, "blog-1", "Summer Sale"))

	result, err := guard.Check(ctx, "blog-1", "", "Summer Sale")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}
