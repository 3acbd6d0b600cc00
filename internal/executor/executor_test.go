package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/blog-scheduler/internal/executor"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
)

// fakePlatform is a scriptable platform.Client that counts calls.
type fakePlatform struct {
	createFn func(blogID string, payload platform.Payload, visible bool) (string, error)
	updateFn func(articleID string, visible bool) (*platform.Article, error)
	getFn    func(articleID string) (*platform.Article, error)

	createCalls int
	updateCalls int
	getCalls    int
}

func (f *fakePlatform) CreateArticle(_ context.Context, blogID string, payload platform.Payload, visible bool) (string, error) {
	f.createCalls++
	return f.createFn(blogID, payload, visible)
}

func (f *fakePlatform) UpdateVisibility(_ context.Context, articleID string, visible bool, _ *time.Time) (*platform.Article, error) {
	f.updateCalls++
	return f.updateFn(articleID, visible)
}

func (f *fakePlatform) GetArticle(_ context.Context, articleID string) (*platform.Article, error) {
	f.getCalls++
	return f.getFn(articleID)
}

func fastConfig() executor.Config {
	return executor.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Clock:          func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestCreateDraft_AlwaysInvisible(t *testing.T) {
	fake := &fakePlatform{
		createFn: func(_ string, _ platform.Payload, visible bool) (string, error) {
			assert.False(t, visible, "drafts must be created invisible")
			return "art-1", nil
		},
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: false}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	scheduledAt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	id, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"}, scheduledAt)
	require.NoError(t, err)
	assert.Equal(t, "art-1", id)
	assert.Equal(t, 0, fake.updateCalls)
}

func TestCreateDraft_CorrectsPrematurePublish(t *testing.T) {
	visible := true
	fake := &fakePlatform{
		createFn: func(string, platform.Payload, bool) (string, error) {
			return "art-1", nil
		},
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: visible}, nil
		},
		updateFn: func(_ string, wantVisible bool) (*platform.Article, error) {
			assert.False(t, wantVisible)
			visible = false
			return &platform.Article{ID: "art-1", Visible: false}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	scheduledAt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // still in the future
	id, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"}, scheduledAt)
	require.NoError(t, err)
	assert.Equal(t, "art-1", id)
	assert.Equal(t, 1, fake.updateCalls)
}

func TestCreateDraft_MismatchWhenCorrectionFails(t *testing.T) {
	fake := &fakePlatform{
		createFn: func(string, platform.Payload, bool) (string, error) {
			return "art-1", nil
		},
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: true}, nil
		},
		updateFn: func(string, bool) (*platform.Article, error) {
			return nil, platform.ErrRejected
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	scheduledAt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	_, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"}, scheduledAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrVerificationMismatch))
}

func TestPublishNow_Idempotent(t *testing.T) {
	fake := &fakePlatform{
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: true}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	article, err := exec.PublishNow(context.Background(), "art-1")
	require.NoError(t, err)
	assert.True(t, article.Visible)
	assert.Equal(t, 0, fake.updateCalls, "already-visible article must not be updated again")
}

func TestPublishNow_FlipsAndVerifies(t *testing.T) {
	visible := false
	fake := &fakePlatform{
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: visible}, nil
		},
		updateFn: func(_ string, wantVisible bool) (*platform.Article, error) {
			visible = wantVisible
			return &platform.Article{ID: "art-1", Visible: visible}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	article, err := exec.PublishNow(context.Background(), "art-1")
	require.NoError(t, err)
	assert.True(t, article.Visible)
	assert.Equal(t, 1, fake.updateCalls)
	assert.Equal(t, 2, fake.getCalls, "one read before, one verify after")
}

func TestPublishNow_MismatchAfterCorrectiveRetry(t *testing.T) {
	fake := &fakePlatform{
		getFn: func(string) (*platform.Article, error) {
			// Platform never actually goes visible.
			return &platform.Article{ID: "art-1", Visible: false}, nil
		},
		updateFn: func(string, bool) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: false}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	_, err := exec.PublishNow(context.Background(), "art-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrVerificationMismatch))
}

func TestWithRetry_TransientFailuresRetried(t *testing.T) {
	attempts := 0
	fake := &fakePlatform{
		createFn: func(string, platform.Payload, bool) (string, error) {
			attempts++
			if attempts < 3 {
				return "", platform.ErrUnavailable
			}
			return "art-1", nil
		},
		getFn: func(string) (*platform.Article, error) {
			return &platform.Article{ID: "art-1", Visible: false}, nil
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	id, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"},
		time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "art-1", id)
	assert.Equal(t, 3, fake.createCalls)
}

func TestWithRetry_RejectionNotRetried(t *testing.T) {
	fake := &fakePlatform{
		createFn: func(string, platform.Payload, bool) (string, error) {
			return "", platform.ErrRejected
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	_, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"},
		time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrRejected))
	assert.Equal(t, 1, fake.createCalls)
}

func TestWithRetry_AttemptsBounded(t *testing.T) {
	fake := &fakePlatform{
		createFn: func(string, platform.Payload, bool) (string, error) {
			return "", platform.ErrUnavailable
		},
	}
	exec := executor.New(fake, fastConfig(), logger.NewNopLogger())

	_, err := exec.CreateDraft(context.Background(), "blog-1", platform.Payload{Title: "t"},
		time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrUnavailable))
	assert.Equal(t, 3, fake.createCalls)
}
