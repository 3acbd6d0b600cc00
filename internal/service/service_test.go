package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/blog-scheduler/internal/dedup"
	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/metrics"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
	"github.com/jonesrussell/blog-scheduler/internal/service"
)

// fakeRepo mimics the repository's compare-and-set semantics in memory.
type fakeRepo struct {
	mu    sync.Mutex
	posts map[uuid.UUID]*domain.ScheduledPost
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{posts: map[uuid.UUID]*domain.ScheduledPost{}}
}

func (r *fakeRepo) add(post domain.ScheduledPost) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[post.ID] = &post
}

func (r *fakeRepo) Create(_ context.Context, post *domain.ScheduledPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *post
	r.posts[post.ID] = &copied
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *post
	return &copied, nil
}

func (r *fakeRepo) ListByStore(_ context.Context, storeID string) ([]domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var posts []domain.ScheduledPost
	for _, post := range r.posts {
		if post.StoreID == storeID {
			posts = append(posts, *post)
		}
	}
	return posts, nil
}

func (r *fakeRepo) ClaimForPublish(_ context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch post.Status {
	case domain.StatusScheduled, domain.StatusPastDue, domain.StatusFailed:
		post.Status = domain.StatusPublishing
		copied := *post
		return &copied, nil
	default:
		return nil, domain.ErrNotFound
	}
}

func (r *fakeRepo) MarkPublished(_ context.Context, id uuid.UUID, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok || post.Status != domain.StatusPublishing {
		return domain.ErrNotFound
	}
	post.Status = domain.StatusPublished
	post.PublishedAt = &publishedAt
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	post.Status = domain.StatusFailed
	post.FailureReason = &reason
	return nil
}

func (r *fakeRepo) Reschedule(_ context.Context, id uuid.UUID, newAt time.Time, zone string) (*domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if post.Status != domain.StatusScheduled && post.Status != domain.StatusPastDue {
		return nil, domain.ErrNotReschedulable
	}
	post.ScheduledAt = newAt
	post.StoreTimezone = zone
	post.Status = domain.StatusScheduled
	post.FailureReason = nil
	copied := *post
	return &copied, nil
}

func (r *fakeRepo) Cancel(_ context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if post.Status != domain.StatusScheduled && post.Status != domain.StatusPastDue {
		return nil, domain.ErrNotCancelable
	}
	post.Status = domain.StatusCanceled
	copied := *post
	return &copied, nil
}

func (r *fakeRepo) StoreStats(context.Context, string) (*domain.StoreStats, error) {
	return &domain.StoreStats{}, nil
}

type fakeGuard struct {
	mu         sync.Mutex
	duplicate  *dedup.Result
	remembered []string
	forgotten  []string
}

func (g *fakeGuard) Check(context.Context, string, string, string) (dedup.Result, error) {
	if g.duplicate != nil {
		return *g.duplicate, nil
	}
	return dedup.Result{}, nil
}

func (g *fakeGuard) Remember(_ context.Context, _, title, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remembered = append(g.remembered, title)
	return nil
}

func (g *fakeGuard) Forget(_ context.Context, _, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgotten = append(g.forgotten, title)
	return nil
}

type fakePublisher struct {
	mu           sync.Mutex
	createCalls  int
	publishCalls int
	createErr    error
	publishErr   error
}

func (p *fakePublisher) CreateDraft(_ context.Context, _ string, _ platform.Payload, _ time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return "", p.createErr
	}
	return "art-1", nil
}

func (p *fakePublisher) PublishNow(_ context.Context, articleID string) (*platform.Article, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishCalls++
	if p.publishErr != nil {
		return nil, p.publishErr
	}
	return &platform.Article{ID: articleID, Visible: true}, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, guard *fakeGuard, publisher *fakePublisher) *service.Service {
	m := metrics.New(prometheus.NewRegistry())
	return service.New(repo, guard, publisher, m, logger.NewNopLogger(), func() time.Time { return testNow })
}

func validRequest() service.ScheduleRequest {
	return service.ScheduleRequest{
		StoreID:   "store-1",
		BlogID:    "blog-1",
		Title:     "Summer Sale",
		Body:      "<p>body</p>",
		Tags:      []string{"sale"},
		LocalDate: "2025-06-02",
		LocalTime: "09:00",
		Timezone:  "America/New_York",
	}
}

func scheduledPost(id uuid.UUID) domain.ScheduledPost {
	ext := "art-1"
	return domain.ScheduledPost{
		ID:                id,
		StoreID:           "store-1",
		ExternalBlogID:    "blog-1",
		ExternalArticleID: &ext,
		Title:             "Summer Sale",
		StoreTimezone:     "America/New_York",
		ScheduledAt:       testNow.Add(time.Hour),
		Status:            domain.StatusScheduled,
	}
}

func TestSchedule(t *testing.T) {
	repo := newFakeRepo()
	guard := &fakeGuard{}
	publisher := &fakePublisher{}
	svc := newTestService(repo, guard, publisher)

	post, err := svc.Schedule(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusScheduled, post.Status)
	require.NotNil(t, post.ExternalArticleID)
	assert.Equal(t, "art-1", *post.ExternalArticleID)
	// 09:00 EDT on 2025-06-02 is 13:00 UTC.
	assert.Equal(t, time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC), post.ScheduledAt)

	stored, err := repo.GetByID(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, stored.Status)
	assert.Equal(t, []string{"Summer Sale"}, guard.remembered)
}

func TestSchedule_DuplicateCreatesNoDraft(t *testing.T) {
	repo := newFakeRepo()
	guard := &fakeGuard{duplicate: &dedup.Result{IsDuplicate: true, ExistingID: "post-0"}}
	publisher := &fakePublisher{}
	svc := newTestService(repo, guard, publisher)

	_, err := svc.Schedule(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateDetected))
	assert.Equal(t, 0, publisher.createCalls, "rejected submissions must not create platform drafts")
}

func TestSchedule_PastDateCreatesNoDraft(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := newTestService(repo, &fakeGuard{}, publisher)

	req := validRequest()
	req.LocalDate = "2025-05-30"

	_, err := svc.Schedule(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrScheduleInPast))
	assert.Equal(t, 0, publisher.createCalls)
}

func TestSchedule_SameDayPastTimeAccepted(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := newTestService(repo, &fakeGuard{}, publisher)

	// 12:00 UTC is 08:00 in New York; 06:00 local has already passed but
	// it is still today, so the post becomes immediately eligible.
	req := validRequest()
	req.LocalDate = "2025-06-01"
	req.LocalTime = "06:00"

	post, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, post.Status)
	assert.True(t, post.ScheduledAt.Before(testNow))
}

func TestSchedule_InvalidTimezone(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeGuard{}, &fakePublisher{})

	req := validRequest()
	req.Timezone = "Not/AZone"

	_, err := svc.Schedule(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTimezone))
}

func TestPublishNow(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := newTestService(repo, &fakeGuard{}, publisher)

	id := uuid.New()
	repo.add(scheduledPost(id))

	post, err := svc.PublishNow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, post.Status)
	assert.Equal(t, 1, publisher.publishCalls)
}

func TestPublishNow_AlreadyPublished(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeGuard{}, &fakePublisher{})

	id := uuid.New()
	post := scheduledPost(id)
	post.Status = domain.StatusPublished
	repo.add(post)

	_, err := svc.PublishNow(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyPublished))
}

func TestPublishNow_AtMostOnce(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := newTestService(repo, &fakeGuard{}, publisher)

	id := uuid.New()
	repo.add(scheduledPost(id))

	// Two concurrent publish attempts race for the claim; exactly one may
	// reach the platform.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.PublishNow(context.Background(), id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, publisher.publishCalls, "exactly one visibility update, never two")
}

func TestPublishNow_PlatformRejection(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{publishErr: platform.ErrRejected}
	svc := newTestService(repo, &fakeGuard{}, publisher)

	id := uuid.New()
	repo.add(scheduledPost(id))

	_, err := svc.PublishNow(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrRejected))

	stored, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
}

func TestReschedule_PreservesExternalArticleID(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeGuard{}, &fakePublisher{})

	id := uuid.New()
	repo.add(scheduledPost(id))

	post, err := svc.Reschedule(context.Background(), id, "2025-06-10", "15:00", "Europe/Berlin")
	require.NoError(t, err)

	// 15:00 CEST on 2025-06-10 is 13:00 UTC.
	assert.Equal(t, time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC), post.ScheduledAt)
	assert.Equal(t, "Europe/Berlin", post.StoreTimezone)
	require.NotNil(t, post.ExternalArticleID)
	assert.Equal(t, "art-1", *post.ExternalArticleID, "rescheduling must not touch the platform draft")
}

func TestReschedule_TerminalStatusRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeGuard{}, &fakePublisher{})

	id := uuid.New()
	post := scheduledPost(id)
	post.Status = domain.StatusPublished
	repo.add(post)

	_, err := svc.Reschedule(context.Background(), id, "2025-06-10", "15:00", "Europe/Berlin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotReschedulable))
}

func TestCancel_ReleasesTitle(t *testing.T) {
	repo := newFakeRepo()
	guard := &fakeGuard{}
	svc := newTestService(repo, guard, &fakePublisher{})

	id := uuid.New()
	repo.add(scheduledPost(id))

	post, err := svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, post.Status)
	assert.Equal(t, []string{"Summer Sale"}, guard.forgotten)
}

func TestList_DerivedDisplayFields(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeGuard{}, &fakePublisher{})

	post := scheduledPost(uuid.New())
	post.ScheduledAt = time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	repo.add(post)

	pastDue := scheduledPost(uuid.New())
	pastDue.Status = domain.StatusPastDue
	repo.add(pastDue)

	views, err := svc.List(context.Background(), "store-1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	for _, view := range views {
		switch view.Status {
		case domain.StatusScheduled:
			assert.Equal(t, "2025-06-02", view.LocalDate)
			assert.Equal(t, "09:00", view.LocalTime)
			assert.Contains(t, view.TimeRemaining, "from now")
		case domain.StatusPastDue:
			assert.Equal(t, "should have published, retrying shortly", view.TimeRemaining)
		default:
			t.Errorf("unexpected status %s", view.Status)
		}
	}
}
