// Package scheduler provides the polling control loop that drives due
// posts through the publish transition.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/metrics"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultBatchSize       = 50
	defaultWorkers         = 4
	defaultPublishTimeout  = 30 * time.Second
	defaultPastDueAfter    = 10 * time.Minute
	defaultStaleClaimAfter  = 5 * time.Minute
	defaultRecoveryInterval = time.Minute
)

// Store is the persistence surface the poller drives.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkPastDue(ctx context.Context, cutoff time.Time) (int64, error)
	ResetStalePublishing(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PublishRunner performs the publish transition for one article.
type PublishRunner interface {
	PublishNow(ctx context.Context, articleID string) (*platform.Article, error)
}

// Config holds poller configuration options.
type Config struct {
	// PollInterval is the fixed tick interval.
	PollInterval time.Duration
	// BatchSize bounds how many due posts one tick claims.
	BatchSize int
	// Workers bounds how many posts publish concurrently within a tick,
	// so one hung platform call cannot stall unrelated items.
	Workers int
	// PublishTimeout bounds a single post's publish sequence.
	PublishTimeout time.Duration
	// PastDueAfter is the grace period before an unclaimed overdue post
	// is flagged past_due.
	PastDueAfter time.Duration
	// StaleClaimAfter is the age at which a publishing claim is assumed
	// lost to a crash and reset.
	StaleClaimAfter time.Duration
	// RecoveryInterval is how often the stale-claim sweep runs.
	RecoveryInterval time.Duration

	// Clock overrides the time source; nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     defaultPollInterval,
		BatchSize:        defaultBatchSize,
		Workers:          defaultWorkers,
		PublishTimeout:   defaultPublishTimeout,
		PastDueAfter:     defaultPastDueAfter,
		StaleClaimAfter:  defaultStaleClaimAfter,
		RecoveryInterval: defaultRecoveryInterval,
	}
}

// Poller periodically scans for due posts and publishes each one
// independently. Per-item errors are recorded on the post and never abort
// the tick.
type Poller struct {
	store   Store
	runner  PublishRunner
	logger  logger.Logger
	metrics *metrics.Metrics

	pollInterval     time.Duration
	batchSize        int
	workers          int
	publishTimeout   time.Duration
	pastDueAfter     time.Duration
	staleClaimAfter  time.Duration
	recoveryInterval time.Duration
	now              func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New creates a poller.
func New(store Store, runner PublishRunner, cfg Config, m *metrics.Metrics, log logger.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.PastDueAfter <= 0 {
		cfg.PastDueAfter = defaultPastDueAfter
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = defaultStaleClaimAfter
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = defaultRecoveryInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Poller{
		store:            store,
		runner:           runner,
		logger:           log,
		metrics:          m,
		pollInterval:     cfg.PollInterval,
		batchSize:        cfg.BatchSize,
		workers:          cfg.Workers,
		publishTimeout:   cfg.PublishTimeout,
		pastDueAfter:     cfg.PastDueAfter,
		staleClaimAfter:  cfg.StaleClaimAfter,
		recoveryInterval: cfg.RecoveryInterval,
		now:              cfg.Clock,
		stopChan:         make(chan struct{}),
	}
}

// Start begins the polling loop and the stale-claim recovery loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.wg.Add(1)
	go p.runRecovery(ctx)

	p.logger.Info("scheduler poller started",
		logger.Duration("poll_interval", p.pollInterval),
		logger.Int("batch_size", p.batchSize),
		logger.Int("workers", p.workers),
	)
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("scheduler poller stopped")
}

// IsRunning reports whether the poller is currently running.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Process immediately on start so a restart doesn't add a full
	// interval of delay to already-due posts.
	p.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick claims due posts and drives each through the publish transition on
// a bounded worker pool, then sweeps for past-due stragglers. Exported so
// tests can advance time deterministically without real sleeping.
func (p *Poller) Tick(ctx context.Context) {
	start := p.now()

	due, err := p.store.ClaimDue(ctx, start, p.batchSize)
	if err != nil {
		p.logger.Error("failed to claim due posts", logger.Error(err))
	} else if len(due) > 0 {
		p.logger.Debug("processing due posts", logger.Int("count", len(due)))
		p.publishBatch(ctx, due)
	}

	p.sweepPastDue(ctx, start)

	p.metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (p *Poller) publishBatch(ctx context.Context, posts []domain.ScheduledPost) {
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i := range posts {
		wg.Add(1)
		sem <- struct{}{}
		go func(post *domain.ScheduledPost) {
			defer wg.Done()
			defer func() { <-sem }()
			p.publishOne(ctx, post)
		}(&posts[i])
	}

	wg.Wait()
}

func (p *Poller) publishOne(ctx context.Context, post *domain.ScheduledPost) {
	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	if post.ExternalArticleID == nil {
		p.handlePublishError(ctx, post, "missing external article reference")
		return
	}

	article, err := p.runner.PublishNow(pubCtx, *post.ExternalArticleID)
	if err != nil {
		p.handlePublishError(ctx, post, err.Error())
		return
	}

	publishedAt := p.now().UTC()
	if article.PublishedAt != nil {
		publishedAt = article.PublishedAt.UTC()
	}

	if markErr := p.store.MarkPublished(ctx, post.ID, publishedAt); markErr != nil {
		// The article is live; only the local record is behind. The
		// stale-claim recovery will re-expose it and PublishNow is
		// idempotent, so the next pass converges.
		p.logger.Error("failed to mark post as published",
			logger.String("post_id", post.ID.String()),
			logger.Error(markErr),
		)
		return
	}

	p.metrics.PublishedTotal.Inc()
	p.logger.Info("published post",
		logger.String("post_id", post.ID.String()),
		logger.String("article_id", *post.ExternalArticleID),
		logger.Time("scheduled_at", post.ScheduledAt),
		logger.Time("published_at", publishedAt),
	)
}

func (p *Poller) handlePublishError(ctx context.Context, post *domain.ScheduledPost, reason string) {
	p.logger.Error("failed to publish post",
		logger.String("post_id", post.ID.String()),
		logger.Int("attempt_count", post.AttemptCount),
		logger.String("reason", reason),
	)

	p.metrics.FailedTotal.Inc()
	if markErr := p.store.MarkFailed(ctx, post.ID, reason); markErr != nil {
		p.logger.Error("failed to mark post as failed",
			logger.String("post_id", post.ID.String()),
			logger.Error(markErr),
		)
	}
}

// sweepPastDue flags scheduled posts overdue past the grace period. This
// is a visibility signal for operators, distinct from a publish failure:
// the common cause is the poller process having been briefly unavailable.
func (p *Poller) sweepPastDue(ctx context.Context, now time.Time) {
	cutoff := now.Add(-p.pastDueAfter)
	flagged, err := p.store.MarkPastDue(ctx, cutoff)
	if err != nil {
		p.logger.Error("past-due sweep failed", logger.Error(err))
		return
	}
	if flagged > 0 {
		p.metrics.PastDueTotal.Add(float64(flagged))
		p.logger.Warn("flagged overdue posts as past due",
			logger.Int64("count", flagged),
			logger.Duration("grace_period", p.pastDueAfter),
		)
	}
}

// runRecovery resets stale publishing claims back to scheduled. This
// handles posts that were claimed but whose worker crashed before
// completing.
func (p *Poller) runRecovery(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reset, err := p.store.ResetStalePublishing(ctx, p.staleClaimAfter)
			if err != nil {
				p.logger.Error("stale claim recovery failed", logger.Error(err))
			} else if reset > 0 {
				p.metrics.StaleRecovered.Add(float64(reset))
				p.logger.Warn("recovered stale publishing claims",
					logger.Int64("reset", reset))
			}
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
