// Package platform provides the HTTP client for the external publishing
// platform's content API. The platform's native future-publish feature is
// deliberately not used: content is always created invisible and flipped
// to visible by this service, because the native path has been observed to
// publish immediately despite a future timestamp.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/blog-scheduler/internal/logger"
)

var (
	// ErrUnavailable is returned for network failures and 5xx responses.
	// Callers may retry with backoff.
	ErrUnavailable = errors.New("platform unavailable")

	// ErrRejected is returned for 4xx responses. Not retryable; the
	// payload or request is wrong and must be surfaced to the caller.
	ErrRejected = errors.New("platform rejected request")
)

// Payload is the opaque content handed over by the generation pipeline.
type Payload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

// Article is the platform's authoritative record for a piece of content.
type Article struct {
	ID          string     `json:"id"`
	BlogID      string     `json:"blog_id"`
	Title       string     `json:"title"`
	Visible     bool       `json:"visible"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Client defines the narrow platform surface the scheduler consumes.
type Client interface {
	// CreateArticle creates content in the given blog with the requested
	// visibility and returns the platform-assigned article id.
	CreateArticle(ctx context.Context, blogID string, payload Payload, visible bool) (string, error)

	// UpdateVisibility flips an article's visibility and optionally stamps
	// a published-at time.
	UpdateVisibility(ctx context.Context, articleID string, visible bool, publishedAt *time.Time) (*Article, error)

	// GetArticle reads back the authoritative remote state.
	GetArticle(ctx context.Context, articleID string) (*Article, error)
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  logger.Logger
}

// NewHTTPClient creates a platform client.
func NewHTTPClient(baseURL, token string, timeout time.Duration, log logger.Logger) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("platform URL is required")
	}
	if token == "" {
		return nil, errors.New("platform token is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}, nil
}

type createArticleRequest struct {
	Article struct {
		Title   string   `json:"title"`
		Body    string   `json:"body"`
		Tags    []string `json:"tags,omitempty"`
		Visible bool     `json:"visible"`
	} `json:"article"`
}

type updateVisibilityRequest struct {
	Article struct {
		Visible     bool       `json:"visible"`
		PublishedAt *time.Time `json:"published_at,omitempty"`
	} `json:"article"`
}

type articleResponse struct {
	Article Article `json:"article"`
}

type apiError struct {
	Errors any `json:"errors,omitempty"`
	Error_ any `json:"error,omitempty"`
}

// CreateArticle creates content in a blog. The visible flag is passed
// through as-is; the caller decides draft vs immediate visibility.
func (c *HTTPClient) CreateArticle(ctx context.Context, blogID string, payload Payload, visible bool) (string, error) {
	if blogID == "" {
		return "", fmt.Errorf("%w: blog id is required", ErrRejected)
	}

	var req createArticleRequest
	req.Article.Title = payload.Title
	req.Article.Body = payload.Body
	req.Article.Tags = payload.Tags
	req.Article.Visible = visible

	endpoint := fmt.Sprintf("%s/api/blogs/%s/articles", c.baseURL, blogID)
	var resp articleResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return "", err
	}

	c.logger.Info("created article on platform",
		logger.String("article_id", resp.Article.ID),
		logger.String("blog_id", blogID),
		logger.Bool("visible", resp.Article.Visible),
	)
	return resp.Article.ID, nil
}

// UpdateVisibility flips visibility on an existing article.
func (c *HTTPClient) UpdateVisibility(ctx context.Context, articleID string, visible bool, publishedAt *time.Time) (*Article, error) {
	var req updateVisibilityRequest
	req.Article.Visible = visible
	req.Article.PublishedAt = publishedAt

	endpoint := fmt.Sprintf("%s/api/articles/%s", c.baseURL, articleID)
	var resp articleResponse
	if err := c.doJSON(ctx, http.MethodPut, endpoint, req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("updated article visibility",
		logger.String("article_id", articleID),
		logger.Bool("visible", visible),
	)
	return &resp.Article, nil
}

// GetArticle reads an article's current remote state.
func (c *HTTPClient) GetArticle(ctx context.Context, articleID string) (*Article, error) {
	endpoint := fmt.Sprintf("%s/api/articles/%s", c.baseURL, articleID)
	var resp articleResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Article, nil
}

// doJSON performs one request/response cycle and maps transport and HTTP
// status failures onto the client's error taxonomy.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Access-Token", c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, readErr)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, summarize(bodyBytes))
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, summarize(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

const maxErrorBodyLen = 512

// summarize extracts the platform's error detail for diagnostics, falling
// back to a truncated raw body.
func summarize(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Errors != nil {
			return fmt.Sprintf("%v", apiErr.Errors)
		}
		if apiErr.Error_ != nil {
			return fmt.Sprintf("%v", apiErr.Error_)
		}
	}
	s := string(body)
	if len(s) > maxErrorBodyLen {
		s = s[:maxErrorBodyLen]
	}
	return s
}
