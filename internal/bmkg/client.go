package bmkg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/disaster-response/internal/observability"
)

const (
	DefaultBaseURL = "https://data.bmkg.go.id/DataMKG/TEWS"
	fetchTimeout   = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Kind selects one of the three BMKG earthquake feeds.
type Kind string

const (
	KindLatest Kind = "latest"
	KindRecent Kind = "recent"
	KindFelt   Kind = "felt"
)

var feedFiles = map[Kind]string{
	KindLatest: "autogempa.json",
	KindRecent: "gempaterkini.json",
	KindFelt:   "gempadirasakan.json",
}

// StatusError is returned when the feed answers with a non-200 status.
// Callers may retry; the client never does.
type StatusError struct {
	Kind Kind
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bmkg %s feed: unexpected status code: %d: %s", e.Kind, e.Code, e.Body)
}

// Client fetches raw feed documents. The feed URLs are fixed; baseURL only
// varies in tests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
}

func NewClient(metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		baseURL: DefaultBaseURL,
		metrics: metrics,
	}
}

// URL returns the endpoint for a feed kind.
func (c *Client) URL(kind Kind) (string, error) {
	file, ok := feedFiles[kind]
	if !ok {
		return "", fmt.Errorf("unknown feed kind: %q", kind)
	}
	return c.baseURL + "/" + file, nil
}

// Fetch performs one GET against the feed and returns the body unparsed.
func (c *Client) Fetch(ctx context.Context, kind Kind) ([]byte, error) {
	url, err := c.URL(kind)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("error while doing request to %s feed: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Kind: kind, Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading %s feed body: %w", kind, err)
	}
	return body, nil
}
