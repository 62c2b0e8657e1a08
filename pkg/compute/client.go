// Package compute is a client for the remote raster compute service. It
// ships expression graphs as JSON and returns reductions and sampled tiles,
// so the detector can run unchanged against the hosted backend.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/mineguard/internal/raster"
	"github.com/sells-group/mineguard/internal/resilience"
)

const defaultBaseURL = "https://earthengine.googleapis.com"

// Client evaluates expression graphs on the compute service.
type Client interface {
	raster.Evaluator
}

// ValueRequest is the body of a value:compute call.
type ValueRequest struct {
	Expression raster.Graph   `json:"expression"`
	Reducer    raster.Reducer `json:"reducer"`
	Region     raster.Region  `json:"region"`
	Scale      float64        `json:"scale"`
	MaxPixels  float64        `json:"max_pixels,omitempty"`
}

// ValueResponse is the body returned by value:compute. Result is null when
// the region held no unmasked pixels.
type ValueResponse struct {
	Result *float64 `json:"result"`
}

// PixelsRequest is the body of a pixels:compute call.
type PixelsRequest struct {
	Expression raster.Graph  `json:"expression"`
	Region     raster.Region `json:"region"`
	Scale      float64       `json:"scale"`
	MaxPixels  float64       `json:"max_pixels,omitempty"`
}

// APIError is the error envelope of the compute service.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compute: %d %s: %s", e.Code, e.Status, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the service URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout bounds each HTTP attempt, keeping the pooled transport.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// WithRateLimit caps outgoing calls per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithGuard retries transient failures behind a circuit breaker.
func WithGuard(g *resilience.Guard) Option {
	return func(c *httpClient) { c.guard = g }
}

type httpClient struct {
	baseURL string
	project string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
	guard   *resilience.Guard
	log     *zap.Logger
}

// NewClient creates a client for project authenticating with tokens.
func NewClient(project string, tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		project: project,
		tokens:  tokens,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		log:     zap.L().With(zap.String("component", "compute")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Reduce(ctx context.Context, req raster.ReduceRequest) (*float64, error) {
	if req.Image == nil {
		return nil, eris.New("compute: reduce: nil image")
	}
	body := ValueRequest{
		Expression: raster.Encode(req.Image),
		Reducer:    req.Reducer,
		Region:     req.Region,
		Scale:      req.Scale,
		MaxPixels:  req.MaxPixels,
	}
	return resilience.Call(ctx, c.guard, "value", func(ctx context.Context) (*float64, error) {
		var out ValueResponse
		if err := c.post(ctx, "value:compute", body, &out); err != nil {
			return nil, err
		}
		return out.Result, nil
	})
}

func (c *httpClient) Sample(ctx context.Context, req raster.SampleRequest) (*raster.Tile, error) {
	if req.Image == nil {
		return nil, eris.New("compute: sample: nil image")
	}
	body := PixelsRequest{
		Expression: raster.Encode(req.Image),
		Region:     req.Region,
		Scale:      req.Scale,
		MaxPixels:  req.MaxPixels,
	}
	return resilience.Call(ctx, c.guard, "pixels", func(ctx context.Context) (*raster.Tile, error) {
		var tile raster.Tile
		if err := c.post(ctx, "pixels:compute", body, &tile); err != nil {
			return nil, err
		}
		if err := checkTile(&tile); err != nil {
			return nil, err
		}
		return &tile, nil
	})
}

func (c *httpClient) post(ctx context.Context, method string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "compute: rate limit wait")
		}
		// The limiter refuses early when the wait would outlast the deadline.
		if _, ok := ctx.Deadline(); ok {
			return eris.Wrapf(context.DeadlineExceeded, "compute: rate limit wait: %v", err)
		}
		return eris.Wrap(err, "compute: rate limit wait")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return eris.Wrap(err, "compute: credentials")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "compute: marshal request")
	}
	endpoint := c.baseURL + "/v1/projects/" + url.PathEscape(c.project) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "compute: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "compute: "+method)
		}
		return resilience.NewTransientError(eris.Wrap(err, "compute: "+method), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "compute: read response"), resp.StatusCode)
	}
	c.log.Debug("compute call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeError(resp.StatusCode, data)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "compute: decode response")
	}
	return nil
}

func decodeError(code int, data []byte) *APIError {
	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		if env.Error.Code == 0 {
			env.Error.Code = code
		}
		return env.Error
	}
	msg := string(data)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{Code: code, Status: http.StatusText(code), Message: msg}
}

// checkTile rejects tiles whose band arrays do not match their frame.
func checkTile(t *raster.Tile) error {
	n := t.Pixels()
	if len(t.Values) != len(t.Bands) || len(t.Valid) != len(t.Bands) {
		return eris.Errorf("compute: tile has %d bands but %d value planes", len(t.Bands), len(t.Values))
	}
	for b := range t.Bands {
		if len(t.Values[b]) != n || len(t.Valid[b]) != n {
			return eris.Errorf("compute: tile band %q has wrong size for %dx%d", t.Bands[b], t.Width, t.Height)
		}
	}
	return nil
}
