package compute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/mineguard/internal/engine"
	"github.com/sells-group/mineguard/internal/raster"
	"github.com/sells-group/mineguard/internal/resilience"
)

func lease() raster.Region {
	return raster.NewRegion(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{86.40, 23.70}, {86.45, 23.70}, {86.45, 23.75}, {86.40, 23.75}, {86.40, 23.70},
	}}))
}

// fakeService answers compute calls by evaluating the decoded graph with the
// in-process engine.
func fakeService(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	eng := engine.New(engine.NewCatalog())
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		switch r.URL.Path {
		case "/v1/projects/minesector/value:compute":
			var req ValueRequest
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			img, err := raster.Decode(req.Expression)
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			v, err := eng.Reduce(r.Context(), raster.ReduceRequest{Image: img, Reducer: req.Reducer, Region: req.Region, Scale: req.Scale, MaxPixels: req.MaxPixels})
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(ValueResponse{Result: v}) //nolint:errcheck
		case "/v1/projects/minesector/pixels:compute":
			var req PixelsRequest
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			img, err := raster.Decode(req.Expression)
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			tile, err := eng.Sample(r.Context(), raster.SampleRequest{Image: img, Region: req.Region, Scale: req.Scale})
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(tile) //nolint:errcheck
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func fastGuard() *resilience.Guard {
	return &resilience.Guard{
		Retry:   resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		Breaker: resilience.NewBreaker(resilience.BreakerPolicy{FailureThreshold: 10, Cooldown: time.Minute}),
	}
}

func TestReduce_MatchesLocalEngine(t *testing.T) {
	t.Parallel()

	srv := fakeService(t, nil)
	defer srv.Close()

	img := raster.PixelArea().UpdateMask(raster.Constant(0).Paint(lease(), 1))
	req := raster.ReduceRequest{Image: img, Reducer: raster.ReducerSum, Region: lease().Buffered(500), Scale: 100, MaxPixels: 1e9}

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL))
	remote, err := client.Reduce(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, remote)

	local, err := engine.New(engine.NewCatalog()).Reduce(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.InDelta(t, *local, *remote, 1e-6)
}

func TestReduce_NullResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result": null}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL))
	v, err := client.Reduce(context.Background(), raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSample_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := fakeService(t, nil)
	defer srv.Close()

	img := raster.Constant(0).Where(raster.Constant(1), 2).Rename("status").AddBands(raster.Constant(3.5).Rename("depth"))
	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL))
	tile, err := client.Sample(context.Background(), raster.SampleRequest{Image: img, Region: lease(), Scale: 500})
	require.NoError(t, err)

	assert.Equal(t, []string{"status", "depth"}, tile.Bands)
	assert.Positive(t, tile.Width)
	v, ok := tile.At(tile.Band("depth"), 0, 0)
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 0)
}

func TestSample_RejectsMalformedTile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"width": 2, "height": 2, "bands": ["status"], "values": [[1]], "valid": [[true]]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL))
	_, err := client.Sample(context.Background(), raster.SampleRequest{Image: raster.Constant(1), Region: lease(), Scale: 10})
	assert.ErrorContains(t, err, "wrong size")
}

func TestReduce_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "Image.select: band not found", "status": "INVALID_ARGUMENT"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL), WithGuard(fastGuard()))
	_, err := client.Reduce(context.Background(), raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestReduce_TransientErrorRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`overloaded`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"result": 12.5}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL), WithGuard(fastGuard()))
	v, err := client.Reduce(context.Background(), raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 12.5, *v, 0)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReduce_TransientWithoutGuardFailsOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL))
	_, err := client.Reduce(context.Background(), raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(1), calls.Load())
}

func TestReduce_ContextTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL), WithGuard(fastGuard()))
	_, err := client.Reduce(ctx, raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReduce_CredentialFailure(t *testing.T) {
	t.Parallel()

	client := NewClient("minesector", NewProvider(StaticToken("")), WithBaseURL("http://127.0.0.1:0"))
	_, err := client.Reduce(context.Background(), raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 10})
	require.Error(t, err)
	var chain *ChainError
	assert.ErrorAs(t, err, &chain)
}

func TestNilImage(t *testing.T) {
	t.Parallel()

	client := NewClient("minesector", StaticToken("test-token"))
	_, err := client.Reduce(context.Background(), raster.ReduceRequest{})
	assert.Error(t, err)
	_, err = client.Sample(context.Background(), raster.SampleRequest{})
	assert.Error(t, err)
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	c := NewClient("p", StaticToken("t"), WithRateLimit(10, 0)).(*httpClient)
	assert.InDelta(t, 10, float64(c.limiter.Limit()), 0)
	assert.Equal(t, 1, c.limiter.Burst())

	c = NewClient("p", StaticToken("t"), WithRateLimit(0, 3)).(*httpClient)
	assert.InDelta(t, 5, float64(c.limiter.Limit()), 0, "non-positive rate keeps the default")
}

func TestWithTimeoutKeepsTransport(t *testing.T) {
	t.Parallel()

	base := NewClient("p", StaticToken("t")).(*httpClient)
	c := NewClient("p", StaticToken("t"), WithTimeout(7*time.Second)).(*httpClient)
	assert.Equal(t, 7*time.Second, c.http.Timeout)
	require.NotNil(t, c.http.Transport)
	assert.IsType(t, base.http.Transport, c.http.Transport)

	c = NewClient("p", StaticToken("t"), WithTimeout(0)).(*httpClient)
	assert.Equal(t, base.http.Timeout, c.http.Timeout)
}

func TestReduce_RateLimitWaitPastDeadline(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := fakeService(t, &calls)
	defer srv.Close()

	client := NewClient("minesector", StaticToken("test-token"), WithBaseURL(srv.URL), WithRateLimit(0.01, 1))
	req := raster.ReduceRequest{Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: lease(), Scale: 1000}
	_, err := client.Reduce(context.Background(), req)
	require.NoError(t, err)

	// The next token is a hundred seconds away.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = client.Reduce(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}
