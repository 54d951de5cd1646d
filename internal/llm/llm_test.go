package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Backoff = []time.Duration{time.Millisecond}
	return p
}

func TestOllamaClientComplete(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1","response":"{\"sentiment\":\"bullish\"}","done":true}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL+"/", "llama3.1", time.Second)
	out, err := client.Complete(context.Background(), "analyze AAPL")
	require.NoError(t, err)

	assert.Equal(t, `{"sentiment":"bullish"}`, out)
	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "analyze AAPL", got.Prompt)
	assert.False(t, got.Stream)
}

func TestOllamaClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "missing", time.Second).Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"  ","done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "m", time.Second).Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestInstrumentedRetriesThenSucceeds(t *testing.T) {
	var calls int32
	base := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", models.NewUpstreamError("stub", errors.New("503"))
		}
		return "ok", nil
	})

	collector, err := metrics.NewCollector()
	require.NoError(t, err)

	c := NewInstrumented(base, "stub", "m", time.Second, collector).WithPolicy(fastPolicy())
	out, err := c.Complete(WithPurpose(context.Background(), "decision"), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	n, err := testutil.GatherAndCount(collector.Registry(), "stockbot_llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInstrumentedGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	base := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", models.NewUpstreamError("stub", errors.New("down"))
	})

	_, err := NewInstrumented(base, "stub", "m", 0, nil).WithPolicy(fastPolicy()).
		Complete(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestInstrumentedRetriesPerCallTimeout(t *testing.T) {
	var calls int32
	base := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late but fine", nil
	})

	out, err := NewInstrumented(base, "stub", "m", 20*time.Millisecond, nil).WithPolicy(fastPolicy()).
		Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "late but fine", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInstrumentedStopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	base := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "x", nil
	})

	_, err := NewInstrumented(base, "stub", "m", time.Second, nil).Complete(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestPurposeDefaultsToGeneral(t *testing.T) {
	assert.Equal(t, "general", PurposeFrom(context.Background()))
	assert.Equal(t, "aggregate", PurposeFrom(WithPurpose(context.Background(), "aggregate")))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{LLMProvider: "bard", LLMTimeoutSeconds: 1}
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewBuildsOllama(t *testing.T) {
	cfg := &config.Config{LLMProvider: "ollama", OllamaURL: "http://127.0.0.1:1", LLMModel: "m", LLMTimeoutSeconds: 1}
	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := c.(*Instrumented)
	assert.True(t, ok)
}
