package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookTrigger(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	trig := NewWebhookTrigger(srv.URL)
	require.NoError(t, trig.RecomputeFactors(context.Background(), "600000.SH"))
	require.NoError(t, trig.RecomputeAllScores(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, KindFactors, events[0].Kind)
	assert.Equal(t, "600000.SH", events[0].Code)
	assert.Equal(t, KindScores, events[1].Kind)
	assert.Empty(t, events[1].Code)
}

func TestWebhookTriggerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookTrigger(srv.URL).RecomputeFactors(context.Background(), "000001.SZ")
	var te *TriggerError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindFactors, te.Kind)
	assert.Equal(t, "000001.SZ", te.Code)
	assert.Contains(t, err.Error(), "status 500")
}

type countingTrigger struct {
	factors, scores int
	err             error
}

func (c *countingTrigger) RecomputeFactors(ctx context.Context, code string) error {
	c.factors++
	return c.err
}

func (c *countingTrigger) RecomputeAllScores(ctx context.Context) error {
	c.scores++
	return c.err
}

func TestFanoutCallsEveryTrigger(t *testing.T) {
	boom := errors.New("boom")
	a := &countingTrigger{}
	b := &countingTrigger{err: boom}
	f := Fanout{a, b, NewLogTrigger(zerolog.Nop())}

	err := f.RecomputeFactors(context.Background(), "600000.SH")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, Fanout{a}.RecomputeAllScores(context.Background()))

	assert.Equal(t, 1, a.factors)
	assert.Equal(t, 1, b.factors)
	assert.Equal(t, 1, a.scores)
}

func TestNATSTriggerConnectFailure(t *testing.T) {
	_, err := NewNATSTrigger("nats://127.0.0.1:1", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}
