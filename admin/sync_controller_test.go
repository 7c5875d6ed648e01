package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"ashare_backend/services/runhistory"
	"ashare_backend/services/syncer"
)

type stubRunner struct {
	accept bool
	got    []syncer.RunRequest
}

func (s *stubRunner) StartRun(req syncer.RunRequest) bool {
	s.got = append(s.got, req)
	return s.accept
}

func (s *stubRunner) Status() syncer.Snapshot {
	return syncer.Snapshot{Progress: "idle"}
}

type stubLister struct {
	runs  []runhistory.RunDocument
	err   error
	limit int64
}

func (s *stubLister) Recent(ctx context.Context, limit int64) ([]runhistory.RunDocument, error) {
	s.limit = limit
	return s.runs, s.err
}

func serve(h gin.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Handle(method, "/x", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestInitAllPassesRequest(t *testing.T) {
	runner := &stubRunner{accept: true}
	ctrl := NewSyncController(runner, nil, zerolog.Nop())

	w := serve(ctrl.InitAll, http.MethodGet, "/x?start_date=2024-03-01&end_date=2024-03-31&refresh=true")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":200,"message":"full import started"}`, w.Body.String())

	if assert.Len(t, runner.got, 1) {
		req := runner.got[0]
		assert.Equal(t, syncer.ModeFullImport, req.Mode)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), req.StartDate)
		assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), req.EndDate)
		assert.True(t, req.RefreshInstruments)
	}
}

func TestBusyRunnerIs400(t *testing.T) {
	ctrl := NewSyncController(&stubRunner{}, nil, zerolog.Nop())

	w := serve(ctrl.RefreshInstruments, http.MethodPost, "/x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":400,"message":"a sync is already running"}`, w.Body.String())
}

func TestRuns(t *testing.T) {
	lister := &stubLister{runs: []runhistory.RunDocument{{Mode: "daily_update", Succeeded: true}}}
	ctrl := NewSyncController(&stubRunner{}, lister, zerolog.Nop())

	w := serve(ctrl.Runs, http.MethodGet, "/x?limit=5")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"daily_update"`)
	assert.EqualValues(t, 5, lister.limit)

	lister.err = errors.New("mongo down")
	w = serve(ctrl.Runs, http.MethodGet, "/x")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
