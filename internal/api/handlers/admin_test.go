package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	domain "github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func adminRouter(resolver *MockResolver, sweeper *MockSweeper) *gin.Engine {
	h := NewAdminHandler(resolver, sweeper, quietLogger())
	router := gin.New()
	router.POST("/admin/predictions/:id/resolve", h.ResolvePrediction)
	router.POST("/admin/sweep", h.RunSweep)
	return router
}

func TestResolvePrediction(t *testing.T) {
	errVal := 0.5
	resolver := &MockResolver{}
	resolver.On("Resolve", mock.Anything, int64(1), 100.5).Return(&domain.Resolution{
		Prediction: domain.Prediction{ID: 1, Instrument: "TSLA", Resolved: true, Error: &errVal},
		Stat:       domain.ModelStat{Instrument: "TSLA", Model: "arima", MeanAbsError: 0.5, Count: 1},
	}, nil)
	resolver.On("Resolve", mock.Anything, int64(2), 100.5).Return(nil, database.ErrAlreadyResolved)
	resolver.On("Resolve", mock.Anything, int64(3), 100.5).Return(nil, database.ErrNotFound)
	resolver.On("Resolve", mock.Anything, int64(4), 100.5).Return(nil, errors.New("locked"))
	router := adminRouter(resolver, &MockSweeper{})

	w := serve(t, router, http.MethodPost, "/admin/predictions/1/resolve", `{"actual":100.5}`)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Resolution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Prediction.Resolved)
	assert.Equal(t, int64(1), got.Stat.Count)

	w = serve(t, router, http.MethodPost, "/admin/predictions/2/resolve", `{"actual":100.5}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(t, router, http.MethodPost, "/admin/predictions/3/resolve", `{"actual":100.5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, router, http.MethodPost, "/admin/predictions/4/resolve", `{"actual":100.5}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	resolver.AssertExpectations(t)
}

func TestResolvePrediction_BadInput(t *testing.T) {
	resolver := &MockResolver{}
	router := adminRouter(resolver, &MockSweeper{})

	for _, tc := range []struct{ path, body string }{
		{"/admin/predictions/1/resolve", `{}`},
		{"/admin/predictions/1/resolve", `not json`},
		{"/admin/predictions/zero/resolve", `{"actual":1}`},
		{"/admin/predictions/0/resolve", `{"actual":1}`},
	} {
		w := serve(t, router, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path+" "+tc.body)
	}
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSweep(t *testing.T) {
	sweeper := &MockSweeper{}
	sweeper.On("RunSweep", mock.Anything).Return(services.SweepResult{
		Due: 3, Resolved: 2, Skipped: 1, Duration: 15 * time.Millisecond,
	})
	router := adminRouter(&MockResolver{}, sweeper)

	w := serve(t, router, http.MethodPost, "/admin/sweep", "")

	require.Equal(t, http.StatusOK, w.Code)
	var got services.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Due)
	assert.Equal(t, 2, got.Resolved)
	assert.Equal(t, 1, got.Skipped)
	sweeper.AssertExpectations(t)
}
