package prediction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/loan-decision/internal/cache"
	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/resilience"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetProfile(ctx context.Context, userID string) (decision.Profile, bool, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(decision.Profile)
	return profile, args.Bool(1), args.Error(2)
}

func (m *mockStore) UpsertProfile(ctx context.Context, userID string, profile decision.Profile) error {
	return m.Called(ctx, userID, profile).Error(0)
}

func (m *mockStore) SaveHistory(ctx context.Context, rec *database.HistoryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) ListHistory(ctx context.Context, userID string, limit int) ([]database.HistoryRecord, error) {
	args := m.Called(ctx, userID, limit)
	records, _ := args.Get(0).([]database.HistoryRecord)
	return records, args.Error(1)
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordPrediction(modelVersion, decision string, duration time.Duration) {
	m.Called(modelVersion, decision, duration)
}

func (m *mockMetrics) RecordHistoryWrite(outcome string) {
	m.Called(outcome)
}

func (m *mockMetrics) SetArtifactSlot(slot string, loaded bool) {
	m.Called(slot, loaded)
}

func (m *mockMetrics) SetBundleGeneration(generation uint64) {
	m.Called(generation)
}

// stubEngine always uses the heuristic and counts calls
type stubEngine struct {
	calls      int
	generation uint64
	seen       []decision.Profile
}

func (e *stubEngine) Predict(profile decision.Profile) decision.PredictionResult {
	e.calls++
	e.seen = append(e.seen, profile)
	return decision.Heuristic(profile)
}

func (e *stubEngine) Bundle() *decision.ModelBundle {
	if e.generation == 0 {
		e.generation = 1
	}
	return &decision.ModelBundle{Generation: e.generation}
}

func (e *stubEngine) Reload() *decision.ModelBundle {
	e.generation++
	return &decision.ModelBundle{
		Generation: e.generation,
		Slots: []decision.SlotStatus{
			{Slot: decision.SlotModel, Loaded: false},
			{Slot: decision.SlotTransformer, Loaded: true},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(engine Predictor, store Store, metrics Metrics, ttl time.Duration) *Service {
	return NewService(Options{
		Engine:  engine,
		Store:   store,
		Cache:   cache.NewPredictionCache(ttl, nil),
		Metrics: metrics,
		Logger:  quietLogger(),
	})
}

func TestRequestProfile(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]interface{}
		expected decision.Profile
	}{
		{
			name:     "top level",
			payload:  map[string]interface{}{"credit_score": 700.0},
			expected: decision.Profile{"credit_score": 700.0},
		},
		{
			name:     "nested data wins",
			payload:  map[string]interface{}{"credit_score": 700.0, "data": map[string]interface{}{"credit_score": 500.0}},
			expected: decision.Profile{"credit_score": 500.0},
		},
		{
			name:     "non-object data is a plain field",
			payload:  map[string]interface{}{"data": "x"},
			expected: decision.Profile{"data": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RequestProfile(tt.payload))
		})
	}
}

func TestPredictAnonymous(t *testing.T) {
	engine := &stubEngine{}
	store := &mockStore{}
	store.On("SaveHistory", mock.Anything, mock.MatchedBy(func(rec *database.HistoryRecord) bool {
		return rec.UserID == "" && rec.ModelVersion == decision.VersionStub
	})).Return(nil).Once()

	svc := newTestService(engine, store, nil, time.Minute)
	result := svc.Predict(context.Background(), "", map[string]interface{}{"credit_score": 500.0})

	assert.Equal(t, decision.Rejected, result.Decision)
	assert.Equal(t, decision.ReasonLowCreditScore, result.Reason)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "GetProfile", mock.Anything, mock.Anything)
}

func TestPredictMergesStoredProfile(t *testing.T) {
	engine := &stubEngine{}
	store := &mockStore{}
	store.On("GetProfile", mock.Anything, "u1").
		Return(decision.Profile{"credit_score": 500.0, "annual_salary": 120000.0}, true, nil)
	store.On("SaveHistory", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(engine, store, nil, 0)
	result := svc.Predict(context.Background(), "u1", map[string]interface{}{
		"data": map[string]interface{}{"credit_score": 720.0},
	})

	assert.Equal(t, decision.Approved, result.Decision)
	require.Len(t, engine.seen, 1)
	assert.Equal(t, decision.Profile{"credit_score": 720.0, "annual_salary": 120000.0}, engine.seen[0])
}

func TestPredictProfileLookupFailureFallsBackToRequest(t *testing.T) {
	engine := &stubEngine{}
	store := &mockStore{}
	store.On("GetProfile", mock.Anything, "u1").Return(nil, false, errors.New("db down"))
	store.On("SaveHistory", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(engine, store, nil, 0)
	result := svc.Predict(context.Background(), "u1", map[string]interface{}{"credit_score": 700.0})

	assert.Equal(t, decision.Approved, result.Decision)
	assert.Equal(t, decision.Profile{"credit_score": 700.0}, engine.seen[0])
}

func TestPredictHistoryFailureDoesNotChangeResult(t *testing.T) {
	store := &mockStore{}
	store.On("SaveHistory", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	metrics := &mockMetrics{}
	metrics.On("RecordPrediction", decision.VersionStub, string(decision.Approved), mock.Anything).Return()
	metrics.On("RecordHistoryWrite", HistoryFailed).Return().Once()

	svc := newTestService(&stubEngine{}, store, metrics, 0)
	result := svc.Predict(context.Background(), "", map[string]interface{}{"credit_score": 700.0})

	assert.Equal(t, decision.Heuristic(decision.Profile{"credit_score": 700.0}), result)
	metrics.AssertExpectations(t)
}

func TestPredictSkipsHistoryWhileCircuitOpen(t *testing.T) {
	store := &mockStore{}
	store.On("SaveHistory", mock.Anything, mock.Anything).Return(errors.New("db down")).Twice()

	metrics := &mockMetrics{}
	metrics.On("RecordPrediction", mock.Anything, mock.Anything, mock.Anything).Return()
	metrics.On("RecordHistoryWrite", HistoryFailed).Return().Twice()
	metrics.On("RecordHistoryWrite", HistorySkipped).Return().Once()

	svc := NewService(Options{
		Engine:  &stubEngine{},
		Store:   store,
		Metrics: metrics,
		Breaker: resilience.NewCircuitBreaker("history", resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
		}),
		Logger: quietLogger(),
	})

	for i := 0; i < 3; i++ {
		svc.Predict(context.Background(), "", map[string]interface{}{"credit_score": 700.0})
	}

	store.AssertNumberOfCalls(t, "SaveHistory", 2)
	metrics.AssertExpectations(t)
}

func TestPredictUsesCache(t *testing.T) {
	engine := &stubEngine{}
	svc := newTestService(engine, nil, nil, time.Minute)

	payload := map[string]interface{}{"credit_score": 700.0, "loan_amount": 1000.0}
	first := svc.Predict(context.Background(), "", payload)
	second := svc.Predict(context.Background(), "", map[string]interface{}{"loan_amount": 1000.0, "credit_score": 700.0})

	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.calls)

	svc.Reload()
	svc.Predict(context.Background(), "", payload)
	assert.Equal(t, 2, engine.calls)
}

func TestUpdateProfile(t *testing.T) {
	store := &mockStore{}
	store.On("GetProfile", mock.Anything, "u1").
		Return(decision.Profile{"credit_score": 500.0, "job_title": "analyst"}, true, nil)
	store.On("UpsertProfile", mock.Anything, "u1", decision.Profile{
		"credit_score":  710.0,
		"annual_salary": 90000.0,
	}).Return(nil).Once()
	store.On("SaveHistory", mock.Anything, mock.MatchedBy(func(rec *database.HistoryRecord) bool {
		return rec.UserID == "u1"
	})).Return(nil).Once()

	svc := newTestService(&stubEngine{}, store, nil, 0)
	result, err := svc.UpdateProfile(context.Background(), "u1", map[string]interface{}{
		"credit_score":  710.0,
		"annual_salary": 90000.0,
		"job_title":     nil,
		"role":          "admin",
	})

	require.NoError(t, err)
	assert.Equal(t, decision.Approved, result.Decision)
	store.AssertExpectations(t)
}

func TestUpdateProfileErrors(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		payload  map[string]interface{}
		setup    func(*mockStore)
		category apperrors.ErrorCategory
	}{
		{
			name:     "anonymous",
			userID:   "",
			payload:  map[string]interface{}{"age": 30.0},
			setup:    func(*mockStore) {},
			category: apperrors.CategoryAuth,
		},
		{
			name:     "out of bounds",
			userID:   "u1",
			payload:  map[string]interface{}{"age": -1.0, "credit_score": "high"},
			setup:    func(*mockStore) {},
			category: apperrors.CategoryValidation,
		},
		{
			name:    "lookup failure",
			userID:  "u1",
			payload: map[string]interface{}{"age": 30.0},
			setup: func(s *mockStore) {
				s.On("GetProfile", mock.Anything, "u1").Return(nil, false, errors.New("db down"))
			},
			category: apperrors.CategoryStorage,
		},
		{
			name:    "upsert failure",
			userID:  "u1",
			payload: map[string]interface{}{"age": 30.0},
			setup: func(s *mockStore) {
				s.On("GetProfile", mock.Anything, "u1").Return(nil, false, nil)
				s.On("UpsertProfile", mock.Anything, "u1", mock.Anything).Return(errors.New("locked"))
			},
			category: apperrors.CategoryStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			tt.setup(store)

			svc := newTestService(&stubEngine{}, store, nil, 0)
			_, err := svc.UpdateProfile(context.Background(), tt.userID, tt.payload)

			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, tt.category), "got %v", err)
			store.AssertNotCalled(t, "SaveHistory", mock.Anything, mock.Anything)
		})
	}
}

func TestHistory(t *testing.T) {
	records := []database.HistoryRecord{{ID: "h1", UserID: "u1"}}

	store := &mockStore{}
	store.On("ListHistory", mock.Anything, "u1", 20).Return(records, nil)
	store.On("ListHistory", mock.Anything, "u2", 20).Return(nil, errors.New("db down"))

	svc := newTestService(&stubEngine{}, store, nil, 0)

	got, err := svc.History(context.Background(), "u1", 20)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	_, err = svc.History(context.Background(), "u2", 20)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
}

func TestReloadPublishesBundle(t *testing.T) {
	metrics := &mockMetrics{}
	metrics.On("SetArtifactSlot", "model", false).Return().Once()
	metrics.On("SetArtifactSlot", "transformer", true).Return().Once()
	metrics.On("SetBundleGeneration", uint64(2)).Return().Once()

	engine := &stubEngine{generation: 1}
	svc := newTestService(engine, nil, metrics, time.Minute)

	bundle := svc.Reload()
	assert.Equal(t, uint64(2), bundle.Generation)
	metrics.AssertExpectations(t)
}
