package prediction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/ZanzyTHEbar/loan-decision/internal/cache"
	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/resilience"
)

// ServiceDatabase is the dependency name reported to the degradation manager
const ServiceDatabase = "database"

// History write outcomes
const (
	HistorySaved   = "saved"
	HistoryFailed  = "failed"
	HistorySkipped = "circuit_open"
)

// Predictor is the decision facade
type Predictor interface {
	Predict(profile decision.Profile) decision.PredictionResult
	Bundle() *decision.ModelBundle
	Reload() *decision.ModelBundle
}

// Store persists profiles and prediction history
type Store interface {
	GetProfile(ctx context.Context, userID string) (decision.Profile, bool, error)
	UpsertProfile(ctx context.Context, userID string, profile decision.Profile) error
	SaveHistory(ctx context.Context, rec *database.HistoryRecord) error
	ListHistory(ctx context.Context, userID string, limit int) ([]database.HistoryRecord, error)
}

// Metrics receives prediction and artifact measurements
type Metrics interface {
	RecordPrediction(modelVersion, decision string, duration time.Duration)
	RecordHistoryWrite(outcome string)
	SetArtifactSlot(slot string, loaded bool)
	SetBundleGeneration(generation uint64)
}

// HealthRecorder tracks dependency outcomes
type HealthRecorder interface {
	RecordSuccess(serviceName string)
	RecordError(serviceName string, err error)
}

// EventLogger receives one line per prediction
type EventLogger interface {
	PredictionLogger(userID, modelVersion, decision string, probability float64, duration time.Duration, cacheHit bool)
}

// Options configures a Service
type Options struct {
	Engine       Predictor
	Store        Store
	Cache        *cache.PredictionCache
	Breaker      *resilience.CircuitBreaker
	Metrics      Metrics
	Health       HealthRecorder
	Logger       *slog.Logger
	Events       EventLogger
	WriteTimeout time.Duration
}

// Service answers prediction requests: it merges stored profiles, consults the cache,
// calls the engine and records history.
type Service struct {
	engine       Predictor
	store        Store
	cache        *cache.PredictionCache
	breaker      *resilience.CircuitBreaker
	metrics      Metrics
	health       HealthRecorder
	logger       *slog.Logger
	events       EventLogger
	writeTimeout time.Duration
}

// NewService creates a prediction service. Store, Cache, Breaker, Metrics and Health are optional.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("history", resilience.CircuitBreakerConfig{})
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	return &Service{
		engine:       opts.Engine,
		store:        opts.Store,
		cache:        opts.Cache,
		breaker:      opts.Breaker,
		metrics:      opts.Metrics,
		health:       opts.Health,
		logger:       opts.Logger,
		events:       opts.Events,
		writeTimeout: opts.WriteTimeout,
	}
}

// RequestProfile extracts the profile from a request payload. A "data" object takes
// precedence over top-level fields.
func RequestProfile(payload map[string]interface{}) decision.Profile {
	if nested, ok := payload["data"].(map[string]interface{}); ok {
		return decision.Profile(nested)
	}
	return decision.Profile(payload)
}

// Predict scores payload for userID. Anonymous callers pass an empty userID. The stored
// profile, when there is one, is merged first and request fields override it.
func (s *Service) Predict(ctx context.Context, userID string, payload map[string]interface{}) decision.PredictionResult {
	merged := RequestProfile(payload)

	if userID != "" && s.store != nil {
		stored, found, err := s.store.GetProfile(ctx, userID)
		switch {
		case err != nil:
			s.recordHealth(err)
			s.logger.Warn("Failed to load stored profile, using request fields only",
				"user_id", userID,
				"error", err,
			)
		case found:
			s.recordHealth(nil)
			merged = decision.Profile(lo.Assign(map[string]interface{}(stored), map[string]interface{}(merged)))
		}
	}

	result := s.predict(userID, merged)
	s.saveHistory(ctx, userID, merged, result)
	return result
}

// UpdateProfile applies the allow-listed fields of payload to the caller's stored profile,
// then predicts on the updated profile and records it.
func (s *Service) UpdateProfile(ctx context.Context, userID string, payload map[string]interface{}) (decision.PredictionResult, error) {
	if userID == "" {
		return decision.PredictionResult{}, apperrors.NewAuthError("authentication required", nil)
	}
	if s.store == nil {
		return decision.PredictionResult{}, apperrors.NewConfigurationError("profile storage is not configured", nil)
	}

	update, err := FilterUpdate(payload)
	if err != nil {
		return decision.PredictionResult{}, err
	}

	stored, _, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.recordHealth(err)
		return decision.PredictionResult{}, apperrors.NewStorageError("get profile", err)
	}

	profile := decision.Profile(lo.OmitBy(
		lo.Assign(map[string]interface{}(stored), map[string]interface{}(update)),
		func(_ string, v interface{}) bool { return v == nil },
	))

	if err := s.store.UpsertProfile(ctx, userID, profile); err != nil {
		s.recordHealth(err)
		return decision.PredictionResult{}, apperrors.NewStorageError("upsert profile", err)
	}
	s.recordHealth(nil)

	result := s.predict(userID, profile)
	s.saveHistory(ctx, userID, profile, result)
	return result, nil
}

// History returns the caller's most recent predictions
func (s *Service) History(ctx context.Context, userID string, limit int) ([]database.HistoryRecord, error) {
	if s.store == nil {
		return nil, apperrors.NewConfigurationError("history storage is not configured", nil)
	}

	records, err := s.store.ListHistory(ctx, userID, limit)
	if err != nil {
		s.recordHealth(err)
		return nil, apperrors.NewStorageError("list history", err)
	}
	s.recordHealth(nil)
	return records, nil
}

// Bundle returns the active artifact bundle
func (s *Service) Bundle() *decision.ModelBundle {
	return s.engine.Bundle()
}

// Reload loads a fresh artifact bundle and drops cached results
func (s *Service) Reload() *decision.ModelBundle {
	bundle := s.engine.Reload()
	s.cache.Flush()
	s.PublishBundle(bundle)

	s.logger.Info("Artifacts reloaded",
		"generation", bundle.Generation,
		"mode", bundle.Mode(),
	)
	return bundle
}

// PublishBundle exports the slot states and generation of bundle as metrics
func (s *Service) PublishBundle(bundle *decision.ModelBundle) {
	if s.metrics == nil || bundle == nil {
		return
	}
	for _, slot := range bundle.Slots {
		s.metrics.SetArtifactSlot(string(slot.Slot), slot.Loaded)
	}
	s.metrics.SetBundleGeneration(bundle.Generation)
}

// Stats reports cache and history breaker state
func (s *Service) Stats() map[string]interface{} {
	return map[string]interface{}{
		"cache":           s.cache.Stats(),
		"history_breaker": s.breaker.Stats(),
	}
}

func (s *Service) predict(userID string, profile decision.Profile) decision.PredictionResult {
	start := time.Now()

	generation := s.engine.Bundle().Generation
	key, keyErr := cache.Key(profile, generation)
	if keyErr == nil {
		if cached, ok := s.cache.Get(key); ok {
			s.observe(userID, cached, time.Since(start), true)
			return cached
		}
	}

	result := s.engine.Predict(profile)
	if keyErr == nil {
		s.cache.Set(key, result)
	}

	s.observe(userID, result, time.Since(start), false)
	return result
}

func (s *Service) observe(userID string, result decision.PredictionResult, duration time.Duration, cacheHit bool) {
	if s.metrics != nil {
		s.metrics.RecordPrediction(result.ModelVersion, string(result.Decision), duration)
	}
	if s.events != nil {
		s.events.PredictionLogger(userID, result.ModelVersion, string(result.Decision), result.Probability, duration, cacheHit)
	}
}

// saveHistory never fails the request. The breaker keeps a struggling database from
// adding its timeout to every prediction.
func (s *Service) saveHistory(ctx context.Context, userID string, profile decision.Profile, result decision.PredictionResult) {
	if s.store == nil {
		return
	}

	rec := database.NewHistoryRecord(userID, profile, result)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	err := s.breaker.Execute(writeCtx, func(ctx context.Context) error {
		return s.store.SaveHistory(ctx, rec)
	})

	outcome := HistorySaved
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = HistorySkipped
		s.logger.Warn("Prediction history not saved, circuit open", "user_id", userID)
	case err != nil:
		outcome = HistoryFailed
		s.recordHealth(err)
		s.logger.Warn("Failed to save prediction history",
			"user_id", userID,
			"model_version", result.ModelVersion,
			"error", err,
		)
	default:
		s.recordHealth(nil)
	}

	if s.metrics != nil {
		s.metrics.RecordHistoryWrite(outcome)
	}
}

func (s *Service) recordHealth(err error) {
	if s.health == nil {
		return
	}
	if err != nil {
		s.health.RecordError(ServiceDatabase, err)
		return
	}
	s.health.RecordSuccess(ServiceDatabase)
}
