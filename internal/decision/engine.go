package decision

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

// Engine is the single entry point for predictions. It loads the artifact bundle lazily
// on first use and shares it read-only across concurrent callers until Reload.
type Engine struct {
	loader BundleLoader
	logger *slog.Logger

	mu         sync.Mutex
	bundle     atomic.Pointer[ModelBundle]
	generation uint64
}

// NewEngine creates an engine that will load artifacts from loader on first use
func NewEngine(loader BundleLoader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		loader: loader,
		logger: logger,
	}
}

// Bundle returns the active bundle, loading it if no load has been attempted yet
func (e *Engine) Bundle() *ModelBundle {
	if b := e.bundle.Load(); b != nil {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if b := e.bundle.Load(); b != nil {
		return b
	}
	return e.swap()
}

// Reload replaces the active bundle with a freshly loaded one. In-flight predictions
// keep the bundle they started with.
func (e *Engine) Reload() *ModelBundle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.swap()
}

// swap must be called with e.mu held
func (e *Engine) swap() *ModelBundle {
	b := e.loader.Load()
	if b == nil {
		b = &ModelBundle{}
	}

	e.generation++
	b.Generation = e.generation
	e.bundle.Store(b)

	e.logger.Info("Artifact bundle ready",
		"generation", b.Generation,
		"mode", b.Mode(),
		"transformer", b.Transformer != nil,
		"model", b.Model != nil,
		"calibrator", b.Calibrator != nil,
		"explainer", b.Explainer != nil,
	)
	return b
}

// Predict returns a result for every profile. Incomplete bundles use the heuristic;
// any failure on the model path is reported as an "error" result rather than returned.
func (e *Engine) Predict(profile Profile) PredictionResult {
	bundle := e.Bundle()
	if !bundle.Complete() {
		return Heuristic(profile)
	}

	var result PredictionResult
	err := apperrors.SafeExecute(func() error {
		var predictErr error
		result, predictErr = e.predictWithModel(profile, bundle)
		return predictErr
	})
	if err != nil {
		if !apperrors.IsCategory(err, apperrors.CategoryFeatureMismatch) && !apperrors.IsCategory(err, apperrors.CategoryInference) {
			err = apperrors.NewInferenceError("prediction", err)
		}
		e.logger.Warn("Model prediction failed, returning error result",
			"generation", bundle.Generation,
			"error", err,
		)
		return errorResult(err)
	}
	return result
}

func (e *Engine) predictWithModel(profile Profile, bundle *ModelBundle) (PredictionResult, error) {
	vec, err := bundle.Transformer.Materialize(profile)
	if err != nil {
		return PredictionResult{}, err
	}

	score, err := ScoreVector(vec, bundle)
	if err != nil {
		return PredictionResult{}, err
	}

	contributions := []Contribution{}
	err = apperrors.SafeExecute(func() error {
		ranked, explainErr := Explain(vec, bundle)
		if explainErr != nil {
			return explainErr
		}
		contributions = ranked
		return nil
	})
	if err != nil {
		e.logger.Warn("Explanation unavailable", "generation", bundle.Generation, "error", err)
	}

	return PredictionResult{
		Decision:      score.Decision,
		Probability:   score.Probability,
		Reason:        "",
		Contributions: contributions,
		ModelVersion:  VersionModel,
	}, nil
}

// String describes the active bundle
func (e *Engine) String() string {
	b := e.bundle.Load()
	if b == nil {
		return "decision.Engine(unloaded)"
	}
	return fmt.Sprintf("decision.Engine(generation=%d, mode=%s)", b.Generation, b.Mode())
}
