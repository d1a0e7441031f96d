package decision

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

// Slot names one of the four independently loaded artifacts
type Slot string

const (
	SlotTransformer Slot = "transformer"
	SlotModel       Slot = "model"
	SlotCalibrator  Slot = "calibrator"
	SlotExplainer   Slot = "explainer"
)

// Paths locates each artifact on disk. An empty path leaves its slot absent.
type Paths struct {
	Transformer string `json:"transformer"`
	Model       string `json:"model"`
	Calibrator  string `json:"calibrator"`
	Explainer   string `json:"explainer"`
}

// SlotStatus records the outcome of loading one slot
type SlotStatus struct {
	Slot   Slot   `json:"slot"`
	Path   string `json:"path"`
	Loaded bool   `json:"loaded"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`

	Err error `json:"-"`
}

// ModelBundle is the set of artifacts used for predictions. Any slot may be nil.
// A bundle is never mutated after it has been returned by a loader.
type ModelBundle struct {
	Transformer *Transformer
	Model       Model
	Calibrator  Calibrator
	Explainer   Explainer

	Slots      []SlotStatus
	Generation uint64
	LoadedAt   time.Time
}

// Complete reports whether the primary model and transformer are both present
func (b *ModelBundle) Complete() bool {
	return b != nil && b.Model != nil && b.Transformer != nil
}

// Mode is the model version tag predictions from this bundle will carry
func (b *ModelBundle) Mode() string {
	if b.Complete() {
		return VersionModel
	}
	return VersionStub
}

// Status returns the load outcome for slot
func (b *ModelBundle) Status(slot Slot) (SlotStatus, bool) {
	if b == nil {
		return SlotStatus{}, false
	}
	for _, s := range b.Slots {
		if s.Slot == slot {
			return s, true
		}
	}
	return SlotStatus{}, false
}

// BundleLoader produces a fresh bundle on every call
type BundleLoader interface {
	Load() *ModelBundle
}

// ArtifactStore loads artifacts from the file system
type ArtifactStore struct {
	paths    Paths
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewArtifactStore creates a store reading the given paths
func NewArtifactStore(paths Paths, logger *slog.Logger) *ArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStore{
		paths:    paths,
		logger:   logger,
		readFile: os.ReadFile,
	}
}

// Paths returns the configured artifact locations
func (s *ArtifactStore) Paths() Paths {
	return s.paths
}

// Load reads every configured slot. A missing or corrupt artifact leaves its slot
// nil and is recorded in the bundle's slot status; it never stops the other slots.
func (s *ArtifactStore) Load() *ModelBundle {
	bundle := &ModelBundle{LoadedAt: time.Now()}

	bundle.Slots = append(bundle.Slots, s.loadSlot(SlotTransformer, s.paths.Transformer, func(data []byte) (string, error) {
		t, err := ParseTransformer(data)
		if err != nil {
			return "", err
		}
		bundle.Transformer = t
		return transformerFormat, nil
	}))

	bundle.Slots = append(bundle.Slots, s.loadSlot(SlotModel, s.paths.Model, func(data []byte) (string, error) {
		m, err := LoadModel(data)
		if err != nil {
			return "", err
		}
		bundle.Model = m
		return m.Kind(), nil
	}))

	bundle.Slots = append(bundle.Slots, s.loadSlot(SlotCalibrator, s.paths.Calibrator, func(data []byte) (string, error) {
		c, err := LoadCalibrator(data)
		if err != nil {
			return "", err
		}
		bundle.Calibrator = c
		return c.Kind(), nil
	}))

	bundle.Slots = append(bundle.Slots, s.loadSlot(SlotExplainer, s.paths.Explainer, func(data []byte) (string, error) {
		e, err := LoadExplainer(data)
		if err != nil {
			return "", err
		}
		bundle.Explainer = e
		return e.Kind(), nil
	}))

	return bundle
}

func (s *ArtifactStore) loadSlot(slot Slot, path string, decode func([]byte) (string, error)) SlotStatus {
	status := SlotStatus{Slot: slot, Path: path}
	if path == "" {
		return status
	}

	fail := func(cause error) SlotStatus {
		status.Err = apperrors.NewArtifactLoadError(string(slot), path, cause)
		status.Error = cause.Error()
		return status
	}

	data, err := s.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("Artifact not found, slot left empty", "slot", slot, "path", path)
			return fail(fmt.Errorf("artifact not found"))
		}
		s.logger.Warn("Failed to read artifact", "slot", slot, "path", path, "error", err)
		return fail(err)
	}

	var kind string
	err = apperrors.SafeExecute(func() error {
		var decodeErr error
		kind, decodeErr = decode(data)
		return decodeErr
	})
	if err != nil {
		s.logger.Warn("Failed to decode artifact", "slot", slot, "path", path, "error", err)
		return fail(err)
	}

	status.Loaded = true
	status.Kind = kind
	s.logger.Info("Artifact loaded", "slot", slot, "path", path, "kind", kind, "bytes", len(data))
	return status
}
