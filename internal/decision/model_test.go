package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModelSelectsVariantFromContent(t *testing.T) {
	tests := []struct {
		name         string
		fixture      string
		expectedKind string
		expectedDim  int
	}{
		{name: "lightgbm text dump", fixture: "lightgbm.txt", expectedKind: KindGradientBoostedTrees, expectedDim: 2},
		{name: "logistic json", fixture: "logistic.json", expectedKind: KindGenericSerialized, expectedDim: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := LoadModel(loadFixture(t, tt.fixture))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedKind, m.Kind())
			assert.Equal(t, tt.expectedDim, m.NumFeatures())
		})
	}
}

func TestLoadModelErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: []byte("   ")},
		{name: "binary", input: loadFixture(t, "garbage.bin")},
		{name: "truncated lightgbm", input: loadFixture(t, "corrupt_model.txt")},
		{name: "unknown json format", input: []byte(`{"format":"xgboost"}`)},
		{name: "no coefficients", input: []byte(`{"format":"logistic","coefficients":[]}`)},
		{name: "bad link", input: []byte(`{"format":"logistic","link":"probit","coefficients":[1]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModel(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestGenericSerializedModelInfer(t *testing.T) {
	m, err := LoadModel(loadFixture(t, "logistic.json"))
	require.NoError(t, err)

	raw, err := m.Infer(FeatureVector{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1.25), raw, 1e-12)

	raw, err = m.Infer(FeatureVector{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(-0.25), raw, 1e-12)

	_, err = m.Infer(FeatureVector{1})
	assert.Error(t, err)
}

func TestGenericSerializedModelIdentityLink(t *testing.T) {
	m, err := LoadModel([]byte(`{"format":"linear","coefficients":[0.5,0.25],"intercept":0.1}`))
	require.NoError(t, err)

	raw, err := m.Infer(FeatureVector{0.4, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, raw, 1e-12)
}
