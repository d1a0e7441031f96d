package decision

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func fixtureModel(t *testing.T) *GradientBoostedTreeModel {
	t.Helper()
	m, err := ParseLightGBM(loadFixture(t, "lightgbm.txt"))
	require.NoError(t, err)
	return m
}

func singleSplitModel(decisionType string) string {
	return strings.Join([]string{
		"tree",
		"version=v4",
		"num_class=1",
		"max_feature_idx=0",
		"objective=regression",
		"",
		"Tree=0",
		"num_leaves=2",
		"num_cat=0",
		"split_feature=0",
		"threshold=1.5",
		"decision_type=" + decisionType,
		"left_child=-1",
		"right_child=-2",
		"leaf_value=5 7",
		"internal_value=6",
		"",
		"end of trees",
	}, "\n")
}

func TestParseLightGBM(t *testing.T) {
	m := fixtureModel(t)

	assert.Equal(t, 2, m.NumFeatures())
	assert.Equal(t, KindGradientBoostedTrees, m.Kind())
	assert.Equal(t, []string{"credit_score", "employment_type_salaried"}, m.FeatureNames())
	assert.Len(t, m.trees, 2)
}

func TestParseLightGBMErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		errPart string
	}{
		{
			name:    "not a model",
			input:   "hello\nworld",
			errPart: "not a LightGBM text model",
		},
		{
			name:    "empty input",
			input:   "",
			errPart: "empty model file",
		},
		{
			name:    "missing leaf values",
			input:   "tree\nmax_feature_idx=1\n\nTree=0\nnum_leaves=3\nsplit_feature=0\n",
			errPart: "leaf values",
		},
		{
			name:    "multiclass",
			input:   "tree\nnum_class=3\nmax_feature_idx=0\nobjective=multiclass num_class:3\n\nTree=0\nnum_leaves=1\nleaf_value=1\n\nend of trees",
			errPart: "num_class",
		},
		{
			name:    "split feature out of range",
			input:   strings.Replace(singleSplitModel("2"), "split_feature=0", "split_feature=4", 1),
			errPart: "outside",
		},
		{
			name:    "child out of range",
			input:   strings.Replace(singleSplitModel("2"), "right_child=-2", "right_child=-9", 1),
			errPart: "out-of-range child",
		},
		{
			name:    "no trees",
			input:   "tree\nmax_feature_idx=0\n\nend of trees",
			errPart: "no trees",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLightGBM([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestGradientBoostedTreeModelInfer(t *testing.T) {
	m := fixtureModel(t)

	tests := []struct {
		name           string
		vec            FeatureVector
		expectedMargin float64
	}{
		{name: "left then left", vec: FeatureVector{0, 0}, expectedMargin: -0.2},
		{name: "left then right", vec: FeatureVector{0, 1}, expectedMargin: 0.3},
		{name: "threshold is inclusive", vec: FeatureVector{0.5, 1}, expectedMargin: 0.3},
		{name: "right at root", vec: FeatureVector{1, 0}, expectedMargin: 0.8},
		{name: "NaN without missing type routes as zero", vec: FeatureVector{math.NaN(), 1}, expectedMargin: 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			margin, err := m.Margin(tt.vec)
			require.NoError(t, err)
			assert.InDelta(t, tt.expectedMargin, margin, 1e-9)

			prob, err := m.Infer(tt.vec)
			require.NoError(t, err)
			assert.InDelta(t, sigmoid(tt.expectedMargin), prob, 1e-9)
		})
	}
}

func TestGradientBoostedTreeModelWidthMismatch(t *testing.T) {
	m := fixtureModel(t)

	_, err := m.Infer(FeatureVector{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 2 features")
}

func TestMissingValueRouting(t *testing.T) {
	tests := []struct {
		name         string
		decisionType string
		value        float64
		expected     float64
	}{
		{name: "NaN missing default left", decisionType: "10", value: math.NaN(), expected: 5},
		{name: "NaN missing default right", decisionType: "8", value: math.NaN(), expected: 7},
		{name: "NaN missing ordinary value", decisionType: "10", value: 3, expected: 7},
		{name: "zero missing sends zero to default right", decisionType: "4", value: 0, expected: 7},
		{name: "zero missing converts NaN to zero", decisionType: "4", value: math.NaN(), expected: 7},
		{name: "zero missing ordinary value", decisionType: "4", value: 1, expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseLightGBM([]byte(singleSplitModel(tt.decisionType)))
			require.NoError(t, err)

			raw, err := m.Infer(FeatureVector{tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, raw)
		})
	}
}

func categoricalModel(bitset string) string {
	return strings.Join([]string{
		"tree",
		"num_class=1",
		"max_feature_idx=0",
		"objective=regression",
		"",
		"Tree=0",
		"num_leaves=2",
		"num_cat=1",
		"split_feature=0",
		"threshold=0",
		"decision_type=1",
		"left_child=-1",
		"right_child=-2",
		"leaf_value=1 -1",
		"internal_value=0",
		"cat_boundaries=0 1",
		"cat_threshold=" + bitset,
		"",
		"end of trees",
	}, "\n")
}

func TestCategoricalSplit(t *testing.T) {
	model := categoricalModel("10")

	m, err := ParseLightGBM([]byte(model))
	require.NoError(t, err)

	tests := []struct {
		category float64
		expected float64
	}{
		{category: 0, expected: -1},
		{category: 1, expected: 1},
		{category: 2, expected: -1},
		{category: 3, expected: 1},
		{category: -1, expected: -1},
		{category: -0.5, expected: -1},
		{category: 1.9, expected: 1},
		{category: 40, expected: -1},
		{category: math.NaN(), expected: -1},
		{category: 1e20, expected: -1},
		{category: math.MaxInt32, expected: -1},
		{category: math.Inf(1), expected: -1},
		{category: math.Inf(-1), expected: -1},
	}

	for _, tt := range tests {
		var raw float64
		var err error
		require.NotPanics(t, func() { raw, err = m.Infer(FeatureVector{tt.category}) }, "category %v", tt.category)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, raw, "category %v", tt.category)
	}
}

func TestCategoricalSplitTruncatesTowardZero(t *testing.T) {
	m, err := ParseLightGBM([]byte(categoricalModel("1")))
	require.NoError(t, err)

	tests := []struct {
		category float64
		expected float64
	}{
		{category: 0, expected: 1},
		{category: 0.7, expected: 1},
		{category: -0.5, expected: 1},
		{category: -1, expected: -1},
		{category: 1, expected: -1},
	}

	for _, tt := range tests {
		raw, err := m.Infer(FeatureVector{tt.category})
		require.NoError(t, err)
		assert.Equal(t, tt.expected, raw, "category %v", tt.category)
	}
}

func TestPathContributionsAreAdditive(t *testing.T) {
	m := fixtureModel(t)

	tests := []struct {
		name     string
		vec      FeatureVector
		expected []float64
	}{
		{name: "left left", vec: FeatureVector{0, 0}, expected: []float64{-0.15, -0.3}},
		{name: "left right", vec: FeatureVector{0, 1}, expected: []float64{-0.15, 0.2}},
		{name: "right", vec: FeatureVector{1, 0}, expected: []float64{0.55, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, contributions, err := m.PathContributions(tt.vec)
			require.NoError(t, err)
			require.Len(t, contributions, 2)

			assert.InDelta(t, 0.25, base, 1e-9)
			for i := range tt.expected {
				assert.InDelta(t, tt.expected[i], contributions[i], 1e-9)
			}

			margin, err := m.Margin(tt.vec)
			require.NoError(t, err)
			assert.InDelta(t, margin, base+contributions[0]+contributions[1], 1e-9)
		})
	}
}

func TestPathContributionsNeedInternalValues(t *testing.T) {
	model := strings.Replace(singleSplitModel("2"), "internal_value=6\n", "", 1)
	m, err := ParseLightGBM([]byte(model))
	require.NoError(t, err)

	_, _, err = m.PathContributions(FeatureVector{1})
	assert.Error(t, err)
}

func TestAverageOutput(t *testing.T) {
	model := strings.Replace(singleSplitModel("2"), "objective=regression", "objective=regression\naverage_output", 1)
	model = strings.Replace(model, "end of trees", "Tree=1\nnum_leaves=1\nleaf_value=1\n\nend of trees", 1)

	m, err := ParseLightGBM([]byte(model))
	require.NoError(t, err)

	raw, err := m.Infer(FeatureVector{3})
	require.NoError(t, err)
	assert.Equal(t, 4.0, raw)
}
