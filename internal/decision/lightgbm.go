package decision

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	maxModelLineBytes = 64 * 1024 * 1024

	categoricalMask = 1
	defaultLeftMask = 2

	missingNone = 0
	missingZero = 1
	missingNaN  = 2

	zeroThreshold = 1e-35
)

type gbTree struct {
	numLeaves     int
	splitFeature  []int
	threshold     []float64
	decisionType  []uint8
	leftChild     []int
	rightChild    []int
	leafValue     []float64
	internalValue []float64
	catBoundaries []int
	catThreshold  []uint32
}

// GradientBoostedTreeModel evaluates a LightGBM model saved in its text format.
// For binary objectives the raw score is the sigmoid of the summed leaf outputs.
type GradientBoostedTreeModel struct {
	trees         []gbTree
	numFeatures   int
	objective     string
	sigmoidScale  float64
	averageOutput bool
	featureNames  []string
}

// ParseLightGBM decodes a LightGBM text model dump
func ParseLightGBM(data []byte) (*GradientBoostedTreeModel, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxModelLineBytes)

	header := make(map[string]string)
	m := &GradientBoostedTreeModel{}

	var block map[string]string
	flush := func() error {
		if block == nil {
			return nil
		}
		tree, err := parseTree(block)
		if err != nil {
			return fmt.Errorf("tree %d: %w", len(m.trees), err)
		}
		m.trees = append(m.trees, tree)
		block = nil
		return nil
	}

	first := true
scan:
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\xef\xbb\xbf"))
		if first {
			if line != "tree" {
				return nil, fmt.Errorf("not a LightGBM text model")
			}
			first = false
			continue
		}

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Tree="):
			if err := flush(); err != nil {
				return nil, err
			}
			block = make(map[string]string)
		case line == "end of trees":
			break scan
		case block != nil:
			if key, value, ok := strings.Cut(line, "="); ok {
				block[key] = value
			}
		default:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				if line == "average_output" {
					m.averageOutput = true
				}
				continue
			}
			header[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	if first {
		return nil, fmt.Errorf("empty model file")
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := m.applyHeader(header); err != nil {
		return nil, err
	}
	if len(m.trees) == 0 {
		return nil, fmt.Errorf("model contains no trees")
	}
	for i, t := range m.trees {
		for _, f := range t.splitFeature {
			if f < 0 || f >= m.numFeatures {
				return nil, fmt.Errorf("tree %d splits on feature %d outside [0,%d)", i, f, m.numFeatures)
			}
		}
	}

	return m, nil
}

func (m *GradientBoostedTreeModel) applyHeader(header map[string]string) error {
	maxIdx, ok := header["max_feature_idx"]
	if !ok {
		return fmt.Errorf("missing max_feature_idx")
	}
	idx, err := strconv.Atoi(strings.TrimSpace(maxIdx))
	if err != nil || idx < 0 {
		return fmt.Errorf("invalid max_feature_idx %q", maxIdx)
	}
	m.numFeatures = idx + 1

	if numClass, ok := header["num_class"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(numClass)); err != nil || n != 1 {
			return fmt.Errorf("unsupported num_class %q, only single-output models are supported", numClass)
		}
	}

	if names, ok := header["feature_names"]; ok {
		m.featureNames = strings.Fields(names)
	}

	fields := strings.Fields(header["objective"])
	if len(fields) > 0 {
		m.objective = fields[0]
	}
	switch m.objective {
	case "binary", "cross_entropy", "xentropy":
		m.sigmoidScale = 1
		for _, f := range fields[1:] {
			if v, ok := strings.CutPrefix(f, "sigmoid:"); ok {
				scale, err := strconv.ParseFloat(v, 64)
				if err != nil || scale <= 0 {
					return fmt.Errorf("invalid sigmoid parameter %q", v)
				}
				m.sigmoidScale = scale
			}
		}
	case "multiclass", "multiclassova":
		return fmt.Errorf("unsupported objective %q", m.objective)
	}

	return nil
}

func parseTree(fields map[string]string) (gbTree, error) {
	var t gbTree

	n, err := strconv.Atoi(strings.TrimSpace(fields["num_leaves"]))
	if err != nil || n < 1 {
		return t, fmt.Errorf("invalid num_leaves %q", fields["num_leaves"])
	}
	t.numLeaves = n

	if t.leafValue, err = parseFloats(fields["leaf_value"]); err != nil {
		return t, fmt.Errorf("leaf_value: %w", err)
	}
	if len(t.leafValue) != n {
		return t, fmt.Errorf("expected %d leaf values, got %d", n, len(t.leafValue))
	}
	if n == 1 {
		return t, nil
	}

	internal := n - 1
	if t.splitFeature, err = parseInts(fields["split_feature"], internal); err != nil {
		return t, fmt.Errorf("split_feature: %w", err)
	}
	if t.threshold, err = parseFloats(fields["threshold"]); err != nil || len(t.threshold) != internal {
		return t, fmt.Errorf("threshold: expected %d values", internal)
	}
	types, err := parseInts(fields["decision_type"], internal)
	if err != nil {
		return t, fmt.Errorf("decision_type: %w", err)
	}
	t.decisionType = make([]uint8, internal)
	for i, v := range types {
		t.decisionType[i] = uint8(v)
	}
	if t.leftChild, err = parseInts(fields["left_child"], internal); err != nil {
		return t, fmt.Errorf("left_child: %w", err)
	}
	if t.rightChild, err = parseInts(fields["right_child"], internal); err != nil {
		return t, fmt.Errorf("right_child: %w", err)
	}
	for i := 0; i < internal; i++ {
		for _, child := range []int{t.leftChild[i], t.rightChild[i]} {
			if child >= internal || (child < 0 && ^child >= n) {
				return t, fmt.Errorf("node %d has out-of-range child %d", i, child)
			}
		}
	}

	if raw, ok := fields["internal_value"]; ok {
		if t.internalValue, err = parseFloats(raw); err != nil || len(t.internalValue) != internal {
			return t, fmt.Errorf("internal_value: expected %d values", internal)
		}
	}

	numCat, _ := strconv.Atoi(strings.TrimSpace(fields["num_cat"]))
	if numCat > 0 {
		if t.catBoundaries, err = parseInts(fields["cat_boundaries"], numCat+1); err != nil {
			return t, fmt.Errorf("cat_boundaries: %w", err)
		}
		words := strings.Fields(fields["cat_threshold"])
		t.catThreshold = make([]uint32, len(words))
		for i, w := range words {
			v, err := strconv.ParseUint(w, 10, 32)
			if err != nil {
				return t, fmt.Errorf("cat_threshold: %w", err)
			}
			t.catThreshold[i] = uint32(v)
		}
		for i := 1; i < len(t.catBoundaries); i++ {
			if t.catBoundaries[i] < t.catBoundaries[i-1] || t.catBoundaries[i] > len(t.catThreshold) {
				return t, fmt.Errorf("cat_boundaries out of range")
			}
		}
	}
	for i, dt := range t.decisionType {
		if dt&categoricalMask != 0 {
			idx := int(t.threshold[i])
			if idx < 0 || idx+1 >= len(t.catBoundaries) {
				return t, fmt.Errorf("node %d references missing category set %d", i, idx)
			}
		}
	}

	return t, nil
}

func parseFloats(s string) ([]float64, error) {
	words := strings.Fields(s)
	out := make([]float64, len(words))
	for i, w := range words {
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string, want int) ([]int, error) {
	words := strings.Fields(s)
	if len(words) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(words))
	}
	out := make([]int, len(words))
	for i, w := range words {
		v, err := strconv.Atoi(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *gbTree) numericalDecision(fval float64, node int) int {
	dt := t.decisionType[node]
	missing := (dt >> 2) & 3

	if math.IsNaN(fval) && missing != missingNaN {
		fval = 0
	}
	if (missing == missingZero && fval >= -zeroThreshold && fval <= zeroThreshold) ||
		(missing == missingNaN && math.IsNaN(fval)) {
		if dt&defaultLeftMask != 0 {
			return t.leftChild[node]
		}
		return t.rightChild[node]
	}

	if fval <= t.threshold[node] {
		return t.leftChild[node]
	}
	return t.rightChild[node]
}

func (t *gbTree) categoricalDecision(fval float64, node int) int {
	// Values in (-1, 0) truncate to category 0.
	if math.IsNaN(fval) || fval <= -1 || fval >= math.MaxInt32 {
		return t.rightChild[node]
	}
	category := int(fval)

	set := int(t.threshold[node])
	lo, hi := t.catBoundaries[set], t.catBoundaries[set+1]
	word := category / 32
	if word >= hi-lo {
		return t.rightChild[node]
	}
	if (t.catThreshold[lo+word]>>(uint(category)%32))&1 != 0 {
		return t.leftChild[node]
	}
	return t.rightChild[node]
}

// leaf walks vec to a leaf, calling visit for every edge taken. It returns -1 on a malformed tree.
func (t *gbTree) leaf(vec FeatureVector, visit func(node, child int)) int {
	if t.numLeaves == 1 {
		return 0
	}

	node := 0
	for steps := 0; steps < t.numLeaves; steps++ {
		fval := vec[t.splitFeature[node]]

		var child int
		if t.decisionType[node]&categoricalMask != 0 {
			child = t.categoricalDecision(fval, node)
		} else {
			child = t.numericalDecision(fval, node)
		}

		if visit != nil {
			visit(node, child)
		}
		if child < 0 {
			return ^child
		}
		node = child
	}
	return -1
}

func (t *gbTree) value(child int) float64 {
	if child < 0 {
		return t.leafValue[^child]
	}
	return t.internalValue[child]
}

func (m *GradientBoostedTreeModel) NumFeatures() int { return m.numFeatures }

func (m *GradientBoostedTreeModel) Kind() string { return KindGradientBoostedTrees }

// FeatureNames returns the names recorded in the model file
func (m *GradientBoostedTreeModel) FeatureNames() []string { return m.featureNames }

// Margin returns the summed tree output before any link function
func (m *GradientBoostedTreeModel) Margin(vec FeatureVector) (float64, error) {
	if len(vec) != m.numFeatures {
		return 0, fmt.Errorf("model expects %d features, got %d", m.numFeatures, len(vec))
	}

	sum := 0.0
	for i := range m.trees {
		leaf := m.trees[i].leaf(vec, nil)
		if leaf < 0 {
			return 0, fmt.Errorf("tree %d did not reach a leaf", i)
		}
		sum += m.trees[i].leafValue[leaf]
	}

	if m.averageOutput {
		sum /= float64(len(m.trees))
	}
	return sum, nil
}

func (m *GradientBoostedTreeModel) Infer(vec FeatureVector) (float64, error) {
	margin, err := m.Margin(vec)
	if err != nil {
		return 0, err
	}
	if m.sigmoidScale > 0 {
		return sigmoid(m.sigmoidScale * margin), nil
	}
	return margin, nil
}

// PathContributions attributes the margin to features along each tree's decision path.
// base + sum(contributions) equals Margin(vec).
func (m *GradientBoostedTreeModel) PathContributions(vec FeatureVector) (base float64, contributions []float64, err error) {
	if len(vec) != m.numFeatures {
		return 0, nil, fmt.Errorf("explainer expects %d features, got %d", m.numFeatures, len(vec))
	}

	contributions = make([]float64, m.numFeatures)
	for i := range m.trees {
		t := &m.trees[i]
		if t.numLeaves == 1 {
			base += t.leafValue[0]
			continue
		}
		if len(t.internalValue) != t.numLeaves-1 {
			return 0, nil, fmt.Errorf("tree %d has no internal_value", i)
		}

		base += t.internalValue[0]
		leaf := t.leaf(vec, func(node, child int) {
			contributions[t.splitFeature[node]] += t.value(child) - t.internalValue[node]
		})
		if leaf < 0 {
			return 0, nil, fmt.Errorf("tree %d did not reach a leaf", i)
		}
	}

	if m.averageOutput {
		n := float64(len(m.trees))
		base /= n
		for i := range contributions {
			contributions[i] /= n
		}
	}
	return base, contributions, nil
}
