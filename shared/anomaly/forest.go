package anomaly

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

const (
	defaultTrees         = 100
	defaultContamination = 0.05
	defaultSeed          = 42
	maxSubsample         = 256
)

// IsolationForest is a one-dimensional isolation forest. Each Score call fits
// a fresh model on history plus the new value, so it holds no state between
// calls and is safe for concurrent use.
type IsolationForest struct {
	Trees         int
	Contamination float64
	Seed          int64
}

func NewIsolationForest() *IsolationForest {
	return &IsolationForest{Trees: defaultTrees, Contamination: defaultContamination, Seed: defaultSeed}
}

type isoNode struct {
	split       float64
	left, right *isoNode
	size        int
}

func (f *IsolationForest) Score(ctx context.Context, history []float64, value float64) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	data := make([]float64, 0, len(history)+1)
	data = append(data, history...)
	data = append(data, value)

	trees := f.Trees
	if trees <= 0 {
		trees = defaultTrees
	}
	contamination := f.Contamination
	if contamination <= 0 || contamination >= 0.5 {
		contamination = defaultContamination
	}

	rng := rand.New(rand.NewSource(f.Seed))
	sampleSize := len(data)
	if sampleSize > maxSubsample {
		sampleSize = maxSubsample
	}
	depthLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	forest := make([]*isoNode, 0, trees)
	for i := 0; i < trees; i++ {
		perm := rng.Perm(len(data))[:sampleSize]
		sample := make([]float64, sampleSize)
		for j, idx := range perm {
			sample[j] = data[idx]
		}
		forest = append(forest, buildIsoTree(rng, sample, 0, depthLimit))
	}

	norm := averagePathLength(sampleSize)
	scoreOf := func(x float64) float64 {
		var total float64
		for _, tree := range forest {
			total += pathLength(tree, x, 0)
		}
		mean := total / float64(len(forest))
		return -math.Pow(2, -mean/norm)
	}

	trainScores := make([]float64, len(data))
	for i, x := range data {
		trainScores[i] = scoreOf(x)
	}
	offset := percentile(trainScores, contamination*100)

	decision := scoreOf(value) - offset
	return decision < 0, clamp01(0.5 - decision), nil
}

func buildIsoTree(rng *rand.Rand, sample []float64, depth, limit int) *isoNode {
	if depth >= limit || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}
	lo, hi := sample[0], sample[0]
	for _, v := range sample[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &isoNode{size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range sample {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &isoNode{
		split: split,
		left:  buildIsoTree(rng, left, depth+1, limit),
		right: buildIsoTree(rng, right, depth+1, limit),
		size:  len(sample),
	}
}

func pathLength(n *isoNode, x float64, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	if x < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
