package defense

import (
	"math"
	"math/rand/v2"
)

// IsolationForest is an unsupervised anomaly scorer: short average
// isolation path lengths over random split trees mean anomalous.
type IsolationForest struct {
	Trees      int
	SampleSize int
}

// NewIsolationForest returns a forest with the usual defaults
// (100 trees, subsample of 256).
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{Trees: 100, SampleSize: 256}
}

// Name implements Detector.
func (f *IsolationForest) Name() string { return "isolation-forest" }

type isoNode struct {
	feature   int
	threshold float64
	left      *isoNode
	right     *isoNode
	size      int // leaf only
}

// Detect fits the forest on x and flags the round(contamination*N)
// most anomalous samples.
func (f *IsolationForest) Detect(x [][]float64, contamination float64, rng *rand.Rand) (*DetectionResult, error) {
	nf, err := checkMatrix(x)
	if err != nil {
		return nil, err
	}
	n := len(x)
	psi := f.SampleSize
	if psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi)))) + 1

	trees := make([]*isoNode, f.Trees)
	sub := make([][]float64, psi)
	for t := range trees {
		perm := rng.Perm(n)
		for i := 0; i < psi; i++ {
			sub[i] = x[perm[i]]
		}
		trees[t] = growIsoTree(sub, nf, 0, maxDepth, rng)
	}

	norm := avgPathLength(float64(psi))
	scores := make([]float64, n)
	for i, row := range x {
		var total float64
		for _, tree := range trees {
			total += pathLength(tree, row, 0)
		}
		mean := total / float64(len(trees))
		scores[i] = math.Pow(2, -mean/norm)
	}
	return &DetectionResult{Scores: scores, Flagged: flagTop(scores, contamination)}, nil
}

func growIsoTree(x [][]float64, nf, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(x) <= 1 {
		return &isoNode{size: len(x)}
	}
	feature := rng.IntN(nf)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range x {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if lo == hi {
		return &isoNode{size: len(x)}
	}
	threshold := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range x {
		if row[feature] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(x)}
	}
	return &isoNode{
		feature:   feature,
		threshold: threshold,
		left:      growIsoTree(left, nf, depth+1, maxDepth, rng),
		right:     growIsoTree(right, nf, depth+1, maxDepth, rng),
	}
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.left == nil {
		// Unsplit leaves get the average path of an unbuilt subtree.
		if node.size > 1 {
			return float64(depth) + avgPathLength(float64(node.size))
		}
		return float64(depth)
	}
	if row[node.feature] < node.threshold {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the average unsuccessful-search path length of
// a binary search tree over n items.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const euler = 0.5772156649
	return 2*(math.Log(n-1)+euler) - 2*(n-1)/n
}
