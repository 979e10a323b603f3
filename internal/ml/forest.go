package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// RandomForest averages depth-limited CART trees grown on bootstrap samples
// with sqrt(d) candidate features per split.
type RandomForest struct {
	NumTrees int            `json:"num_trees"`
	MaxDepth int            `json:"max_depth"`
	MinLeaf  int            `json:"min_leaf"`
	Seed     int64          `json:"seed"`
	Width    int            `json:"width"`
	Trees    []DecisionTree `json:"trees"`
}

// DecisionTree is a flattened binary tree; node 0 is the root.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is a split when Feature >= 0 and a leaf otherwise. Value is the
// positive-class fraction of the training rows that reached the node.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

func (m *RandomForest) Kind() string { return KindForest }

func (m *RandomForest) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if m.NumTrees <= 0 || m.MaxDepth <= 0 {
		return fmt.Errorf("forest: trees and depth must be positive")
	}
	if m.MinLeaf < 1 {
		m.MinLeaf = 1
	}

	rng := rand.New(rand.NewSource(m.Seed))
	mtry := int(math.Max(1, math.Floor(math.Sqrt(float64(d)))))
	n := len(X)

	trees := make([]DecisionTree, 0, m.NumTrees)
	for t := 0; t < m.NumTrees; t++ {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		g := &treeGrower{X: X, y: y, width: d, mtry: mtry, maxDepth: m.MaxDepth, minLeaf: m.MinLeaf, rng: rng}
		g.grow(sample, 0)
		trees = append(trees, DecisionTree{Nodes: g.nodes})
	}

	m.Width = d
	m.Trees = trees
	return nil
}

func (m *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if err := checkWidth(x, m.Width); err != nil {
		return nil, err
	}
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	var sum float64
	for i := range m.Trees {
		sum += m.Trees[i].predict(x)
	}
	return binary(sum / float64(len(m.Trees))), nil
}

func (t *DecisionTree) predict(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

type treeGrower struct {
	X        [][]float64
	y        []int
	width    int
	mtry     int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
	nodes    []TreeNode
}

func (g *treeGrower) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += g.y[i]
	}
	n := len(idx)
	self := len(g.nodes)
	g.nodes = append(g.nodes, TreeNode{Feature: -1, Value: float64(pos) / float64(n)})

	if depth >= g.maxDepth || n < 2*g.minLeaf || pos == 0 || pos == n {
		return self
	}

	feature, threshold, ok := g.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return self
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[self].Feature = feature
	g.nodes[self].Threshold = threshold
	g.nodes[self].Left = l
	g.nodes[self].Right = r
	return self
}

// bestSplit sweeps each candidate feature in sorted order and returns the
// split with the lowest weighted Gini impurity below the parent's.
func (g *treeGrower) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	best := gini(pos, n) - 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for _, f := range g.rng.Perm(g.width)[:g.mtry] {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return g.X[sorted[a]][f] < g.X[sorted[b]][f] })

		leftPos := 0
		for k := 1; k < n; k++ {
			leftPos += g.y[sorted[k-1]]
			lo, hi := g.X[sorted[k-1]][f], g.X[sorted[k]][f]
			if lo == hi || k < g.minLeaf || n-k < g.minLeaf {
				continue
			}
			impurity := (float64(k)*gini(leftPos, k) + float64(n-k)*gini(pos-leftPos, n-k)) / float64(n)
			if impurity < best {
				best = impurity
				bestFeature = f
				bestThreshold = (lo + hi) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
