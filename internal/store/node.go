package store

import (
	"math"
)

// Kind tags a node as a leaf series or a subtree.
type Kind int

const (
	KindLeaf Kind = iota + 1
	KindSubtree
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// Sample is a single timestamped reading of a leaf series.
// Vector is set when the reading was a numeric array; Value then holds its sum.
type Sample struct {
	Timestamp int64     `json:"timestamp"`
	Value     float64   `json:"value"`
	Vector    []float64 `json:"vector,omitempty"`
}

// Node is one element of the metrics tree.
type Node struct {
	kind     Kind
	samples  []Sample
	keys     []string
	children map[string]*Node
}

func newLeaf() *Node {
	return &Node{kind: KindLeaf}
}

func newSubtree() *Node {
	return &Node{kind: KindSubtree, children: make(map[string]*Node)}
}

func newNode(kind Kind) *Node {
	if kind == KindSubtree {
		return newSubtree()
	}
	return newLeaf()
}

// Kind reports whether the node is a leaf or a subtree.
func (n *Node) Kind() Kind {
	return n.kind
}

// Len returns the number of samples of a leaf, or the number of children of a subtree.
func (n *Node) Len() int {
	if n.kind == KindLeaf {
		return len(n.samples)
	}
	return len(n.keys)
}

// Samples returns a copy of the leaf's samples.
func (n *Node) Samples() []Sample {
	if n.kind != KindLeaf {
		return nil
	}
	out := make([]Sample, len(n.samples))
	copy(out, n.samples)
	return out
}

// Keys returns the child names of a subtree in insertion order.
func (n *Node) Keys() []string {
	return append([]string(nil), n.keys...)
}

// Child returns the named child of a subtree, or nil.
func (n *Node) Child(key string) *Node {
	if n == nil || n.kind != KindSubtree {
		return nil
	}
	return n.children[key]
}

func (n *Node) set(key string, child *Node) {
	if _, exists := n.children[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.children[key] = child
}

func (n *Node) lookup(path []string) *Node {
	cur := n
	for _, key := range path {
		cur = cur.Child(key)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *Node) export() interface{} {
	if n.kind == KindLeaf {
		return n.Samples()
	}
	out := make(map[string]interface{}, len(n.keys))
	for _, key := range n.keys {
		out[key] = n.children[key].export()
	}
	return out
}

func (n *Node) walk(prefix []string, fn func(path []string, leaf *Node)) {
	if n.kind == KindLeaf {
		fn(prefix, n)
		return
	}
	for _, key := range n.keys {
		path := append(append([]string(nil), prefix...), key)
		n.children[key].walk(path, fn)
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		total += v
	}
	return total
}
