package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// MissingPolicy decides what happens when a batch references a series the
// tree does not contain.
type MissingPolicy string

const (
	// MissingCreate adds missing leaves and subtrees on the fly.
	MissingCreate MissingPolicy = "create"
	// MissingFail rejects the batch with a SchemaMismatchError.
	MissingFail MissingPolicy = "fail"
)

// ErrSchemaMismatch is matched by every SchemaMismatchError.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError reports a batch path that does not fit the tree.
type SchemaMismatchError struct {
	Path   []string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch at %s: %s", strings.Join(e.Path, "."), e.Reason)
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// DefaultAreaGroups are the monitoring categories rendered as filled areas.
var DefaultAreaGroups = []string{"CPU", "Memory"}

// Option configures a Store.
type Option func(*Store)

// WithMissingPolicy sets how unknown series in batches are handled.
func WithMissingPolicy(p MissingPolicy) Option {
	return func(s *Store) {
		if p != "" {
			s.missing = p
		}
	}
}

// WithAreaGroups overrides the monitoring categories rendered as areas.
func WithAreaGroups(names ...string) Option {
	return func(s *Store) {
		s.areaGroups = make(map[string]struct{}, len(names))
		for _, name := range names {
			s.areaGroups[name] = struct{}{}
		}
	}
}

// Store is the in-memory metrics tree of one report session.
type Store struct {
	root       *Node
	missing    MissingPolicy
	areaGroups map[string]struct{}
}

// Applied summarizes the effect of one batch.
type Applied struct {
	Entries int `json:"entries"`
	Samples int `json:"samples"`
	Created int `json:"created"`
}

// New builds a store from the snapshot's data object.
// Empty input yields an empty tree.
func New(snapshot []byte, opts ...Option) (*Store, error) {
	s := newStore(opts)
	if len(strings.TrimSpace(string(snapshot))) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(snapshot) {
		return nil, errors.New("snapshot is not valid JSON")
	}
	if err := s.seed(gjson.ParseBytes(snapshot)); err != nil {
		return nil, err
	}
	return s, nil
}

// FromResult builds a store from an already parsed snapshot value.
func FromResult(data gjson.Result, opts ...Option) (*Store, error) {
	s := newStore(opts)
	if err := s.seed(data); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(opts []Option) *Store {
	s := &Store{
		root:    newSubtree(),
		missing: MissingCreate,
	}
	WithAreaGroups(DefaultAreaGroups...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) seed(data gjson.Result) error {
	if !data.Exists() || data.Type == gjson.Null {
		return nil
	}
	if !data.IsObject() {
		return fmt.Errorf("snapshot data must be an object, got %s", data.Type)
	}
	s.root = buildNode(data)
	return nil
}

// MissingPolicy returns the policy applied to unknown series.
func (s *Store) MissingPolicy() MissingPolicy {
	return s.missing
}

// Root returns the root subtree.
func (s *Store) Root() *Node {
	return s.root
}

// Node returns the node at path, or nil.
func (s *Store) Node(path ...string) *Node {
	return s.root.lookup(path)
}

// Leaf returns a copy of the samples stored at path.
func (s *Store) Leaf(path ...string) ([]Sample, bool) {
	n := s.root.lookup(path)
	if n == nil || n.kind != KindLeaf {
		return nil, false
	}
	return n.Samples(), true
}

// Paths lists every leaf path, depth first in insertion order.
func (s *Store) Paths() [][]string {
	var paths [][]string
	s.root.walk(nil, func(path []string, _ *Node) {
		paths = append(paths, path)
	})
	return paths
}

// Export returns the tree as nested maps with []Sample leaves.
func (s *Store) Export() map[string]interface{} {
	return s.root.export().(map[string]interface{})
}

// ApplyBatch appends every value of the batch to its leaf series.
// The batch is validated before anything is written, so a failing batch
// leaves the store unchanged.
func (s *Store) ApplyBatch(batch Batch) (Applied, error) {
	planned := map[string]Kind{}
	for _, entry := range batch {
		if entry.Sections == nil {
			continue
		}
		if err := s.validate(s.root, entry.Sections, nil, planned); err != nil {
			return Applied{}, err
		}
	}

	var res Applied
	for _, entry := range batch {
		res.Entries++
		if entry.Sections == nil {
			continue
		}
		s.commit(s.root, entry.Sections, entry.Timestamp, &res)
	}
	return res, nil
}

func (s *Store) validate(node *Node, frag *Fragment, path []string, planned map[string]Kind) error {
	for _, key := range frag.keys {
		child := frag.children[key]
		childPath := appendPath(path, key)
		stored := node.Child(key)
		if stored == nil {
			if s.missing == MissingFail {
				return &SchemaMismatchError{Path: childPath, Reason: "series not present in snapshot"}
			}
			if err := planCreate(child, childPath, planned); err != nil {
				return err
			}
			continue
		}
		if stored.kind != child.Kind {
			return &SchemaMismatchError{
				Path:   childPath,
				Reason: fmt.Sprintf("stored %s, batch sent %s", stored.kind, child.Kind),
			}
		}
		if stored.kind == KindSubtree {
			if err := s.validate(stored, child, childPath, planned); err != nil {
				return err
			}
		}
	}
	return nil
}

// planCreate records the kinds a batch would create so that two entries of
// the same batch cannot disagree about a new path.
func planCreate(frag *Fragment, path []string, planned map[string]Kind) error {
	key := strings.Join(path, "\x00")
	if kind, ok := planned[key]; ok && kind != frag.Kind {
		return &SchemaMismatchError{
			Path:   path,
			Reason: fmt.Sprintf("batch sent both %s and %s", kind, frag.Kind),
		}
	}
	planned[key] = frag.Kind
	if frag.Kind == KindSubtree {
		for _, name := range frag.keys {
			if err := planCreate(frag.children[name], appendPath(path, name), planned); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) commit(node *Node, frag *Fragment, ts int64, res *Applied) {
	for _, key := range frag.keys {
		child := frag.children[key]
		stored := node.Child(key)
		if stored == nil {
			stored = newNode(child.Kind)
			node.set(key, stored)
			res.Created++
		}
		if stored.kind == KindLeaf {
			sample := Sample{Timestamp: ts, Value: child.Value}
			if child.Vector != nil {
				sample.Vector = append([]float64(nil), child.Vector...)
			}
			stored.samples = append(stored.samples, sample)
			res.Samples++
			continue
		}
		s.commit(stored, child, ts, res)
	}
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, key)
}
