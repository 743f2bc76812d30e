package store

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedBatch is returned when an update batch cannot be decoded.
var ErrMalformedBatch = errors.New("malformed update batch")

// Fragment is a partial tree carrying the new values of one timestamp.
type Fragment struct {
	Kind     Kind
	Value    float64
	Vector   []float64
	keys     []string
	children map[string]*Fragment
}

// Keys returns the child names of a subtree fragment in document order.
func (f *Fragment) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Child returns the named child of a subtree fragment, or nil.
func (f *Fragment) Child(key string) *Fragment {
	if f == nil || f.Kind != KindSubtree {
		return nil
	}
	return f.children[key]
}

// Entry holds the section fragments reported for one timestamp.
type Entry struct {
	Timestamp int64
	Sections  *Fragment
}

// Batch is a decoded update batch. Entries are ordered by ascending timestamp.
type Batch []Entry

// Len returns the number of timestamp entries.
func (b Batch) Len() int { return len(b) }

// ParseBatch decodes the `data` object of an update message:
// {"<timestamp>": {"<section>": <fragment>}}.
func ParseBatch(raw []byte) (Batch, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedBatch)
	}
	return ParseBatchResult(gjson.ParseBytes(raw))
}

// ParseBatchResult decodes an already parsed batch value.
func ParseBatchResult(data gjson.Result) (Batch, error) {
	if !data.Exists() || data.Type == gjson.Null {
		return nil, nil
	}
	if !data.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedBatch, data.Type)
	}

	var (
		batch Batch
		err   error
	)
	data.ForEach(func(key, value gjson.Result) bool {
		ts, parseErr := parseTimestamp(key.String())
		if parseErr != nil {
			err = fmt.Errorf("%w: timestamp %q: %v", ErrMalformedBatch, key.String(), parseErr)
			return false
		}
		if !value.IsObject() {
			err = fmt.Errorf("%w: timestamp %q: sections must be an object", ErrMalformedBatch, key.String())
			return false
		}
		sections, fragErr := buildFragment(value, []string{key.String()})
		if fragErr != nil {
			err = fragErr
			return false
		}
		batch = append(batch, Entry{Timestamp: ts, Sections: sections})
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp < batch[j].Timestamp
	})
	return batch, nil
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	// float64(math.MaxInt64) rounds up to 2^63, which no int64 holds.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range")
	}
	return int64(f), nil
}

func buildFragment(v gjson.Result, path []string) (*Fragment, error) {
	if v.IsObject() {
		frag := &Fragment{Kind: KindSubtree, children: make(map[string]*Fragment)}
		var err error
		v.ForEach(func(key, child gjson.Result) bool {
			name := key.String()
			sub, childErr := buildFragment(child, appendPath(path, name))
			if childErr != nil {
				err = childErr
				return false
			}
			if _, exists := frag.children[name]; !exists {
				frag.keys = append(frag.keys, name)
			}
			frag.children[name] = sub
			return true
		})
		if err != nil {
			return nil, err
		}
		return frag, nil
	}

	if v.IsArray() {
		var vector []float64
		var err error
		v.ForEach(func(_, item gjson.Result) bool {
			f, ok := scalarValue(item)
			if !ok {
				err = fmt.Errorf("%w: %s: array holds non-numeric value %s", ErrMalformedBatch, strings.Join(path, "."), item.Raw)
				return false
			}
			vector = append(vector, f)
			return true
		})
		if err != nil {
			return nil, err
		}
		if vector == nil {
			vector = []float64{}
		}
		return &Fragment{Kind: KindLeaf, Value: sum(vector), Vector: vector}, nil
	}

	f, ok := scalarValue(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s: non-numeric value %s", ErrMalformedBatch, strings.Join(path, "."), v.Raw)
	}
	return &Fragment{Kind: KindLeaf, Value: f}, nil
}

// scalarValue converts a JSON scalar into a sample value. Null becomes NaN.
func scalarValue(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.Null:
		return math.NaN(), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func buildNode(v gjson.Result) *Node {
	switch {
	case v.IsObject():
		n := newSubtree()
		v.ForEach(func(key, child gjson.Result) bool {
			n.set(key.String(), buildNode(child))
			return true
		})
		return n
	case v.IsArray():
		n := newLeaf()
		v.ForEach(func(_, item gjson.Result) bool {
			if s, ok := parseSample(item); ok {
				n.samples = append(n.samples, s)
			}
			return true
		})
		return n
	default:
		return newLeaf()
	}
}

// parseSample accepts [ts, value], {"x": ts, "y": value} and
// {"timestamp": ts, "value": value}.
func parseSample(item gjson.Result) (Sample, bool) {
	var tsRes, valRes gjson.Result
	switch {
	case item.IsArray():
		parts := item.Array()
		if len(parts) < 2 {
			return Sample{}, false
		}
		tsRes, valRes = parts[0], parts[1]
	case item.IsObject():
		if x := item.Get("x"); x.Exists() {
			tsRes, valRes = x, item.Get("y")
		} else {
			tsRes, valRes = item.Get("timestamp"), item.Get("value")
		}
	default:
		return Sample{}, false
	}

	if !tsRes.Exists() {
		return Sample{}, false
	}
	ts, err := parseTimestamp(tsRes.String())
	if err != nil {
		return Sample{}, false
	}

	if valRes.IsArray() {
		var vector []float64
		for _, part := range valRes.Array() {
			f, ok := scalarValue(part)
			if !ok {
				return Sample{}, false
			}
			vector = append(vector, f)
		}
		return Sample{Timestamp: ts, Value: sum(vector), Vector: vector}, true
	}
	if !valRes.Exists() {
		return Sample{Timestamp: ts, Value: math.NaN()}, true
	}
	f, ok := scalarValue(valRes)
	if !ok {
		return Sample{}, false
	}
	return Sample{Timestamp: ts, Value: f}, true
}
