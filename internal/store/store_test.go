package store_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torosent/tankwatch/internal/store"
)

const scenarioSnapshot = `{"responses":{"overall":{"quantiles":{"50":[],"99":[]},"RPS":[]}}}`

func mustStore(t *testing.T, snapshot string, opts ...store.Option) *store.Store {
	t.Helper()
	st, err := store.New([]byte(snapshot), opts...)
	require.NoError(t, err)
	return st
}

func mustBatch(t *testing.T, raw string) store.Batch {
	t.Helper()
	b, err := store.ParseBatch([]byte(raw))
	require.NoError(t, err)
	return b
}

func TestApplyBatchScenario(t *testing.T) {
	st := mustStore(t, scenarioSnapshot)

	applied, err := st.ApplyBatch(mustBatch(t, `{"1000":{"responses":{"overall":{"quantiles":{"50":5,"99":9}}}}}`))
	require.NoError(t, err)
	require.Equal(t, 2, applied.Samples)
	require.Equal(t, 0, applied.Created)

	p50, ok := st.Leaf("responses", "overall", "quantiles", "50")
	require.True(t, ok)
	require.Equal(t, []store.Sample{{Timestamp: 1000, Value: 5}}, p50)

	p99, ok := st.Leaf("responses", "overall", "quantiles", "99")
	require.True(t, ok)
	require.Equal(t, []store.Sample{{Timestamp: 1000, Value: 9}}, p99)

	rps, ok := st.Leaf("responses", "overall", "RPS")
	require.True(t, ok)
	require.Empty(t, rps)
}

func TestApplyBatchAppendsOnePerTimestamp(t *testing.T) {
	st := mustStore(t, `{"responses":{"overall":{"RPS":[[10,1],[11,2]],"quantiles":{"50":[]}}}}`)

	_, err := st.ApplyBatch(mustBatch(t, `{
		"13":{"responses":{"overall":{"RPS":4}}},
		"12":{"responses":{"overall":{"RPS":3,"quantiles":{"50":7}}}}
	}`))
	require.NoError(t, err)

	rps, _ := st.Leaf("responses", "overall", "RPS")
	require.Equal(t, []store.Sample{
		{Timestamp: 10, Value: 1},
		{Timestamp: 11, Value: 2},
		{Timestamp: 12, Value: 3},
		{Timestamp: 13, Value: 4},
	}, rps)

	p50, _ := st.Leaf("responses", "overall", "quantiles", "50")
	require.Len(t, p50, 1)
}

func TestApplyBatchDoesNotDeduplicate(t *testing.T) {
	st := mustStore(t, `{"responses":{"overall":{"RPS":[]}}}`)
	batch := mustBatch(t, `{"5":{"responses":{"overall":{"RPS":1}}}}`)

	for i := 0; i < 3; i++ {
		_, err := st.ApplyBatch(batch)
		require.NoError(t, err)
	}

	rps, _ := st.Leaf("responses", "overall", "RPS")
	require.Len(t, rps, 3)
	for _, s := range rps {
		require.Equal(t, int64(5), s.Timestamp)
	}
}

func TestApplyEmptyBatchIsNoOp(t *testing.T) {
	st := mustStore(t, `{"responses":{"overall":{"RPS":[[1,2]],"quantiles":{"50":[[1,3]]}}}}`)
	before := st.Export()

	for _, raw := range []string{``, `{}`, `null`} {
		_, err := st.ApplyBatch(mustBatch(t, raw))
		require.NoError(t, err)
	}

	require.Equal(t, before, st.Export())
}

func TestSnapshotSampleForms(t *testing.T) {
	st := mustStore(t, `{"a":[[1,2]],"b":[{"x":3,"y":4}],"c":[{"timestamp":5,"value":6}],"d":[[7,null]],"e":[[8,[1,2,3]]],"f":7,"g":["junk",[9]]}`)

	a, _ := st.Leaf("a")
	require.Equal(t, []store.Sample{{Timestamp: 1, Value: 2}}, a)
	b, _ := st.Leaf("b")
	require.Equal(t, []store.Sample{{Timestamp: 3, Value: 4}}, b)
	c, _ := st.Leaf("c")
	require.Equal(t, []store.Sample{{Timestamp: 5, Value: 6}}, c)

	d, _ := st.Leaf("d")
	require.Len(t, d, 1)
	require.True(t, math.IsNaN(d[0].Value))

	e, _ := st.Leaf("e")
	require.Equal(t, []store.Sample{{Timestamp: 8, Value: 6, Vector: []float64{1, 2, 3}}}, e)

	f, ok := st.Leaf("f")
	require.True(t, ok, "scalars in a snapshot become empty leaves")
	require.Empty(t, f)

	g, _ := st.Leaf("g")
	require.Empty(t, g)
}

func TestSnapshotRejectsNonObject(t *testing.T) {
	_, err := store.New([]byte(`[1,2,3]`))
	require.Error(t, err)

	_, err = store.New([]byte(`{broken`))
	require.Error(t, err)
}

func TestMissingLeafCreatePolicy(t *testing.T) {
	st := mustStore(t, `{"responses":{"overall":{"http_codes":{"200":[]}}}}`)

	applied, err := st.ApplyBatch(mustBatch(t, `{"7":{"responses":{"overall":{"http_codes":{"200":10,"502":1}}},"monitoring":{"web1":{"CPU":{"user":12.5}}}}}`))
	require.NoError(t, err)
	require.Equal(t, 3, applied.Samples)
	require.Equal(t, 5, applied.Created) // 502, monitoring, web1, CPU, user

	codes, ok := st.Leaf("responses", "overall", "http_codes", "502")
	require.True(t, ok)
	require.Equal(t, []store.Sample{{Timestamp: 7, Value: 1}}, codes)

	user, ok := st.Leaf("monitoring", "web1", "CPU", "user")
	require.True(t, ok)
	require.Equal(t, 12.5, user[0].Value)
}

func TestMissingLeafFailPolicyLeavesStoreUntouched(t *testing.T) {
	st := mustStore(t, scenarioSnapshot, store.WithMissingPolicy(store.MissingFail))
	before := st.Export()

	_, err := st.ApplyBatch(mustBatch(t, `{
		"1":{"responses":{"overall":{"quantiles":{"50":1}}}},
		"2":{"responses":{"overall":{"quantiles":{"75":1}}}}
	}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrSchemaMismatch))

	var mismatch *store.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, []string{"responses", "overall", "quantiles", "75"}, mismatch.Path)

	require.Equal(t, before, st.Export())
}

func TestKindConflictIsSchemaMismatch(t *testing.T) {
	st := mustStore(t, scenarioSnapshot)

	_, err := st.ApplyBatch(mustBatch(t, `{"1":{"responses":{"overall":{"RPS":{"nested":1}}}}}`))
	require.ErrorIs(t, err, store.ErrSchemaMismatch)

	_, err = st.ApplyBatch(mustBatch(t, `{"1":{"responses":{"overall":{"quantiles":3}}}}`))
	require.ErrorIs(t, err, store.ErrSchemaMismatch)
}

func TestConflictingCreationsWithinBatch(t *testing.T) {
	st := mustStore(t, `{}`)
	before := st.Export()

	_, err := st.ApplyBatch(mustBatch(t, `{"1":{"custom":{"x":1}},"2":{"custom":{"x":{"y":2}}}}`))
	require.ErrorIs(t, err, store.ErrSchemaMismatch)
	require.Equal(t, before, st.Export())
}

func TestParseBatchErrors(t *testing.T) {
	cases := map[string]string{
		"non-numeric timestamp": `{"abc":{"responses":{}}}`,
		"timestamp overflow":    `{"1e30":{"responses":{"x":1}}}`,
		"timestamp underflow":   `{"-1e30":{"responses":{"x":1}}}`,
		"sections not object":   `{"1":5}`,
		"string value":          `{"1":{"responses":{"overall":{"RPS":"fast"}}}}`,
		"not an object":         `[1]`,
		"invalid json":          `{"1":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.ParseBatch([]byte(raw))
			require.ErrorIs(t, err, store.ErrMalformedBatch)
		})
	}
}

func TestNumericArrayLeafValue(t *testing.T) {
	st := mustStore(t, `{"responses":{"overall":{"times_dist":[]}}}`)
	_, err := st.ApplyBatch(mustBatch(t, `{"3":{"responses":{"overall":{"times_dist":[1,2,4]}}}}`))
	require.NoError(t, err)

	dist, _ := st.Leaf("responses", "overall", "times_dist")
	require.Equal(t, []store.Sample{{Timestamp: 3, Value: 7, Vector: []float64{1, 2, 4}}}, dist)
}

func TestPathsKeepInsertionOrder(t *testing.T) {
	st := mustStore(t, `{"b":{"z":[],"a":[]},"a":[]}`)
	require.Equal(t, [][]string{{"b", "z"}, {"b", "a"}, {"a"}}, st.Paths())
}

func TestPointMarshalsNaNAsNull(t *testing.T) {
	data, err := json.Marshal([]store.Point{{X: 1, Y: 2}, {X: 3, Y: math.NaN()}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"x":1,"y":2},{"x":3,"y":null}]`, string(data))
}
