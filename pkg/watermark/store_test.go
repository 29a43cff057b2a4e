package watermark

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func numericComparer(a, b string) int {
	var av, _ = strconv.ParseFloat(a, 64)
	var bv, _ = strconv.ParseFloat(b, 64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func testKey() Key {
	return Key{Pipeline: "p1", Source: "orders", Target: "analytics.orders", CursorColumn: "updated_at"}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var _, ok, gerr = s.Get(testKey())
	require.NoError(t, gerr)
	require.False(t, ok)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key = testKey()
	require.NoError(t, s.Set(key, "100", "run-1", numericComparer))

	var value, ok, gerr = s.Get(key)
	require.NoError(t, gerr)
	require.True(t, ok)
	require.Equal(t, "100", value)
}

func TestSetRejectsRegression(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key = testKey()
	require.NoError(t, s.Set(key, "100", "run-1", numericComparer))

	var serr = s.Set(key, "50", "run-2", numericComparer)
	require.Error(t, serr)
	var regErr, ok = serr.(*RegressionError)
	require.True(t, ok)
	require.Equal(t, "100", regErr.Current)
	require.Equal(t, "50", regErr.Attempt)

	// The prior value must survive the rejected write.
	var value, _, _ = s.Get(key)
	require.Equal(t, "100", value)
}

func TestSetAcceptsEqualValueIdempotently(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key = testKey()
	require.NoError(t, s.Set(key, "100", "run-1", numericComparer))
	require.NoError(t, s.Set(key, "100", "run-2", numericComparer))

	var value, _, _ = s.Get(key)
	require.Equal(t, "100", value)
}

func TestHistoryReturnsNewestFirst(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key = testKey()
	require.NoError(t, s.Set(key, "100", "run-1", numericComparer))
	require.NoError(t, s.Set(key, "200", "run-2", numericComparer))
	require.NoError(t, s.Set(key, "300", "run-3", numericComparer))

	var hist, herr = s.History(key, 10)
	require.NoError(t, herr)
	require.Len(t, hist, 3)
	require.Equal(t, "300", hist[0].Value)
	require.Equal(t, "run-3", hist[0].RunID)
	require.Equal(t, "100", hist[2].Value)
}

func TestClearRemovesCurrentValue(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key = testKey()
	require.NoError(t, s.Set(key, "100", "run-1", numericComparer))
	require.NoError(t, s.Clear(key))

	var _, ok, _ = s.Get(key)
	require.False(t, ok)

	// History survives a clear.
	var hist, _ = s.History(key, 10)
	require.Len(t, hist, 1)
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	var s, err = Open("")
	require.NoError(t, err)
	defer s.Close()

	var key1 = testKey()
	var key2 = Key{Pipeline: "p1", Source: "customers", Target: "analytics.customers", CursorColumn: "id"}

	require.NoError(t, s.Set(key1, "100", "run-1", numericComparer))
	require.NoError(t, s.Set(key2, "5", "run-1", numericComparer))

	var v1, _, _ = s.Get(key1)
	var v2, _, _ = s.Get(key2)
	require.Equal(t, "100", v1)
	require.Equal(t, "5", v2)
}
