package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNumbers(t *testing.T) {
	o := Options{"a": 3, "b": 0.5, "c": "0.25", "d": "x", "e": 2.5, "f": -1}

	var f float64
	require.NoError(t, o.Float("a", &f))
	assert.Equal(t, 3.0, f)
	require.NoError(t, o.Unit("c", &f))
	assert.Equal(t, 0.25, f)
	assert.Error(t, o.Float("d", &f))
	assert.ErrorContains(t, o.Unit("a", &f), "outside [0,1]")
	assert.Equal(t, 0.25, f, "failed parse leaves dst untouched")

	n := 7
	require.NoError(t, o.Int("missing", &n))
	assert.Equal(t, 7, n)
	require.NoError(t, o.Int("a", &n))
	assert.Equal(t, 3, n)
	assert.Error(t, o.Int("e", &n))
	assert.Error(t, o.Int("f", &n))
}

func TestOptionsCollections(t *testing.T) {
	o := Options{
		"ints":    []any{1, 2.0, "3"},
		"strings": []any{"a", "b"},
		"headers": map[string]any{"X-Key": "v"},
		"wait":    "150ms",
		"secs":    2,
	}

	ints, err := o.Ints("ints")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ints)

	strs, err := o.Strings("strings")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs)

	headers, err := o.StringMap("headers")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Key": "v"}, headers)

	var d time.Duration
	require.NoError(t, o.Duration("wait", &d))
	assert.Equal(t, 150*time.Millisecond, d)
	require.NoError(t, o.Duration("secs", &d))
	assert.Equal(t, 2*time.Second, d)

	_, err = o.Strings("ints")
	assert.Error(t, err)
}

func TestOptionsCheck(t *testing.T) {
	o := Options{"threshold": 1, "zeta": 1, "alpha": 2}
	assert.Equal(t, []string{"alpha", "zeta"}, o.Unknown("threshold"))
	assert.EqualError(t, o.Check("threshold"), "unknown options: alpha, zeta")
	assert.NoError(t, Options(nil).Check())
}
