package azimuth

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass-ng/internal/cardinal"
	"compass-ng/internal/errs"
)

func TestNew_Normalizes(t *testing.T) {
	a, err := New(370)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, a.Degrees(), 1e-9)

	a, err = New(-10)
	require.NoError(t, err)
	assert.InDelta(t, 350.0, a.Degrees(), 1e-9)
}

func TestNew_RejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := New(v)
		require.ErrorIs(t, err, errs.ErrInvalidAngle, "value=%v", v)
	}
}

func TestCardinal(t *testing.T) {
	cases := []struct {
		deg  float64
		want cardinal.Direction
	}{
		{0, cardinal.North},
		{44, cardinal.NorthEast},
		{22.5, cardinal.NorthEast},
		{22.4999, cardinal.North},
		{-22.5, cardinal.North},
		{200, cardinal.South},
		{300, cardinal.NorthWest},
	}
	for _, tc := range cases {
		a, err := New(tc.deg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Cardinal(), "deg=%v", tc.deg)
	}
}

func TestRounded(t *testing.T) {
	cases := []struct {
		deg  float64
		want int
	}{
		{10.4, 10},
		{10.5, 11},
		{359.6, 0},
		{-0.4, 0},
		{-0.6, 359},
		{719.5, 0},
	}
	for _, tc := range cases {
		a, err := New(tc.deg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Rounded(), "deg=%v", tc.deg)
		assert.GreaterOrEqual(t, a.Rounded(), 0)
		assert.Less(t, a.Rounded(), 360)
	}
}

func TestRoundTripFromDegrees(t *testing.T) {
	for _, raw := range []float64{-1234.5, 0, 17.25, 359.999} {
		a := MustNew(raw)
		b, err := New(a.Degrees())
		require.NoError(t, err)
		assert.True(t, a.Equal(b), "raw=%v", raw)
		assert.Equal(t, a, b)
	}
}

func TestArithmetic(t *testing.T) {
	a := MustNew(350)
	b, err := a.Add(20)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, b.Degrees(), 1e-9)
	assert.Equal(t, cardinal.North, b.Cardinal())

	c, err := b.Sub(30)
	require.NoError(t, err)
	assert.InDelta(t, 340.0, c.Degrees(), 1e-9)

	_, err = a.Add(math.NaN())
	require.ErrorIs(t, err, errs.ErrInvalidAngle)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, MustNew(10).Compare(MustNew(20)))
	assert.Equal(t, 1, MustNew(370+15).Compare(MustNew(10)))
	assert.Equal(t, 0, MustNew(-350).Compare(MustNew(10)))
}

func TestBetween(t *testing.T) {
	assert.True(t, MustNew(10).Between(MustNew(350), MustNew(30)))
	assert.False(t, MustNew(200).Between(MustNew(350), MustNew(30)))
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(MustNew(93.6))
	require.NoError(t, err)
	assert.JSONEq(t, `{"degrees":93.6,"rounded":94,"cardinal":"E"}`, string(b))

	var a Azimuth
	require.NoError(t, json.Unmarshal([]byte(`{"degrees":-45}`), &a))
	assert.InDelta(t, 315.0, a.Degrees(), 1e-9)
	assert.Equal(t, cardinal.NorthWest, a.Cardinal())
}
