package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundMode(t *testing.T) {
	tests := []struct {
		in      any
		want    RoundMode
		wantErr bool
	}{
		{in: nil, want: RoundNone},
		{in: false, want: RoundNone},
		{in: true, want: RoundHalf},
		{in: "floor", want: RoundFloor},
		{in: "CEIL", want: RoundCeil},
		{in: "truncate", wantErr: true},
		{in: 3, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRoundMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRoundAndCast(t *testing.T) {
	d, ok := ToDecimal("12.345")
	require.True(t, ok)

	assert.Equal(t, "12.35", Round(d, RoundHalf, 2).String())
	assert.Equal(t, "12.34", Round(d, RoundFloor, 2).String())
	assert.Equal(t, "13", Round(d, RoundCeil, 0).String())
	assert.Equal(t, int64(12), Cast(d, "int"))
	assert.Equal(t, "12.345", Cast(d, "string"))
	assert.True(t, IsIntegral(decimal.NewFromInt(4)))
	assert.False(t, IsIntegral(d))
}
