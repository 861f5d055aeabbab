package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCmdLine3FlattensSequences(t *testing.T) {
	variadic, err := ToCmdLine3("SADD", "key", "a", "b", "c")
	require.NoError(t, err)
	single, err := ToCmdLine3("SADD", "key", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, variadic, single)
	assert.Len(t, single, 5)
}

func TestFormatArg(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"x", "x"},
		{[]byte{0, 1}, "\x00\x01"},
		{42, "42"},
		{int64(-7), "-7"},
		{uint64(7), "7"},
		{2.5, "2.5"},
		{true, "1"},
		{false, "0"},
		{math.Inf(1), "+inf"},
		{math.Inf(-1), "-inf"},
	}
	for _, tt := range tests {
		got, err := FormatArg(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}

	_, err := FormatArg(struct{}{})
	assert.Error(t, err)
}
