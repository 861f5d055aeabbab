package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
)

func TestCodecRoundTrip(t *testing.T) {
	c, err := newCodec(config.CompressionNone)
	require.NoError(t, err)

	cases := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"int", 42, int64(42)},
		{"negative", int64(-7), int64(-7)},
		{"uint", uint8(3), int64(3)},
		{"string", "hello", "hello"},
		{"numeric string", "12", "12"},
		{"empty", "", ""},
		{"float", 1.5, 1.5},
		{"bool", true, true},
		{"list", []string{"a", "b"}, []interface{}{"a", "b"}},
		{"map", map[string]string{"k": "v"}, map[string]interface{}{"k": "v"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := c.encode(tc.in)
			require.NoError(t, err)
			got, err := c.decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntegersAreDecimalText(t *testing.T) {
	c, err := newCodec(config.CompressionZstd)
	require.NoError(t, err)
	raw, err := c.encode(1234)
	require.NoError(t, err)
	assert.Equal(t, "1234", raw)
}

func TestCompression(t *testing.T) {
	large := strings.Repeat("wordpress object cache ", 200)
	for _, tc := range []struct {
		compression string
		format      byte
	}{
		{config.CompressionNone, formatCBOR},
		{config.CompressionZstd, formatZstd},
		{config.CompressionBrotli, formatBrotli},
	} {
		t.Run(tc.compression, func(t *testing.T) {
			c, err := newCodec(tc.compression)
			require.NoError(t, err)
			raw, err := c.encode(large)
			require.NoError(t, err)
			assert.Equal(t, tc.format, raw[0])
			if tc.format != formatCBOR {
				assert.Less(t, len(raw), len(large))
			}
			got, err := c.decode(raw)
			require.NoError(t, err)
			assert.Equal(t, large, got)

			small, err := c.encode("tiny")
			require.NoError(t, err)
			assert.Equal(t, formatCBOR, small[0])
		})
	}
}

func TestDecodeReadsOtherCodecsOutput(t *testing.T) {
	zc, err := newCodec(config.CompressionZstd)
	require.NoError(t, err)
	raw, err := zc.encode(strings.Repeat("x", 4096))
	require.NoError(t, err)

	plain, err := newCodec(config.CompressionNone)
	require.NoError(t, err)
	got, err := plain.decode(raw)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 4096), got)

	// 其他客户端写入的普通文本原样返回
	got, err = plain.decode("written by php")
	require.NoError(t, err)
	assert.Equal(t, "written by php", got)

	_, err = plain.decode(string([]byte{formatCBOR, 0xff, 0xff}))
	assert.Error(t, err)
}
