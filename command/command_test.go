package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

func TestNewFlattensVariadic(t *testing.T) {
	a, err := New("sadd", "set", "a", "b", "c")
	require.NoError(t, err)
	b, err := New("SADD", "set", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, a.Args[1:], b.Args[1:])
	assert.Equal(t, "SADD", a.Name)
	assert.Equal(t, "sadd", string(a.Args[0]))

	_, err = New("set", "k", struct{}{})
	assert.True(t, errs.KindOf(err) == errs.KindUsage)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		args []interface{}
		name string
		want []string
	}{
		{[]interface{}{"k"}, "get", []string{"k"}},
		{[]interface{}{"a", "b", "c"}, "mget", []string{"a", "b", "c"}},
		{[]interface{}{"a", "1", "b", "2"}, "mset", []string{"a", "b"}},
		{[]interface{}{"a", "b", 0}, "blpop", []string{"a", "b"}},
		{[]interface{}{"return 1", 2, "x", "y", "arg"}, "eval", []string{"x", "y"}},
		{[]interface{}{"return 1", 0}, "eval", nil},
		{[]interface{}{}, "ping", nil},
		{[]interface{}{"*"}, "keys", nil},
		{[]interface{}{"k", "v"}, "unknowncmd", nil},
		{[]interface{}{"src", "dst"}, "rename", []string{"src", "dst"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.name, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Keys())
		})
	}

	c, _ := New("get", "k")
	key, ok := c.Key()
	assert.True(t, ok)
	assert.Equal(t, "k", key)
	c, _ = New("ping")
	_, ok = c.Key()
	assert.False(t, ok)
}

func TestFlags(t *testing.T) {
	for _, name := range []string{"GET", "exists", "ttl", "lrange", "zrange", "hgetall", "scan", "ping", "info", "bitcount"} {
		assert.True(t, IsReadOnly(name), name)
	}
	for _, name := range []string{"set", "del", "incr", "flushdb", "eval", "not-a-command"} {
		assert.False(t, IsReadOnly(name), name)
	}

	c, _ := New("del", "k")
	assert.True(t, c.Retryable())
	c, _ = New("incr", "k")
	assert.False(t, c.Retryable())
	c, _ = New("blpop", "k", 1)
	assert.True(t, c.Blocking())
	c, _ = New("flushall")
	assert.True(t, c.Fanout())
}

func TestDecode(t *testing.T) {
	c, _ := New("zrange", "z", 0, -1)
	assert.Equal(t, Plain, c.Decode())
	c, _ = New("zrange", "z", 0, -1, "withscores")
	assert.Equal(t, ScoreMap, c.Decode())
	c, _ = New("hgetall", "h")
	assert.Equal(t, Map, c.Decode())
	c, _ = New("sscan", "s", 0)
	assert.Equal(t, Cursor, c.Decode())
	c, _ = New("whatever")
	assert.Equal(t, Plain, c.Decode())
	assert.Equal(t, "score-map", ScoreMap.String())
}

func TestDecodeIgnoresKeyNamedLikeOption(t *testing.T) {
	c, _ := New("ZRANGE", "withscores", 0, 1)
	assert.Equal(t, Plain, c.Decode())
	c, _ = New("ZRANGEBYSCORE", "WITHSCORES", "-inf", "+inf", "LIMIT", 0, 10)
	assert.Equal(t, Plain, c.Decode())
	c, _ = New("ZREVRANGEBYSCORE", "withscores", "+inf", "-inf", "WITHSCORES")
	assert.Equal(t, ScoreMap, c.Decode())

	assert.False(t, c.HasOption("withscores", 5))
	assert.True(t, c.HasOption("withscores", 1))
}

func TestString(t *testing.T) {
	long := make([]byte, 40)
	for i := range long {
		long[i] = 'x'
	}
	c, _ := New("set", "k", long)
	assert.Equal(t, "set k xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx...", c.String())
}
