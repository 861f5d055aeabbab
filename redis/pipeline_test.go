package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/redistest"
)

func TestPipelineRepliesInOrder(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	p := c.Pipeline()
	p.Call("SET", "a", 1).
		Call("INCR", "a").
		Call("HGET", "a", "f").
		Call("GET", "a").
		Call("HSET", "h", "f1", "v1", "f2", "v2").
		Call("HGETALL", "h")
	assert.Equal(t, 6, p.Len())
	assert.False(t, p.Transactional())

	results, err := p.Exec()
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, "OK", results[0])
	assert.Equal(t, int64(2), results[1])
	se, ok := results[2].(*errs.ServerError)
	require.True(t, ok)
	assert.Equal(t, "WRONGTYPE", se.Prefix())
	assert.Equal(t, "2", results[3])
	assert.Equal(t, int64(2), results[4])
	m, ok := results[5].(*Map)
	require.True(t, ok)
	assert.Equal(t, []string{"f1", "f2"}, m.Keys())

	// 执行后队列关闭，命令恢复立即发送
	v, found, err := c.Get("a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2", v)
}

func TestQueuedClientCallsReturnPipeline(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	p := c.Pipeline()
	assert.Same(t, p, c.Pipeline())

	v, err := c.Call("SET", "k", "v")
	require.NoError(t, err)
	assert.Same(t, p, v)
	ok, err := c.Set("other", "x", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := c.OnNode(s.Addr())
	require.NoError(t, err)
	_, err = n.Ping()
	assert.ErrorIs(t, err, errs.ErrPipelineOpen)

	results, err := c.Exec()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"OK", "OK", "v"}, results)
}

func TestEmptyFlushNeedsNoServer(t *testing.T) {
	host, port := redistest.UnusedAddr(t)
	o := config.Defaults()
	o.Host = host
	o.Port = port
	o.MaxRetries = 0
	c := newClient(t, o)

	results, err := c.Pipeline().Exec()
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = c.Exec()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMultiExecUnwrapsResults(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	tx, err := c.Multi()
	require.NoError(t, err)
	assert.True(t, tx.Transactional())
	_, err = c.Multi()
	assert.ErrorIs(t, err, errs.ErrPipelineOpen)

	tx.Call("SET", "x", "1").Call("INCR", "x").Call("LPUSH", "x", "item")
	results, err := tx.Exec()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "OK", results[0])
	assert.Equal(t, int64(2), results[1])
	assert.True(t, errs.KindOf(results[2].(error)) == errs.KindServer)

	// 事务结束后可以再次打开
	tx, err = c.Multi()
	require.NoError(t, err)
	tx.Discard()
	results, err = c.Exec()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMultiOnTopOfPipeline(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	p := c.Pipeline()
	p.Call("SET", "counter", 10)
	tx, err := c.Multi()
	require.NoError(t, err)
	assert.Same(t, p, tx)
	tx.Call("INCR", "counter").Call("GET", "counter")

	results, err := p.Exec()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"OK", int64(11), "11"}, results)
}

func TestPipelineArgumentErrorIsDeferred(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	p := c.Pipeline()
	p.Call("SET", "k", struct{}{}).Call("GET", "k")
	_, err := p.Exec()
	assert.True(t, errs.KindOf(err) == errs.KindUsage)
}

func TestExecCountMismatchDropsConnection(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))
	require.NoError(t, c.Connect())

	// GET 缺少参数在入队时被拒绝，EXEC 的回复比队列少一项
	tx, err := c.Multi()
	require.NoError(t, err)
	tx.Call("SET", "k", "v").Call("GET")
	_, err = tx.Exec()
	require.Error(t, err)
	assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
	assert.False(t, c.IsConnected())

	// 下一条命令重新建立连接
	v, err := c.Call("GET", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
