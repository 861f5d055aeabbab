package redis

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/database"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/redistest"
)

func optionsFor(s *redistest.Server) *config.Options {
	o := config.Defaults()
	o.Host = s.Host
	o.Port = s.Port
	return o
}

func newClient(t *testing.T, o *config.Options) *Client {
	c, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRoundTripValues(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	binary := make([]byte, 128*1024+7)
	for i := range binary {
		binary[i] = byte(i % 256)
	}
	values := map[string]string{
		"scalar": "value",
		"empty":  "",
		"utf8":   "héllo wörld ✓ 日本語",
		"crlf":   "line1\r\nline2",
		"binary": string(binary),
	}
	for key, value := range values {
		ok, err := c.Set(key, value, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		got, found, err := c.Get(key)
		require.NoError(t, err)
		assert.True(t, found, key)
		assert.Equal(t, value, got, key)
	}

	_, found, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCallDecodesPlainReplies(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	v, err := c.Call("SET", "n", 10)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)
	v, err = c.Call("INCRBY", "n", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), v)
	v, err = c.Call("GET", "nothing")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = c.Call("MGET", "n", "nothing")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"15", nil}, v)
}

func TestVariadicArgumentsAreFlattened(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	n, err := c.SAdd("a", "x", "y", "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	v, err := c.Call("SADD", "b", []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	a, err := c.SMembers("a")
	require.NoError(t, err)
	b, err := c.SMembers("b")
	require.NoError(t, err)
	sort.Strings(a)
	sort.Strings(b)
	assert.Equal(t, a, b)

	deleted, err := c.Del("a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestHashGetAllKeepsFieldOrder(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	_, err := c.HSet("h", "b", "2", "a", "1", "c", "3")
	require.NoError(t, err)
	m, err := c.HGetAll("h")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, m.Keys())
	v, ok := m.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, m.ToMap())

	empty, err := c.HGetAll("nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestSortedSetRanges(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	_, err := c.ZAdd("z", Z{1, "one"}, Z{2.123, "two"}, Z{3, "three"}, Z{11, "eleven"})
	require.NoError(t, err)

	members, err := c.ZRange("z", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, members)

	scores, err := c.ZRangeWithScores("z", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, scores.Members())
	one, _ := scores.Score("one")
	two, _ := scores.Score("two")
	assert.Equal(t, 1.0, one)
	assert.Equal(t, 2.123, two)

	rev, err := c.ZRevRangeWithScores("z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"eleven", "three", "two", "one"}, rev.Members())

	v, err := c.Call("ZRANGE", "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"one", "two", "three", "eleven"}, v)

	score, ok, err := c.ZScore("z", "eleven")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 11.0, score)

	rank, ok, err := c.ZRank("z", "three")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), rank)
	rank, ok, err = c.ZRevRank("z", "three")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), rank)
	_, ok, err = c.ZRank("z", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.ZCount("z", "(1", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSortedSetKeyNamedWithscores(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	_, err := c.ZAdd("withscores", Z{1, "a"}, Z{2, "b"})
	require.NoError(t, err)
	v, err := c.Call("ZRANGE", "withscores", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, v)

	scores, err := c.ZRangeWithScores("withscores", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, scores.Members())
}

func TestZStoreOptions(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	_, err := c.ZAdd("{z}1", Z{1, "a"}, Z{2, "b"})
	require.NoError(t, err)
	_, err = c.ZAdd("{z}2", Z{10, "b"}, Z{20, "c"})
	require.NoError(t, err)

	n, err := c.ZUnionStore("{z}sum", []string{"{z}1", "{z}2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	b, _, err := c.ZScore("{z}sum", "b")
	require.NoError(t, err)
	assert.Equal(t, 12.0, b)

	_, err = c.ZUnionStore("{z}max", []string{"{z}1", "{z}2"}, &ZStore{Weights: []float64{2, 1}, Aggregate: "max"})
	require.NoError(t, err)
	b, _, err = c.ZScore("{z}max", "b")
	require.NoError(t, err)
	assert.Equal(t, 10.0, b)

	opts, err := ZStoreFromMap(map[string]interface{}{"weights": []interface{}{1, "3"}, "aggregate": "min"})
	require.NoError(t, err)
	n, err = c.ZInterStore("{z}min", []string{"{z}1", "{z}2"}, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	b, _, err = c.ZScore("{z}min", "b")
	require.NoError(t, err)
	assert.Equal(t, 2.0, b)

	_, err = c.ZUnionStore("{z}bad", []string{"{z}1"}, &ZStore{Aggregate: "avg"})
	assert.Equal(t, errs.KindUsage, errs.KindOf(err))
	_, err = c.ZUnionStore("{z}bad", []string{"{z}1"}, &ZStore{Weights: []float64{1, 2}})
	assert.Equal(t, errs.KindUsage, errs.KindOf(err))
	_, err = ZStoreFromMap(map[string]interface{}{"weight": 1})
	assert.Equal(t, errs.KindUsage, errs.KindOf(err))
}

func TestScanIteratesAllKeys(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		k := "scan:" + strconv.Itoa(i)
		want = append(want, k)
		s.Do("SET", k, "v")
	}
	s.Do("SET", "other", "v")

	var cursor uint64
	var got []string
	for rounds := 0; rounds < 100; rounds++ {
		keys, more, err := c.Scan(&cursor, "scan:*", 7)
		require.NoError(t, err)
		got = append(got, keys...)
		if !more {
			break
		}
	}
	assert.Equal(t, uint64(0), cursor)
	assert.ElementsMatch(t, want, got)

	_, err := c.HSet("h", "f1", "1", "f2", "2")
	require.NoError(t, err)
	cursor = 0
	fields, more, err := c.HScan("h", &cursor, "", 0)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, map[string]string{"f1": "1", "f2": "2"}, fields.ToMap())
}

func TestServerErrorsAreClassified(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))

	_, err := c.SAdd("set", "a")
	require.NoError(t, err)
	_, _, err = c.Get("set")
	var se *errs.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WRONGTYPE", se.Prefix())
	assert.Equal(t, errs.KindServer, errs.KindOf(err))
	assert.False(t, errs.IsFatal(err))
	assert.True(t, c.IsConnected())

	_, err = c.Call("NOSUCHCOMMAND")
	require.ErrorAs(t, err, &se)
	assert.True(t, strings.HasPrefix(se.Msg, "ERR unknown command"))
}

func TestAuthenticationErrorIsNotRetried(t *testing.T) {
	s := redistest.StartWith(t, database.ServerOptions{Password: "secret"})
	o := optionsFor(s)
	o.Password = "wrong"
	var dials int32
	o.Dialer = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return net.DialTimeout(network, addr, timeout)
	}
	c := newClient(t, o)

	_, _, err := c.Get("k")
	require.Error(t, err)
	assert.True(t, errs.IsAuthentication(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

// flakyConn 第一次写入时断开，模拟连接被重置
type flakyConn struct {
	net.Conn
	broken int32
}

func (f *flakyConn) Write(b []byte) (int, error) {
	if atomic.CompareAndSwapInt32(&f.broken, 0, 1) {
		_ = f.Conn.Close()
		return 0, errors.New("connection reset by peer")
	}
	return f.Conn.Write(b)
}

func flakyDialer(dials *int32) func(network, addr string, timeout time.Duration) (net.Conn, error) {
	return func(network, addr string, timeout time.Duration) (net.Conn, error) {
		conn, err := net.DialTimeout(network, addr, timeout)
		if err != nil {
			return nil, err
		}
		if atomic.AddInt32(dials, 1) == 1 {
			return &flakyConn{Conn: conn}, nil
		}
		return conn, nil
	}
}

func TestReadOnlyCommandIsRetriedOnce(t *testing.T) {
	s := redistest.Start(t)
	s.Do("SET", "k", "v")
	o := optionsFor(s)
	var dials int32
	o.Dialer = flakyDialer(&dials)
	c := newClient(t, o)

	v, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestNonIdempotentCommandIsNotRetried(t *testing.T) {
	s := redistest.Start(t)
	o := optionsFor(s)
	var dials int32
	o.Dialer = flakyDialer(&dials)
	c := newClient(t, o)

	_, err := c.Incr("counter")
	require.Error(t, err)
	assert.True(t, errs.IsConnection(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))

	// 下一条命令重新连接
	n, err := c.Incr("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBlockingReadTimesOut(t *testing.T) {
	s := redistest.Start(t)
	c := newClient(t, optionsFor(s))
	require.NoError(t, c.Connect())

	c.SetReadTimeout(100 * time.Millisecond)
	start := time.Now()
	_, err := c.BLPop(0, "empty")
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.False(t, c.IsConnected())
	c.SetReadTimeout(c.ReadTimeout())

	_, err = c.RPush("list", "a")
	require.NoError(t, err)
	got, err := c.BLPop(time.Second, "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "a"}, got)
}

type recordingObserver struct {
	names []string
	errs  []error
}

func (r *recordingObserver) ObserveCommand(name string, elapsed time.Duration, err error) {
	r.names = append(r.names, name)
	r.errs = append(r.errs, err)
}

func TestObserverSeesEveryCommand(t *testing.T) {
	s := redistest.Start(t)
	obs := &recordingObserver{}
	c, err := NewClient(Options{Config: optionsFor(s), Observer: obs})
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("k", "v", nil)
	_, _ = c.HGetAll("k")
	p := c.Pipeline()
	p.Call("GET", "k").Call("GET", "k")
	_, err = p.Exec()
	require.NoError(t, err)

	assert.Equal(t, []string{"SET", "HGETALL", "PIPELINE"}, obs.names)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
}

func TestInvalidConfiguration(t *testing.T) {
	o := config.Defaults()
	o.ReadTimeout = -2
	_, err := New(o)
	assert.True(t, errs.IsConfiguration(err))
}
