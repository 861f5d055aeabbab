package cache

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/database"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/redistest"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

func configFor(s *redistest.Server) *config.Options {
	o := config.Defaults()
	o.Host = s.Host
	o.Port = s.Port
	o.MaxRetries = 0
	return o
}

func newCache(t *testing.T, o *config.Options) *ObjectCache {
	c, err := New(Options{Config: o})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func raw(s *redistest.Server, key string) (string, bool) {
	b, ok := s.Do("GET", key).(*reply.BulkReply)
	if !ok {
		return "", false
	}
	return string(b.Arg), true
}

func TestKeyLayout(t *testing.T) {
	o := config.Defaults()
	o.Disabled = true
	o.Prefix = "wp_"
	o.GlobalGroups = []string{"users"}
	c := newCache(t, o)
	c.SwitchToBlog(2)

	assert.Equal(t, "wp_2:posts:a-b", c.Key("a b", "posts"))
	assert.Equal(t, "wp_2:default:k", c.Key("k", ""))
	assert.Equal(t, "wp_users:1", c.Key("1", "users"))
	c.AddGlobalGroups("site-options")
	assert.Equal(t, "wp_site-options:x", c.Key("x", "site-options"))
	assert.Equal(t, StatusDisabled, c.Status())
}

func TestSetGetThroughRedis(t *testing.T) {
	s := redistest.Start(t)
	o := configFor(s)
	o.Compression = config.CompressionZstd
	c := newCache(t, o)
	assert.Equal(t, StatusConnected, c.Status())

	large := strings.Repeat("lorem ipsum ", 500)
	values := map[string]interface{}{
		"str":   "value",
		"int":   7,
		"list":  []string{"a", "b"},
		"map":   map[string]string{"title": "Hello"},
		"large": large,
	}
	for key, v := range values {
		ok, err := c.Set(key, v, "posts", 0)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
	c.FlushRuntime()

	want := map[string]interface{}{
		"str":   "value",
		"int":   int64(7),
		"list":  []interface{}{"a", "b"},
		"map":   map[string]interface{}{"title": "Hello"},
		"large": large,
	}
	for key, v := range want {
		got, found, err := c.Get(key, "posts")
		require.NoError(t, err)
		assert.True(t, found, key)
		assert.Equal(t, v, got, key)
	}

	stored, ok := raw(s, c.Key("int", "posts"))
	require.True(t, ok)
	assert.Equal(t, "7", stored)

	_, found, err := c.Get("missing", "posts")
	require.NoError(t, err)
	assert.False(t, found)
	stats := c.Stats()
	assert.Equal(t, int64(5), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRuntimeCacheServesRepeatedReads(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))

	_, err := c.Set("k", "v1", "", 0)
	require.NoError(t, err)
	// 绕过缓存直接修改，本次请求内仍然读到运行时缓存中的值
	s.Do("SET", c.Key("k", ""), "changed")
	got, _, err := c.Get("k", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	c.FlushRuntime()
	got, _, err = c.Get("k", "")
	require.NoError(t, err)
	assert.Equal(t, "changed", got)
}

func TestAddAndReplace(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))

	ok, err := c.Replace("k", "v", "", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Add("k", "v", "", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Add("k", "other", "", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// 其他进程写入的键也会让 Add 失败
	s.Do("SET", c.Key("elsewhere", ""), "x")
	ok, err = c.Add("elsewhere", "mine", "", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Replace("k", "v2", "", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _, err := c.Get("k", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestDelete(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))

	_, err := c.Set("k", "v", "", 0)
	require.NoError(t, err)
	ok, err := c.Delete("k", "")
	require.NoError(t, err)
	assert.True(t, ok)
	_, exists := raw(s, c.Key("k", ""))
	assert.False(t, exists)

	ok, err = c.Delete("k", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementAndDecrement(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))

	_, ok, err := c.Increment("counter", 1, "")
	require.NoError(t, err)
	assert.False(t, ok)
	_, exists := raw(s, c.Key("counter", ""))
	assert.False(t, exists)

	_, err = c.Set("counter", 5, "", 0)
	require.NoError(t, err)
	n, ok, err := c.Increment("counter", 3, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(8), n)

	n, ok, err = c.Decrement("counter", 10, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, n)
	stored, _ := raw(s, c.Key("counter", ""))
	assert.Equal(t, "0", stored)

	got, _, err := c.Get("counter", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestIncrementChecksExistenceOnMaster(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 1, database.ServerOptions{})
	o := config.Defaults()
	o.Servers = []string{
		"tcp://" + master.Addr() + "?role=master",
		"tcp://" + replicas[0].Addr(),
	}
	o.MaxRetries = 0
	c := newCache(t, o)

	_, err := c.Set("counter", 5, "", 0)
	require.NoError(t, err)
	master.WaitReplicated()
	// 副本还没有这个键，存在性必须以主节点为准
	replicas[0].Do("DEL", c.Key("counter", ""))

	n, ok, err := c.Increment("counter", 2, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
	stored, _ := raw(master, c.Key("counter", ""))
	assert.Equal(t, "7", stored)
}

func TestIgnoredGroupStaysInProcess(t *testing.T) {
	s := redistest.Start(t)
	o := configFor(s)
	o.IgnoredGroups = []string{"counts"}
	c := newCache(t, o)

	ok, err := c.Set("k", 1, "counts", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	_, exists := raw(s, c.Key("k", "counts"))
	assert.False(t, exists)

	got, found, err := c.Get("k", "counts")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), got)
	n, ok, err := c.Increment("k", 4, "counts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	other := newCache(t, o)
	_, found, err = other.Get("k", "counts")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMaxTTLCapsExpiry(t *testing.T) {
	s := redistest.Start(t)
	o := configFor(s)
	o.MaxTTL = 60
	c := newCache(t, o)

	for _, ttl := range []time.Duration{0, time.Hour} {
		_, err := c.Set("k", "v", "", ttl)
		require.NoError(t, err)
		r, ok := s.Do("TTL", c.Key("k", "")).(*reply.IntReply)
		require.True(t, ok)
		assert.True(t, r.Code > 0 && r.Code <= 60, r.Code)
	}
	_, err := c.Set("k", "v", "", 10*time.Second)
	require.NoError(t, err)
	r := s.Do("TTL", c.Key("k", "")).(*reply.IntReply)
	assert.True(t, r.Code > 0 && r.Code <= 10, r.Code)
}

func TestFlushWithPrefixKeepsOtherKeys(t *testing.T) {
	s := redistest.Start(t)
	oa := configFor(s)
	oa.Prefix = "a*:"
	ob := configFor(s)
	ob.Prefix = "b:"
	a := newCache(t, oa)
	b := newCache(t, ob)

	for i := 0; i < 1200; i++ {
		_, err := a.Set(strings.Repeat("k", 1+i%7)+string(rune('a'+i%26)), i, "", 0)
		require.NoError(t, err)
	}
	_, err := b.Set("k", "v", "", 0)
	require.NoError(t, err)
	s.Do("SET", "a-unrelated", "x")

	ok, err := a.Flush()
	require.NoError(t, err)
	assert.True(t, ok)

	keys := s.Do("KEYS", "*").(*reply.MultiBulkReply)
	var names []string
	for _, k := range keys.Args {
		names = append(names, string(k))
	}
	assert.ElementsMatch(t, []string{"b:0:default:k", "a-unrelated"}, names)
}

func TestFlushWithoutPrefixClearsDatabase(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))
	_, err := c.Set("k", "v", "", 0)
	require.NoError(t, err)
	s.Do("SET", "other", "x")

	ok, err := c.Flush()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), s.Do("DBSIZE").(*reply.IntReply).Code)
	_, found, err := c.Get("k", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFlushInCluster(t *testing.T) {
	cl := redistest.StartCluster(t, 3)
	o := config.Defaults()
	o.Cluster = []string{"tcp://" + cl.Nodes[0].Addr()}
	o.Prefix = "site:"
	c := newCache(t, o)

	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		ok, err := c.Set(k, k, "", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	for _, n := range cl.Nodes {
		n.Do("SET", "keep", "x")
	}
	ok, err := c.Flush()
	require.NoError(t, err)
	assert.True(t, ok)
	for _, n := range cl.Nodes {
		assert.Equal(t, int64(1), n.Do("DBSIZE").(*reply.IntReply).Code)
	}
	d := c.Diagnostics()
	assert.Equal(t, 3, d.Shards)
	assert.Equal(t, o.Cluster, d.ClusterNodes)
}

func TestDegradesToMissWhenServerGoesAway(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))
	_, err := c.Set("k", "v", "", 0)
	require.NoError(t, err)
	c.FlushRuntime()

	s.Close()
	got, found, err := c.Get("k", "")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	ok, err := c.Set("k", "v", "", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Increment("k", 1, "")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Flush()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StatusNotConnected, c.Status())
}

func TestUnreachableServerUsesRuntimeOnly(t *testing.T) {
	host, port := redistest.UnusedAddr(t)
	o := config.Defaults()
	o.Host = host
	o.Port = port
	o.MaxRetries = 0
	c := newCache(t, o)
	assert.Equal(t, StatusNotConnected, c.Status())

	ok, err := c.Set("k", 2, "", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	got, found, err := c.Get("k", "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), got)

	d := c.Diagnostics()
	assert.Equal(t, StatusNotConnected, d.Status)
	assert.Equal(t, host, d.Host)
	assert.Equal(t, port, d.Port)
	assert.Contains(t, d.Error, host)
}

func TestAuthenticationFailureDegrades(t *testing.T) {
	s := redistest.StartWith(t, database.ServerOptions{Password: "secret"})
	o := configFor(s)
	o.Password = "wrong"
	c := newCache(t, o)
	assert.Equal(t, StatusNotConnected, c.Status())

	o.Password = "secret"
	good := newCache(t, o)
	assert.Equal(t, StatusConnected, good.Status())
	assert.True(t, good.Diagnostics().PasswordPresent)
}

func TestConfigurationErrorsAreReturned(t *testing.T) {
	o := config.Defaults()
	o.ReadTimeout = -2
	_, err := New(Options{Config: o})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestDiagnosticsReportsVersion(t *testing.T) {
	s := redistest.Start(t)
	c := newCache(t, configFor(s))

	d := c.Diagnostics()
	assert.Equal(t, StatusConnected, d.Status)
	assert.Equal(t, config.ModeStandalone, d.Mode)
	assert.Equal(t, database.Version, d.RedisVersion)
	assert.Equal(t, s.Host, d.Host)
	assert.Equal(t, s.Port, d.Port)
	assert.False(t, d.PasswordPresent)
	assert.Empty(t, d.Error)
}

type lookups struct {
	mu       sync.Mutex
	hits     int
	misses   int
	commands []string
}

func (l *lookups) ObserveCommand(name string, _ time.Duration, _ error) {
	l.mu.Lock()
	l.commands = append(l.commands, name)
	l.mu.Unlock()
}

func (l *lookups) ObserveLookup(hit bool) {
	l.mu.Lock()
	if hit {
		l.hits++
	} else {
		l.misses++
	}
	l.mu.Unlock()
}

func TestObserverSeesLookups(t *testing.T) {
	s := redistest.Start(t)
	obs := &lookups{}
	c, err := New(Options{Config: configFor(s), Observer: obs})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("k", "v", "", 0)
	require.NoError(t, err)
	_, _, _ = c.Get("k", "")
	_, _, _ = c.Get("nope", "")
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Contains(t, obs.commands, "SET")
	assert.Contains(t, obs.commands, "GET")
}
