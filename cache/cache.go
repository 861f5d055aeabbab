// Package cache 在 redis 客户端之上实现 WordPress 风格的对象缓存
// 缓存故障不能阻塞业务：连接、只读和集群路由错误都按未命中处理并记录日志，
// 只有配置错误和协议错误会返回给调用方
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/redis"
)

// DefaultGroup 未指定分组时使用的分组
const DefaultGroup = "default"

// Status 对象缓存的连接状态
type Status string

const (
	StatusConnected    Status = "connected"
	StatusNotConnected Status = "not_connected"
	StatusDisabled     Status = "disabled"
	StatusUnknown      Status = "unknown"
)

// Observer 接收命令耗时和缓存命中情况，metrics.Collector 实现了它
type Observer interface {
	redis.Observer
	ObserveLookup(hit bool)
}

// Options 构造参数
type Options struct {
	Config   *config.Options
	BlogID   int
	Observer Observer
}

// ObjectCache 对象缓存
// 每个请求创建一个实例，实例内的运行时缓存只在本次请求内有效
type ObjectCache struct {
	cfg      *config.Options
	client   *redis.Client
	codec    *codec
	observer Observer

	mu      sync.Mutex
	blogID  int
	global  map[string]bool
	ignored map[string]bool
	runtime map[string]string
	hits    int64
	misses  int64

	// 构造时连接失败的原因，非空时只使用运行时缓存
	offline error
	version string
}

// New 创建对象缓存并尝试连接
// 连接失败不会返回错误，缓存退化为只使用运行时缓存，Status 报告 not_connected
func New(opts Options) (*ObjectCache, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cd, err := newCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	c := &ObjectCache{
		cfg:      cfg,
		codec:    cd,
		observer: opts.Observer,
		blogID:   opts.BlogID,
		global:   make(map[string]bool),
		ignored:  make(map[string]bool),
		runtime:  make(map[string]string),
	}
	c.AddGlobalGroups(cfg.GlobalGroups...)
	c.AddIgnoredGroups(cfg.IgnoredGroups...)
	if cfg.Disabled {
		return c, nil
	}

	ro := redis.Options{Config: cfg}
	if opts.Observer != nil {
		ro.Observer = opts.Observer
	}
	if c.client, err = redis.NewClient(ro); err != nil {
		return nil, err
	}
	if err := c.client.Connect(); err != nil {
		if errs.IsFatal(err) {
			_ = c.client.Close()
			return nil, err
		}
		log.WithField("mode", cfg.Mode()).Warnf("object cache is not connected: %v", err)
		c.offline = err
	}
	return c, nil
}

// Client 底层客户端，禁用时为 nil
func (c *ObjectCache) Client() *redis.Client {
	return c.client
}

// AddGlobalGroups 全局分组的键不带站点编号，在多站点之间共享
func (c *ObjectCache) AddGlobalGroups(groups ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		c.global[g] = true
	}
}

// AddIgnoredGroups 忽略的分组只保存在运行时缓存中
func (c *ObjectCache) AddIgnoredGroups(groups ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		c.ignored[g] = true
	}
}

// SwitchToBlog 切换站点，之后非全局分组的键使用新的站点编号
func (c *ObjectCache) SwitchToBlog(blogID int) {
	c.mu.Lock()
	c.blogID = blogID
	c.mu.Unlock()
}

// Key 生成存储用的键：prefix + [blogID:] + group + ":" + key
func (c *ObjectCache) Key(key, group string) string {
	if group == "" {
		group = DefaultGroup
	}
	c.mu.Lock()
	global, blogID := c.global[group], c.blogID
	c.mu.Unlock()

	var b strings.Builder
	b.WriteString(c.cfg.Prefix)
	if !global {
		b.WriteString(strconv.Itoa(blogID))
		b.WriteByte(':')
	}
	b.WriteString(sanitize(group))
	b.WriteByte(':')
	b.WriteString(sanitize(key))
	return b.String()
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, " ", "-")
}

// remote 是否需要访问 redis
func (c *ObjectCache) remote(group string) bool {
	if c.client == nil || c.offline != nil {
		return false
	}
	if group == "" {
		group = DefaultGroup
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.ignored[group]
}

// degrade 非致命错误记录后按未命中处理
func (c *ObjectCache) degrade(op, key string, err error) error {
	if errs.IsFatal(err) {
		return err
	}
	entry := log.WithFields(log.Fields{"op": op, "key": key, "kind": errs.KindOf(err)})
	if errs.IsAuthentication(err) {
		entry.Errorf("object cache authentication failed: %v", err)
	} else {
		entry.Warnf("object cache degraded to miss: %v", err)
	}
	return nil
}

func (c *ObjectCache) remember(k, raw string) {
	c.mu.Lock()
	c.runtime[k] = raw
	c.mu.Unlock()
}

func (c *ObjectCache) forget(k string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runtime[k]
	delete(c.runtime, k)
	return ok
}

func (c *ObjectCache) cached(k string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.runtime[k]
	return raw, ok
}

func (c *ObjectCache) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.ObserveLookup(hit)
	}
}

// ttl 按 MaxTTL 限制过期时间，0 表示不过期
func (c *ObjectCache) ttl(d time.Duration) time.Duration {
	if c.cfg.MaxTTL <= 0 {
		return d
	}
	limit := time.Duration(c.cfg.MaxTTL) * time.Second
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Get 读取缓存，found 为 false 表示未命中
func (c *ObjectCache) Get(key, group string) (interface{}, bool, error) {
	k := c.Key(key, group)
	if raw, ok := c.cached(k); ok {
		c.count(true)
		return c.value(k, raw)
	}
	if !c.remote(group) {
		c.count(false)
		return nil, false, nil
	}
	raw, found, err := c.client.Get(k)
	if err != nil {
		c.count(false)
		return nil, false, c.degrade("get", k, err)
	}
	if !found {
		c.count(false)
		return nil, false, nil
	}
	c.remember(k, raw)
	c.count(true)
	return c.value(k, raw)
}

func (c *ObjectCache) value(k, raw string) (interface{}, bool, error) {
	v, err := c.codec.decode(raw)
	if err != nil {
		log.WithField("key", k).Warnf("object cache value is corrupt: %v", err)
		c.forget(k)
		return nil, false, nil
	}
	return v, true, nil
}

// Set 写入缓存，ttl 为 0 表示不过期（仍受 MaxTTL 限制）
func (c *ObjectCache) Set(key string, value interface{}, group string, ttl time.Duration) (bool, error) {
	return c.store("set", key, value, group, ttl, nil)
}

// Add 仅在键不存在时写入
func (c *ObjectCache) Add(key string, value interface{}, group string, ttl time.Duration) (bool, error) {
	return c.store("add", key, value, group, ttl, &redis.SetOptions{NX: true})
}

// Replace 仅在键已存在时写入
func (c *ObjectCache) Replace(key string, value interface{}, group string, ttl time.Duration) (bool, error) {
	return c.store("replace", key, value, group, ttl, &redis.SetOptions{XX: true})
}

func (c *ObjectCache) store(op, key string, value interface{}, group string, ttl time.Duration, cond *redis.SetOptions) (bool, error) {
	raw, err := c.codec.encode(value)
	if err != nil {
		return false, errs.New(errs.KindUsage, op, "%v", err)
	}
	k := c.Key(key, group)
	if !c.remote(group) {
		_, exists := c.cached(k)
		if cond != nil && (cond.NX && exists || cond.XX && !exists) {
			return false, nil
		}
		c.remember(k, raw)
		return true, nil
	}
	if cond != nil && cond.NX {
		if _, exists := c.cached(k); exists {
			return false, nil
		}
	}
	opts := &redis.SetOptions{TTL: c.ttl(ttl)}
	if cond != nil {
		opts.NX, opts.XX = cond.NX, cond.XX
	}
	ok, err := c.client.Set(k, raw, opts)
	if err != nil {
		return false, c.degrade(op, k, err)
	}
	if ok {
		c.remember(k, raw)
	}
	return ok, nil
}

// Delete 删除缓存，键存在时返回 true
func (c *ObjectCache) Delete(key, group string) (bool, error) {
	k := c.Key(key, group)
	existed := c.forget(k)
	if !c.remote(group) {
		return existed, nil
	}
	n, err := c.client.Del(k)
	if err != nil {
		return false, c.degrade("delete", k, err)
	}
	return n > 0, nil
}

// Increment 对整数值加上 offset，结果小于 0 时置为 0
// 键不存在时返回 ok=false
func (c *ObjectCache) Increment(key string, offset int64, group string) (int64, bool, error) {
	k := c.Key(key, group)
	if !c.remote(group) {
		raw, ok := c.cached(k)
		if !ok {
			return 0, false, nil
		}
		n, _ := strconv.ParseInt(raw, 10, 64)
		n += offset
		if n < 0 {
			n = 0
		}
		c.remember(k, strconv.FormatInt(n, 10))
		return n, true, nil
	}

	w, err := c.writer()
	if err != nil {
		return 0, false, c.degrade("increment", k, err)
	}
	exists, err := w.Exists(k)
	if err != nil {
		return 0, false, c.degrade("increment", k, err)
	}
	if exists == 0 {
		c.forget(k)
		return 0, false, nil
	}
	n, err := w.IncrBy(k, offset)
	if err != nil {
		return 0, false, c.degrade("increment", k, err)
	}
	if n < 0 {
		// 用反向增量归零，保留原来的过期时间
		if n, err = w.IncrBy(k, -n); err != nil {
			return 0, false, c.degrade("increment", k, err)
		}
	}
	c.remember(k, strconv.FormatInt(n, 10))
	return n, true, nil
}

// counter Increment 用到的命令
type counter interface {
	Exists(keys ...string) (int64, error)
	IncrBy(key string, n int64) (int64, error)
}

// writer 先读后写的命令发往同一个主节点，复制模式下副本可能还没有同步到刚写入的键
func (c *ObjectCache) writer() (counter, error) {
	switch c.client.Mode() {
	case config.ModeReplication, config.ModeSentinel:
		masters, err := c.client.Router().Masters()
		if err != nil {
			return nil, err
		}
		return c.client.OnNode(masters[0].Addr())
	}
	return c.client, nil
}

// Decrement 等价于 Increment(key, -offset, group)
func (c *ObjectCache) Decrement(key string, offset int64, group string) (int64, bool, error) {
	return c.Increment(key, -offset, group)
}

// FlushRuntime 清空运行时缓存，不影响 redis
func (c *ObjectCache) FlushRuntime() {
	c.mu.Lock()
	c.runtime = make(map[string]string)
	c.mu.Unlock()
}

// Flush 清空缓存
// 配置了前缀时只删除带该前缀的键，否则清空每个主节点的当前库
func (c *ObjectCache) Flush() (bool, error) {
	c.FlushRuntime()
	if c.client == nil || c.offline != nil {
		return true, nil
	}
	var err error
	if c.cfg.Prefix != "" {
		err = c.flushPrefix(c.cfg.Prefix)
	} else {
		err = c.client.FlushDB()
	}
	if err != nil {
		return false, c.degrade("flush", c.cfg.Prefix, err)
	}
	return true, nil
}

// flushBatch 每批删除的键数
const flushBatch = 500

func (c *ObjectCache) flushPrefix(prefix string) error {
	masters, err := c.client.Router().Masters()
	if err != nil {
		return err
	}
	match := escapeGlob(prefix) + "*"
	for _, conn := range masters {
		node, err := c.client.OnNode(conn.Addr())
		if err != nil {
			return err
		}
		var cursor uint64
		for {
			keys, more, err := node.Scan(&cursor, match, flushBatch)
			if err != nil {
				return err
			}
			if err := c.deleteKeys(node, keys); err != nil {
				return err
			}
			if !more {
				break
			}
		}
	}
	return nil
}

// deleteKeys 集群中一次 DEL 的键必须在同一个槽位，逐个删除
func (c *ObjectCache) deleteKeys(node *redis.NodeClient, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client.Mode() != config.ModeCluster {
		_, err := node.Del(keys...)
		return err
	}
	for _, k := range keys {
		if _, err := node.Del(k); err != nil {
			return err
		}
	}
	return nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Stats 命中统计
type Stats struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Ratio  float64 `json:"ratio"`
}

func (c *ObjectCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.Ratio = float64(c.hits) / float64(total)
	}
	return s
}

// Close 关闭连接
func (c *ObjectCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
