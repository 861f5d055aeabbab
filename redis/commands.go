package redis

import (
	"strconv"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

// cmdable 在 Call 之上提供类型化的命令，Client 和 NodeClient 共用
// pipeline 打开期间命令进入队列，这些方法返回零值
type cmdable func(cmd *command.Command) (interface{}, error)

func (c cmdable) call(name string, args ...interface{}) (interface{}, error) {
	cmd, err := command.New(name, args...)
	if err != nil {
		return nil, err
	}
	return c(cmd)
}

func isQueued(v interface{}) bool {
	_, ok := v.(*Pipeline)
	return ok
}

func typeError(v interface{}) error {
	return errs.New(errs.KindProtocol, "decode", "unexpected value of type %T", v)
}

func stringResult(v interface{}, err error) (string, bool, error) {
	if err != nil || v == nil || isQueued(v) {
		return "", false, err
	}
	switch s := v.(type) {
	case string:
		return s, true, nil
	case int64:
		return strconv.FormatInt(s, 10), true, nil
	}
	return "", false, typeError(v)
}

func intResult(v interface{}, err error) (int64, error) {
	if err != nil || v == nil || isQueued(v) {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		i, perr := strconv.ParseInt(n, 10, 64)
		if perr != nil {
			return 0, typeError(v)
		}
		return i, nil
	}
	return 0, typeError(v)
}

// boolResult 整数非 0、状态回复为真，空回复为假
func boolResult(v interface{}, err error) (bool, error) {
	if err != nil || v == nil || isQueued(v) {
		return false, err
	}
	switch b := v.(type) {
	case int64:
		return b != 0, nil
	case string:
		return true, nil
	}
	return false, typeError(v)
}

func okResult(v interface{}, err error) error {
	if err != nil || isQueued(v) {
		return err
	}
	if _, ok := v.(string); !ok {
		return typeError(v)
	}
	return nil
}

func stringsResult(v interface{}, err error) ([]string, error) {
	if err != nil || v == nil || isQueued(v) {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, typeError(v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		switch s := item.(type) {
		case string:
			out[i] = s
		case int64:
			out[i] = strconv.FormatInt(s, 10)
		case nil:
		default:
			return nil, typeError(item)
		}
	}
	return out, nil
}

func floatResult(v interface{}, err error) (float64, bool, error) {
	s, ok, err := stringResult(v, err)
	if err != nil || !ok {
		return 0, false, err
	}
	f, perr := strconv.ParseFloat(s, 64)
	if perr != nil {
		return 0, false, typeError(v)
	}
	return f, true, nil
}

// ---------------- 字符串 ----------------

// Get 键不存在时 ok 为 false
func (c cmdable) Get(key string) (string, bool, error) {
	return stringResult(c.call("GET", key))
}

// SetOptions SET 的可选参数，TTL 为 0 表示不过期
type SetOptions struct {
	TTL time.Duration
	NX  bool
	XX  bool
}

func (o *SetOptions) args() []interface{} {
	var args []interface{}
	if o == nil {
		return args
	}
	if o.TTL > 0 {
		if o.TTL%time.Second == 0 {
			args = append(args, "EX", int64(o.TTL/time.Second))
		} else {
			args = append(args, "PX", o.TTL.Milliseconds())
		}
	}
	if o.NX {
		args = append(args, "NX")
	} else if o.XX {
		args = append(args, "XX")
	}
	return args
}

// Set NX/XX 条件不满足时返回 false
func (c cmdable) Set(key string, value interface{}, opts *SetOptions) (bool, error) {
	return boolResult(c.call("SET", key, value, opts.args()))
}

func (c cmdable) SetNX(key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.Set(key, value, &SetOptions{TTL: ttl, NX: true})
}

// MGet 不存在的键对应 nil
func (c cmdable) MGet(keys ...string) ([]interface{}, error) {
	v, err := c.call("MGET", keys)
	if err != nil || v == nil || isQueued(v) {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, typeError(v)
	}
	return items, nil
}

// MSet 参数为 key, value, key, value...
func (c cmdable) MSet(pairs ...interface{}) error {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return errs.New(errs.KindUsage, "MSET", "expects key/value pairs")
	}
	return okResult(c.call("MSET", pairs...))
}

func (c cmdable) Incr(key string) (int64, error) {
	return intResult(c.call("INCR", key))
}

func (c cmdable) IncrBy(key string, n int64) (int64, error) {
	return intResult(c.call("INCRBY", key, n))
}

func (c cmdable) DecrBy(key string, n int64) (int64, error) {
	return intResult(c.call("DECRBY", key, n))
}

func (c cmdable) Del(keys ...string) (int64, error) {
	return intResult(c.call("DEL", keys))
}

func (c cmdable) Exists(keys ...string) (int64, error) {
	return intResult(c.call("EXISTS", keys))
}

func (c cmdable) Expire(key string, ttl time.Duration) (bool, error) {
	return boolResult(c.call("EXPIRE", key, int64(ttl/time.Second)))
}

// TTL 剩余秒数，-1 表示没有过期时间，-2 表示键不存在
func (c cmdable) TTL(key string) (int64, error) {
	return intResult(c.call("TTL", key))
}

func (c cmdable) Type(key string) (string, error) {
	s, _, err := stringResult(c.call("TYPE", key))
	return s, err
}

func (c cmdable) Keys(pattern string) ([]string, error) {
	return stringsResult(c.call("KEYS", pattern))
}

// ---------------- 哈希 ----------------

// HSet 参数为 field, value, field, value...
func (c cmdable) HSet(key string, fieldValues ...interface{}) (int64, error) {
	if len(fieldValues) == 0 || len(fieldValues)%2 != 0 {
		return 0, errs.New(errs.KindUsage, "HSET", "expects field/value pairs")
	}
	return intResult(c.call("HSET", key, fieldValues))
}

func (c cmdable) HGet(key, field string) (string, bool, error) {
	return stringResult(c.call("HGET", key, field))
}

func (c cmdable) HGetAll(key string) (*Map, error) {
	v, err := c.call("HGETALL", key)
	if err != nil || isQueued(v) {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, typeError(v)
	}
	return m, nil
}

func (c cmdable) HDel(key string, fields ...string) (int64, error) {
	return intResult(c.call("HDEL", key, fields))
}

func (c cmdable) HLen(key string) (int64, error) {
	return intResult(c.call("HLEN", key))
}

// ---------------- 集合 ----------------

func (c cmdable) SAdd(key string, members ...interface{}) (int64, error) {
	return intResult(c.call("SADD", key, members))
}

func (c cmdable) SRem(key string, members ...interface{}) (int64, error) {
	return intResult(c.call("SREM", key, members))
}

func (c cmdable) SMembers(key string) ([]string, error) {
	return stringsResult(c.call("SMEMBERS", key))
}

func (c cmdable) SCard(key string) (int64, error) {
	return intResult(c.call("SCARD", key))
}

func (c cmdable) SIsMember(key string, member interface{}) (bool, error) {
	return boolResult(c.call("SISMEMBER", key, member))
}

// ---------------- 有序集合 ----------------

// Z 有序集合成员
type Z struct {
	Score  float64
	Member string
}

func (c cmdable) ZAdd(key string, members ...Z) (int64, error) {
	args := make([]interface{}, 0, len(members)*2)
	for _, m := range members {
		args = append(args, m.Score, m.Member)
	}
	return intResult(c.call("ZADD", key, args))
}

func (c cmdable) ZRange(key string, start, stop int64) ([]string, error) {
	return stringsResult(c.call("ZRANGE", key, start, stop))
}

func (c cmdable) ZRevRange(key string, start, stop int64) ([]string, error) {
	return stringsResult(c.call("ZREVRANGE", key, start, stop))
}

func (c cmdable) scoreMap(v interface{}, err error) (*ScoreMap, error) {
	if err != nil || isQueued(v) {
		return nil, err
	}
	m, ok := v.(*ScoreMap)
	if !ok {
		return nil, typeError(v)
	}
	return m, nil
}

// ZRangeWithScores 分数升序
func (c cmdable) ZRangeWithScores(key string, start, stop int64) (*ScoreMap, error) {
	return c.scoreMap(c.call("ZRANGE", key, start, stop, "WITHSCORES"))
}

// ZRevRangeWithScores 分数降序
func (c cmdable) ZRevRangeWithScores(key string, start, stop int64) (*ScoreMap, error) {
	return c.scoreMap(c.call("ZREVRANGE", key, start, stop, "WITHSCORES"))
}

func (c cmdable) ZScore(key, member string) (float64, bool, error) {
	return floatResult(c.call("ZSCORE", key, member))
}

// ZRank 成员不存在时 ok 为 false
func (c cmdable) ZRank(key, member string) (int64, bool, error) {
	return rankResult(c.call("ZRANK", key, member))
}

func (c cmdable) ZRevRank(key, member string) (int64, bool, error) {
	return rankResult(c.call("ZREVRANK", key, member))
}

func rankResult(v interface{}, err error) (int64, bool, error) {
	if err != nil || v == nil || isQueued(v) {
		return 0, false, err
	}
	n, err := intResult(v, nil)
	return n, err == nil, err
}

// ZCount lo/hi 使用 "1"、"(1"、"-inf" 这样的写法
func (c cmdable) ZCount(key, lo, hi string) (int64, error) {
	return intResult(c.call("ZCOUNT", key, lo, hi))
}

func (c cmdable) ZCard(key string) (int64, error) {
	return intResult(c.call("ZCARD", key))
}

func (c cmdable) ZRem(key string, members ...interface{}) (int64, error) {
	return intResult(c.call("ZREM", key, members))
}

// 聚合方式
const (
	AggregateSum = "SUM"
	AggregateMin = "MIN"
	AggregateMax = "MAX"
)

// ZStore ZUNIONSTORE/ZINTERSTORE 的选项，Weights 为空时不发送
type ZStore struct {
	Weights   []float64
	Aggregate string
}

// ZStoreFromMap 从 {"weights": [...], "aggregate": "max"} 形式的选项构造 ZStore
func ZStoreFromMap(m map[string]interface{}) (*ZStore, error) {
	z := &ZStore{}
	for k, v := range m {
		switch strings.ToLower(k) {
		case "weights":
			switch w := v.(type) {
			case []float64:
				z.Weights = w
			case []int:
				for _, n := range w {
					z.Weights = append(z.Weights, float64(n))
				}
			case []interface{}:
				for _, item := range w {
					f, err := toFloat(item)
					if err != nil {
						return nil, err
					}
					z.Weights = append(z.Weights, f)
				}
			default:
				return nil, errs.New(errs.KindUsage, "ZSTORE", "weights must be a list of numbers")
			}
		case "aggregate":
			s, ok := v.(string)
			if !ok {
				return nil, errs.New(errs.KindUsage, "ZSTORE", "aggregate must be a string")
			}
			z.Aggregate = s
		default:
			return nil, errs.New(errs.KindUsage, "ZSTORE", "unknown option %q", k)
		}
	}
	return z, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, errs.New(errs.KindUsage, "ZSTORE", "invalid weight %v", v)
}

func (z *ZStore) args(name string, keys []string) ([]interface{}, error) {
	args := []interface{}{len(keys), keys}
	if z == nil {
		return args, nil
	}
	if len(z.Weights) > 0 {
		if len(z.Weights) != len(keys) {
			return nil, errs.New(errs.KindUsage, name, "%d weights given for %d keys", len(z.Weights), len(keys))
		}
		args = append(args, "WEIGHTS", z.Weights)
	}
	switch agg := strings.ToUpper(z.Aggregate); agg {
	case "":
	case AggregateSum, AggregateMin, AggregateMax:
		args = append(args, "AGGREGATE", agg)
	default:
		return nil, errs.New(errs.KindUsage, name, "unknown aggregate %q", z.Aggregate)
	}
	return args, nil
}

func (c cmdable) zstore(name, dest string, keys []string, opts *ZStore) (int64, error) {
	args, err := opts.args(name, keys)
	if err != nil {
		return 0, err
	}
	return intResult(c.call(name, append([]interface{}{dest}, args...)...))
}

func (c cmdable) ZUnionStore(dest string, keys []string, opts *ZStore) (int64, error) {
	return c.zstore("ZUNIONSTORE", dest, keys, opts)
}

func (c cmdable) ZInterStore(dest string, keys []string, opts *ZStore) (int64, error) {
	return c.zstore("ZINTERSTORE", dest, keys, opts)
}

// ---------------- 列表 ----------------

func (c cmdable) LPush(key string, values ...interface{}) (int64, error) {
	return intResult(c.call("LPUSH", key, values))
}

func (c cmdable) RPush(key string, values ...interface{}) (int64, error) {
	return intResult(c.call("RPUSH", key, values))
}

func (c cmdable) LRange(key string, start, stop int64) ([]string, error) {
	return stringsResult(c.call("LRANGE", key, start, stop))
}

func (c cmdable) LLen(key string) (int64, error) {
	return intResult(c.call("LLEN", key))
}

// BLPop 返回 [key, value]，服务端超时返回 nil
// timeout 不能超过连接的读超时，否则以超时错误结束
func (c cmdable) BLPop(timeout time.Duration, keys ...string) ([]string, error) {
	return stringsResult(c.call("BLPOP", keys, timeout.Seconds()))
}

// ---------------- 游标 ----------------

func scanArgs(match string, count int64) []interface{} {
	var args []interface{}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	return args
}

func (c cmdable) cursor(cursor *uint64, v interface{}, err error) (*Cursor, bool, error) {
	if err != nil || isQueued(v) {
		return nil, false, err
	}
	cur, ok := v.(*Cursor)
	if !ok {
		return nil, false, typeError(v)
	}
	*cursor = cur.Next
	return cur, cur.Next != 0, nil
}

// Scan 从 *cursor 继续迭代一批键并更新游标
// 返回 false 表示迭代结束，游标已重置为 0，本批结果仍然有效
func (c cmdable) Scan(cursor *uint64, match string, count int64) ([]string, bool, error) {
	v, err := c.call("SCAN", *cursor, scanArgs(match, count))
	cur, more, err := c.cursor(cursor, v, err)
	if cur == nil {
		return nil, false, err
	}
	return cur.Items, more, nil
}

func (c cmdable) HScan(key string, cursor *uint64, match string, count int64) (*Map, bool, error) {
	v, err := c.call("HSCAN", key, *cursor, scanArgs(match, count))
	cur, more, err := c.cursor(cursor, v, err)
	if cur == nil {
		return nil, false, err
	}
	if len(cur.Items)%2 != 0 {
		return nil, false, typeError(cur.Items)
	}
	m := newMap(len(cur.Items) / 2)
	for i := 0; i < len(cur.Items); i += 2 {
		m.set(cur.Items[i], cur.Items[i+1])
	}
	return m, more, nil
}

func (c cmdable) SScan(key string, cursor *uint64, match string, count int64) ([]string, bool, error) {
	v, err := c.call("SSCAN", key, *cursor, scanArgs(match, count))
	cur, more, err := c.cursor(cursor, v, err)
	if cur == nil {
		return nil, false, err
	}
	return cur.Items, more, nil
}

func (c cmdable) ZScan(key string, cursor *uint64, match string, count int64) (*ScoreMap, bool, error) {
	v, err := c.call("ZSCAN", key, *cursor, scanArgs(match, count))
	cur, more, err := c.cursor(cursor, v, err)
	if cur == nil {
		return nil, false, err
	}
	if len(cur.Items)%2 != 0 {
		return nil, false, typeError(cur.Items)
	}
	m := newScoreMap(len(cur.Items) / 2)
	for i := 0; i < len(cur.Items); i += 2 {
		score, perr := strconv.ParseFloat(cur.Items[i+1], 64)
		if perr != nil {
			return nil, false, typeError(cur.Items[i+1])
		}
		m.set(cur.Items[i], score)
	}
	return m, more, nil
}

// ---------------- 服务器 ----------------

func (c cmdable) Ping() (string, error) {
	s, _, err := stringResult(c.call("PING"))
	return s, err
}

func (c cmdable) Echo(msg string) (string, error) {
	s, _, err := stringResult(c.call("ECHO", msg))
	return s, err
}

func (c cmdable) Info(sections ...string) (string, error) {
	s, _, err := stringResult(c.call("INFO", sections))
	return s, err
}

func (c cmdable) DBSize() (int64, error) {
	return intResult(c.call("DBSIZE"))
}

func (c cmdable) FlushDB() error {
	return okResult(c.call("FLUSHDB"))
}

func (c cmdable) FlushAll() error {
	return okResult(c.call("FLUSHALL"))
}

// Select 只影响当前连接，重连后回到配置的数据库
func (c cmdable) Select(db int) error {
	return okResult(c.call("SELECT", db))
}
