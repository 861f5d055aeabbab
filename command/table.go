// Package command 描述客户端发出的命令：参数规范化、键位置、读写属性以及回复的解码方式
package command

import "strings"

// Decode 回复的解码方式
type Decode int

const (
	Plain    Decode = iota // 原样返回
	Map                    // 平铺的 field/value 对解码为有序映射
	ScoreMap               // 带 WITHSCORES 的有序集合范围，解码为 member -> score
	Cursor                 // SCAN 族，[cursor, [items...]]
)

func (d Decode) String() string {
	switch d {
	case Map:
		return "map"
	case ScoreMap:
		return "score-map"
	case Cursor:
		return "cursor"
	}
	return "plain"
}

// Flag 命令属性
type Flag uint8

const (
	// FlagReadOnly 只读命令，复制模式下可以发往副本，连接失败后可以重试
	FlagReadOnly Flag = 1 << iota
	// FlagRetryable 虽然会修改数据，但重复执行结果相同
	FlagRetryable
	// FlagFanout 没有键，默认发往所有主节点
	FlagFanout
	// FlagBlocking 可能阻塞直到读超时
	FlagBlocking
	// FlagAdmin 没有确定的键，集群模式下必须显式指定节点
	FlagAdmin
)

// Info 命令表中的一项
type Info struct {
	Name   string
	Flags  Flag
	Decode Decode
	// 第一个键在参数中的位置（命令名为 0），0 表示没有键
	FirstKey int
	// 最后一个键的位置，负数表示从末尾倒数，-1 即最后一个参数
	LastKey int
	// 键之间的间隔，MSET 为 2
	KeyStep int
}

func (i *Info) has(f Flag) bool {
	return i.Flags&f != 0
}

var cmdTable = make(map[string]*Info) // 命令表

// RegisterCommand 注册命令属性，名字不区分大小写
func RegisterCommand(name string, flags Flag, decode Decode, firstKey, lastKey, keyStep int) {
	name = strings.ToUpper(name)
	cmdTable[name] = &Info{
		Name:     name,
		Flags:    flags,
		Decode:   decode,
		FirstKey: firstKey,
		LastKey:  lastKey,
		KeyStep:  keyStep,
	}
}

// Lookup 查询命令属性，未注册的命令返回 nil，按写命令处理
func Lookup(name string) *Info {
	return cmdTable[strings.ToUpper(name)]
}

// IsReadOnly 命令是否在只读白名单中
func IsReadOnly(name string) bool {
	info := Lookup(name)
	return info != nil && info.has(FlagReadOnly)
}

const (
	ro    = FlagReadOnly
	retry = FlagRetryable
)

func init() {
	// 键 / 字符串
	RegisterCommand("get", ro, Plain, 1, 1, 1)
	RegisterCommand("mget", ro, Plain, 1, -1, 1)
	RegisterCommand("getrange", ro, Plain, 1, 1, 1)
	RegisterCommand("strlen", ro, Plain, 1, 1, 1)
	RegisterCommand("exists", ro, Plain, 1, -1, 1)
	RegisterCommand("type", ro, Plain, 1, 1, 1)
	RegisterCommand("ttl", ro, Plain, 1, 1, 1)
	RegisterCommand("pttl", ro, Plain, 1, 1, 1)
	RegisterCommand("bitcount", ro, Plain, 1, 1, 1)
	RegisterCommand("getbit", ro, Plain, 1, 1, 1)
	RegisterCommand("dump", ro, Plain, 1, 1, 1)
	RegisterCommand("keys", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("randomkey", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("scan", ro|FlagAdmin, Cursor, 0, 0, 0)

	RegisterCommand("set", retry, Plain, 1, 1, 1)
	RegisterCommand("setnx", 0, Plain, 1, 1, 1)
	RegisterCommand("setex", retry, Plain, 1, 1, 1)
	RegisterCommand("psetex", retry, Plain, 1, 1, 1)
	RegisterCommand("getset", 0, Plain, 1, 1, 1)
	RegisterCommand("mset", retry, Plain, 1, -1, 2)
	RegisterCommand("msetnx", 0, Plain, 1, -1, 2)
	RegisterCommand("append", 0, Plain, 1, 1, 1)
	RegisterCommand("incr", 0, Plain, 1, 1, 1)
	RegisterCommand("incrby", 0, Plain, 1, 1, 1)
	RegisterCommand("incrbyfloat", 0, Plain, 1, 1, 1)
	RegisterCommand("decr", 0, Plain, 1, 1, 1)
	RegisterCommand("decrby", 0, Plain, 1, 1, 1)
	RegisterCommand("del", retry, Plain, 1, -1, 1)
	RegisterCommand("unlink", retry, Plain, 1, -1, 1)
	RegisterCommand("expire", retry, Plain, 1, 1, 1)
	RegisterCommand("pexpire", retry, Plain, 1, 1, 1)
	RegisterCommand("persist", retry, Plain, 1, 1, 1)
	RegisterCommand("rename", 0, Plain, 1, 2, 1)
	RegisterCommand("renamenx", 0, Plain, 1, 2, 1)

	// 哈希
	RegisterCommand("hget", ro, Plain, 1, 1, 1)
	RegisterCommand("hmget", ro, Plain, 1, 1, 1)
	RegisterCommand("hgetall", ro, Map, 1, 1, 1)
	RegisterCommand("hkeys", ro, Plain, 1, 1, 1)
	RegisterCommand("hvals", ro, Plain, 1, 1, 1)
	RegisterCommand("hlen", ro, Plain, 1, 1, 1)
	RegisterCommand("hexists", ro, Plain, 1, 1, 1)
	RegisterCommand("hstrlen", ro, Plain, 1, 1, 1)
	RegisterCommand("hscan", ro, Cursor, 1, 1, 1)
	RegisterCommand("hset", retry, Plain, 1, 1, 1)
	RegisterCommand("hmset", retry, Plain, 1, 1, 1)
	RegisterCommand("hsetnx", 0, Plain, 1, 1, 1)
	RegisterCommand("hdel", retry, Plain, 1, 1, 1)
	RegisterCommand("hincrby", 0, Plain, 1, 1, 1)

	// 列表
	RegisterCommand("llen", ro, Plain, 1, 1, 1)
	RegisterCommand("lrange", ro, Plain, 1, 1, 1)
	RegisterCommand("lindex", ro, Plain, 1, 1, 1)
	RegisterCommand("lpush", 0, Plain, 1, 1, 1)
	RegisterCommand("rpush", 0, Plain, 1, 1, 1)
	RegisterCommand("lpop", 0, Plain, 1, 1, 1)
	RegisterCommand("rpop", 0, Plain, 1, 1, 1)
	RegisterCommand("blpop", FlagBlocking, Plain, 1, -2, 1)
	RegisterCommand("brpop", FlagBlocking, Plain, 1, -2, 1)

	// 集合
	RegisterCommand("smembers", ro, Plain, 1, 1, 1)
	RegisterCommand("scard", ro, Plain, 1, 1, 1)
	RegisterCommand("sismember", ro, Plain, 1, 1, 1)
	RegisterCommand("srandmember", ro, Plain, 1, 1, 1)
	RegisterCommand("sinter", ro, Plain, 1, -1, 1)
	RegisterCommand("sunion", ro, Plain, 1, -1, 1)
	RegisterCommand("sdiff", ro, Plain, 1, -1, 1)
	RegisterCommand("sscan", ro, Cursor, 1, 1, 1)
	RegisterCommand("sadd", retry, Plain, 1, 1, 1)
	RegisterCommand("srem", retry, Plain, 1, 1, 1)
	RegisterCommand("spop", 0, Plain, 1, 1, 1)

	// 有序集合
	RegisterCommand("zrange", ro, ScoreMap, 1, 1, 1)
	RegisterCommand("zrevrange", ro, ScoreMap, 1, 1, 1)
	RegisterCommand("zrangebyscore", ro, ScoreMap, 1, 1, 1)
	RegisterCommand("zrevrangebyscore", ro, ScoreMap, 1, 1, 1)
	RegisterCommand("zscore", ro, Plain, 1, 1, 1)
	RegisterCommand("zcard", ro, Plain, 1, 1, 1)
	RegisterCommand("zcount", ro, Plain, 1, 1, 1)
	RegisterCommand("zrank", ro, Plain, 1, 1, 1)
	RegisterCommand("zrevrank", ro, Plain, 1, 1, 1)
	RegisterCommand("zscan", ro, Cursor, 1, 1, 1)
	RegisterCommand("zadd", retry, Plain, 1, 1, 1)
	RegisterCommand("zincrby", 0, Plain, 1, 1, 1)
	RegisterCommand("zrem", retry, Plain, 1, 1, 1)
	// 目标键与源键都需要落在同一个槽
	RegisterCommand("zunionstore", 0, Plain, 1, 1, 1)
	RegisterCommand("zinterstore", 0, Plain, 1, 1, 1)

	// 服务器
	RegisterCommand("ping", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("echo", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("info", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("dbsize", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("time", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("lastsave", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("config", FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("client", FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("cluster", FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("role", ro|FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("flushdb", FlagFanout|retry, Plain, 0, 0, 0)
	RegisterCommand("flushall", FlagFanout|retry, Plain, 0, 0, 0)
	RegisterCommand("select", FlagAdmin, Plain, 0, 0, 0)
	RegisterCommand("publish", FlagAdmin, Plain, 0, 0, 0)

	// 脚本，键的个数由 numkeys 决定，单独处理
	RegisterCommand("eval", 0, Plain, 3, 0, 1)
	RegisterCommand("evalsha", 0, Plain, 3, 0, 1)
}
