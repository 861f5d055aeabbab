package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/wildcard"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// execDel 移除数据库中的一个或多个键
func execDel(db *DB, args [][]byte) resp.Reply {
	keys := make([]string, len(args))
	for i, v := range args {
		keys[i] = string(v)
	}
	deleted := db.Removes(keys...)
	if deleted > 0 {
		db.propagate(utils.ToCmdLine2("del", args...))
	}
	return reply.MakeIntReply(int64(deleted))
}

// execExists 返回存在的键的数量
func execExists(db *DB, args [][]byte) resp.Reply {
	result := int64(0)
	for _, arg := range args {
		if _, exists := db.GetEntity(string(arg)); exists {
			result++
		}
	}
	return reply.MakeIntReply(result)
}

// execFlushDB 删除当前数据库中的所有数据
func execFlushDB(db *DB, args [][]byte) resp.Reply {
	db.Flush()
	db.propagate(utils.ToCmdLine2("flushdb", args...))
	return reply.MakeOkReply()
}

// execType 返回指定键的类型，包括：string、list、hash、set 和 zset
func execType(db *DB, args [][]byte) resp.Reply {
	entity, exists := db.GetEntity(string(args[0]))
	if !exists {
		return reply.MakeStatusReply("none")
	}
	switch entity.Data.(type) {
	case []byte:
		return reply.MakeStatusReply("string")
	case *List:
		return reply.MakeStatusReply("list")
	case Hash:
		return reply.MakeStatusReply("hash")
	case Set:
		return reply.MakeStatusReply("set")
	case *ZSet:
		return reply.MakeStatusReply("zset")
	}
	return reply.UnknownErr
}

func expireCmd(db *DB, name string, args [][]byte, unit time.Duration) resp.Reply {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	key := string(args[0])
	if _, exists := db.GetEntity(key); !exists {
		return reply.MakeIntReply(0)
	}
	if n <= 0 {
		db.Remove(key)
	} else {
		db.Expire(key, time.Now().Add(time.Duration(n)*unit))
	}
	db.propagate(utils.ToCmdLine2(name, args...))
	return reply.MakeIntReply(1)
}

// EXPIRE k seconds
func execExpire(db *DB, args [][]byte) resp.Reply {
	return expireCmd(db, "expire", args, time.Second)
}

// PEXPIRE k milliseconds
func execPExpire(db *DB, args [][]byte) resp.Reply {
	return expireCmd(db, "pexpire", args, time.Millisecond)
}

func ttlCmd(db *DB, args [][]byte, unit time.Duration) resp.Reply {
	key := string(args[0])
	if _, exists := db.GetEntity(key); !exists {
		return reply.MakeIntReply(-2)
	}
	d, ok := db.TTL(key)
	if !ok {
		return reply.MakeIntReply(-1)
	}
	return reply.MakeIntReply(int64((d + unit - 1) / unit))
}

// TTL k
func execTTL(db *DB, args [][]byte) resp.Reply {
	return ttlCmd(db, args, time.Second)
}

// PTTL k
func execPTTL(db *DB, args [][]byte) resp.Reply {
	return ttlCmd(db, args, time.Millisecond)
}

// PERSIST k
func execPersist(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	if _, exists := db.GetEntity(key); !exists {
		return reply.MakeIntReply(0)
	}
	if !db.Persist(key) {
		return reply.MakeIntReply(0)
	}
	db.propagate(utils.ToCmdLine2("persist", args...))
	return reply.MakeIntReply(1)
}

// RENAME src dest
func execRename(db *DB, args [][]byte) resp.Reply {
	src, dest := string(args[0]), string(args[1])
	entity, ok := db.GetEntity(src)
	if !ok {
		return reply.MakeErrReply("ERR no such key")
	}
	ttl, hasTTL := db.TTL(src)
	db.Remove(src)
	db.PutEntity(dest, entity)
	if hasTTL {
		db.Expire(dest, time.Now().Add(ttl))
	}
	db.propagate(utils.ToCmdLine2("rename", args...))
	return reply.MakeOkReply()
}

// KEYS pattern
func execKeys(db *DB, args [][]byte) resp.Reply {
	pattern, err := wildcard.CompilePattern(string(args[0]))
	if err != nil {
		return reply.MakeErrReply("ERR invalid pattern")
	}
	result := make([][]byte, 0)
	for _, key := range db.Keys() {
		if pattern.IsMatch(key) {
			result = append(result, []byte(key))
		}
	}
	return reply.MakeMultiBulkReply(result)
}

// DBSIZE
func execDBSize(db *DB, args [][]byte) resp.Reply {
	return reply.MakeIntReply(int64(len(db.Keys())))
}

// scanArgs 解析 cursor [MATCH pattern] [COUNT count]
func scanArgs(args [][]byte) (cursor int, pattern *wildcard.Pattern, count int, errReply resp.Reply) {
	cursor, err := strconv.Atoi(string(args[0]))
	if err != nil || cursor < 0 {
		return 0, nil, 0, reply.MakeErrReply("ERR invalid cursor")
	}
	count = 10
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return 0, nil, 0, reply.MakeSyntaxErrReply()
		}
		switch strings.ToUpper(string(args[i])) {
		case "MATCH":
			if pattern, err = wildcard.CompilePattern(string(args[i+1])); err != nil {
				return 0, nil, 0, reply.MakeErrReply("ERR invalid pattern")
			}
		case "COUNT":
			if count, err = strconv.Atoi(string(args[i+1])); err != nil || count <= 0 {
				return 0, nil, 0, reply.MakeSyntaxErrReply()
			}
		default:
			return 0, nil, 0, reply.MakeSyntaxErrReply()
		}
	}
	return cursor, pattern, count, nil
}

// scanReply 游标就是有序快照中的下标，遍历结束时返回 0
// expand 把一个名字展开为回复中的若干字段，MATCH 只作用于名字
func scanReply(cursor int, pattern *wildcard.Pattern, count int, names []string, expand func(name string) [][]byte) resp.Reply {
	result := make([][]byte, 0)
	i := cursor
	for ; i < len(names) && i < cursor+count; i++ {
		if pattern != nil && !pattern.IsMatch(names[i]) {
			continue
		}
		result = append(result, expand(names[i])...)
	}
	next := i
	if next >= len(names) {
		next = 0
	}
	return reply.MakeArrayReply([]resp.Reply{
		reply.MakeBulkReply([]byte(strconv.Itoa(next))),
		reply.MakeMultiBulkReply(result),
	})
}

// SCAN cursor [MATCH pattern] [COUNT count]
func execScan(db *DB, args [][]byte) resp.Reply {
	cursor, pattern, count, errReply := scanArgs(args)
	if errReply != nil {
		return errReply
	}
	return scanReply(cursor, pattern, count, db.Keys(), func(name string) [][]byte {
		return [][]byte{[]byte(name)}
	})
}

func init() {
	RegisterCommand("del", execDel, -2, flagWrite)
	RegisterCommand("unlink", execDel, -2, flagWrite)
	RegisterCommand("exists", execExists, -2, flagReadOnly)
	RegisterCommand("flushdb", execFlushDB, -1, flagWrite)
	RegisterCommand("type", execType, 2, flagReadOnly)
	RegisterCommand("expire", execExpire, 3, flagWrite)
	RegisterCommand("pexpire", execPExpire, 3, flagWrite)
	RegisterCommand("ttl", execTTL, 2, flagReadOnly)
	RegisterCommand("pttl", execPTTL, 2, flagReadOnly)
	RegisterCommand("persist", execPersist, 2, flagWrite)
	RegisterCommand("rename", execRename, 3, flagWrite)
	RegisterCommand("keys", execKeys, 2, flagReadOnly)
	RegisterCommand("dbsize", execDBSize, 1, flagReadOnly)
	RegisterCommand("scan", execScan, -2, flagReadOnly)
}
