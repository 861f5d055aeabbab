package database

import (
	"sort"
	"strconv"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Hash 哈希类型
type Hash map[string][]byte

func (h Hash) fields() []string {
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (db *DB) getHash(key string, create bool) (Hash, reply.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		if !create {
			return nil, nil
		}
		h := make(Hash)
		db.PutEntity(key, &database.DataEntity{Data: h})
		return h, nil
	}
	h, ok := entity.Data.(Hash)
	if !ok {
		return nil, reply.WrongTypeErr
	}
	return h, nil
}

// HSET key field value [field value ...]
func execHSet(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 1 {
		return reply.MakeArgNumErrReply("hset")
	}
	h, errReply := db.getHash(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	added := 0
	for i := 1; i < len(args); i += 2 {
		if _, ok := h[string(args[i])]; !ok {
			added++
		}
		h[string(args[i])] = args[i+1]
	}
	db.propagate(utils.ToCmdLine2("hset", args...))
	return reply.MakeIntReply(int64(added))
}

// HMSET key field value [field value ...]
func execHMSet(db *DB, args [][]byte) resp.Reply {
	r := execHSet(db, args)
	if reply.IsErrorReply(r) {
		return r
	}
	return reply.MakeOkReply()
}

// HSETNX key field value
func execHSetNX(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	if _, ok := h[string(args[1])]; ok {
		return reply.MakeIntReply(0)
	}
	h[string(args[1])] = args[2]
	db.propagate(utils.ToCmdLine2("hsetnx", args...))
	return reply.MakeIntReply(1)
}

// HGET key field
func execHGet(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	val, ok := h[string(args[1])]
	if !ok {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(val)
}

// HMGET key field [field ...]
func execHMGet(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	result := make([][]byte, len(args)-1)
	for i, f := range args[1:] {
		result[i] = h[string(f)]
	}
	return reply.MakeMultiBulkReply(result)
}

// HGETALL key 按字段名排序返回 field/value 对
func execHGetAll(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	result := make([][]byte, 0, len(h)*2)
	for _, f := range h.fields() {
		result = append(result, []byte(f), h[f])
	}
	return reply.MakeMultiBulkReply(result)
}

// HKEYS key
func execHKeys(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeMultiBulkReply(utils.ToCmdLine(h.fields()...))
}

// HVALS key
func execHVals(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	result := make([][]byte, 0, len(h))
	for _, f := range h.fields() {
		result = append(result, h[f])
	}
	return reply.MakeMultiBulkReply(result)
}

// HDEL key field [field ...]
func execHDel(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	h, errReply := db.getHash(key, false)
	if errReply != nil {
		return errReply
	}
	deleted := 0
	for _, f := range args[1:] {
		if _, ok := h[string(f)]; ok {
			delete(h, string(f))
			deleted++
		}
	}
	if h != nil && len(h) == 0 {
		db.Remove(key)
	}
	if deleted > 0 {
		db.propagate(utils.ToCmdLine2("hdel", args...))
	}
	return reply.MakeIntReply(int64(deleted))
}

// HLEN key
func execHLen(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeIntReply(int64(len(h)))
}

// HEXISTS key field
func execHExists(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if _, ok := h[string(args[1])]; ok {
		return reply.MakeIntReply(1)
	}
	return reply.MakeIntReply(0)
}

// HINCRBY key field delta
func execHIncrBy(db *DB, args [][]byte) resp.Reply {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	h, errReply := db.getHash(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	var val int64
	if raw, ok := h[string(args[1])]; ok {
		if val, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return reply.MakeErrReply("ERR hash value is not an integer")
		}
	}
	val += delta
	h[string(args[1])] = []byte(strconv.FormatInt(val, 10))
	db.propagate(utils.ToCmdLine2("hincrby", args...))
	return reply.MakeIntReply(val)
}

// HSCAN key cursor [MATCH pattern] [COUNT count]
func execHScan(db *DB, args [][]byte) resp.Reply {
	h, errReply := db.getHash(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	cursor, pattern, count, r := scanArgs(args[1:])
	if r != nil {
		return r
	}
	return scanReply(cursor, pattern, count, h.fields(), func(f string) [][]byte {
		return [][]byte{[]byte(f), h[f]}
	})
}

func init() {
	RegisterCommand("hset", execHSet, -4, flagWrite)
	RegisterCommand("hmset", execHMSet, -4, flagWrite)
	RegisterCommand("hsetnx", execHSetNX, 4, flagWrite)
	RegisterCommand("hget", execHGet, 3, flagReadOnly)
	RegisterCommand("hmget", execHMGet, -3, flagReadOnly)
	RegisterCommand("hgetall", execHGetAll, 2, flagReadOnly)
	RegisterCommand("hkeys", execHKeys, 2, flagReadOnly)
	RegisterCommand("hvals", execHVals, 2, flagReadOnly)
	RegisterCommand("hdel", execHDel, -3, flagWrite)
	RegisterCommand("hlen", execHLen, 2, flagReadOnly)
	RegisterCommand("hexists", execHExists, 3, flagReadOnly)
	RegisterCommand("hincrby", execHIncrBy, 4, flagWrite)
	RegisterCommand("hscan", execHScan, -3, flagReadOnly)
}
