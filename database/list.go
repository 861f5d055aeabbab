package database

import (
	"strconv"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// List 列表类型
type List struct {
	items [][]byte
}

func (db *DB) getList(key string, create bool) (*List, reply.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		if !create {
			return nil, nil
		}
		l := &List{}
		db.PutEntity(key, &database.DataEntity{Data: l})
		return l, nil
	}
	l, ok := entity.Data.(*List)
	if !ok {
		return nil, reply.WrongTypeErr
	}
	return l, nil
}

func (l *List) len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// LPUSH key value [value ...]
func execLPush(db *DB, args [][]byte) resp.Reply {
	l, errReply := db.getList(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	for _, v := range args[1:] {
		l.items = append([][]byte{v}, l.items...)
	}
	db.propagate(utils.ToCmdLine2("lpush", args...))
	return reply.MakeIntReply(int64(len(l.items)))
}

// RPUSH key value [value ...]
func execRPush(db *DB, args [][]byte) resp.Reply {
	l, errReply := db.getList(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	l.items = append(l.items, args[1:]...)
	db.propagate(utils.ToCmdLine2("rpush", args...))
	return reply.MakeIntReply(int64(len(l.items)))
}

func (db *DB) pop(key string, left bool) ([]byte, reply.ErrorReply) {
	l, errReply := db.getList(key, false)
	if errReply != nil || l.len() == 0 {
		return nil, errReply
	}
	var v []byte
	if left {
		v, l.items = l.items[0], l.items[1:]
	} else {
		v, l.items = l.items[len(l.items)-1], l.items[:len(l.items)-1]
	}
	if len(l.items) == 0 {
		db.Remove(key)
	}
	return v, nil
}

func popCmd(db *DB, name string, args [][]byte, left bool) resp.Reply {
	v, errReply := db.pop(string(args[0]), left)
	if errReply != nil {
		return errReply
	}
	if v == nil {
		return reply.MakeNullBulkReply()
	}
	db.propagate(utils.ToCmdLine2(name, args...))
	return reply.MakeBulkReply(v)
}

// LPOP key
func execLPop(db *DB, args [][]byte) resp.Reply {
	return popCmd(db, "lpop", args, true)
}

// RPOP key
func execRPop(db *DB, args [][]byte) resp.Reply {
	return popCmd(db, "rpop", args, false)
}

// BLPOP key [key ...] timeout
// 所有列表都为空时不回复，客户端只能等到自己的读超时
func execBLPop(db *DB, args [][]byte) resp.Reply {
	if _, err := strconv.ParseFloat(string(args[len(args)-1]), 64); err != nil {
		return reply.MakeErrReply("ERR timeout is not a float or out of range")
	}
	for _, key := range args[:len(args)-1] {
		v, errReply := db.pop(string(key), true)
		if errReply != nil {
			return errReply
		}
		if v != nil {
			db.propagate(utils.ToCmdLine2("lpop", key))
			return reply.MakeMultiBulkReply([][]byte{key, v})
		}
	}
	return &reply.NoReply{}
}

// LLEN key
func execLLen(db *DB, args [][]byte) resp.Reply {
	l, errReply := db.getList(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeIntReply(int64(l.len()))
}

// normalizeRange 把 Redis 的负数下标转换为 [start, stop) 区间
func normalizeRange(start, stop int64, size int) (int, int) {
	n := int64(size)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0
	}
	return int(start), int(stop) + 1
}

// LRANGE key start stop
func execLRange(db *DB, args [][]byte) resp.Reply {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getList(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	from, to := normalizeRange(start, stop, l.len())
	result := make([][]byte, 0, to-from)
	if l != nil {
		result = append(result, l.items[from:to]...)
	}
	return reply.MakeMultiBulkReply(result)
}

// LINDEX key index
func execLIndex(db *DB, args [][]byte) resp.Reply {
	idx, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getList(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if idx < 0 {
		idx += l.len()
	}
	if idx < 0 || idx >= l.len() {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(l.items[idx])
}

func init() {
	RegisterCommand("lpush", execLPush, -3, flagWrite)
	RegisterCommand("rpush", execRPush, -3, flagWrite)
	RegisterCommand("lpop", execLPop, 2, flagWrite)
	RegisterCommand("rpop", execRPop, 2, flagWrite)
	RegisterCommand("blpop", execBLPop, -3, flagWrite)
	RegisterCommand("llen", execLLen, 2, flagReadOnly)
	RegisterCommand("lrange", execLRange, 4, flagReadOnly)
	RegisterCommand("lindex", execLIndex, 3, flagReadOnly)
}
