package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

func (db *DB) getAsString(key string) ([]byte, reply.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		return nil, nil
	}
	bytes, ok := entity.Data.([]byte)
	if !ok {
		return nil, reply.WrongTypeErr
	}
	return bytes, nil
}

// GET k
func execGet(db *DB, args [][]byte) resp.Reply {
	bytes, err := db.getAsString(string(args[0]))
	if err != nil {
		return err
	}
	if bytes == nil {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(bytes)
}

// SET k v [EX seconds|PX milliseconds] [NX|XX]
func execSet(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	val := args[1]
	var ttl time.Duration
	nx, xx := false, false
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil || n <= 0 {
				return reply.MakeErrReply("ERR invalid expire time in 'set' command")
			}
			if strings.EqualFold(string(args[i]), "EX") {
				ttl = time.Duration(n) * time.Second
			} else {
				ttl = time.Duration(n) * time.Millisecond
			}
			i++
		default:
			return reply.MakeSyntaxErrReply()
		}
	}
	if nx && xx {
		return reply.MakeSyntaxErrReply()
	}
	_, exists := db.GetEntity(key)
	if (nx && exists) || (xx && !exists) {
		return reply.MakeNullBulkReply()
	}
	db.PutEntity(key, &database.DataEntity{Data: val})
	if ttl > 0 {
		db.Expire(key, time.Now().Add(ttl))
	}
	db.propagate(utils.ToCmdLine2("set", args...))
	return reply.MakeOkReply()
}

// SETNX k v 如果 k 存在，则不覆盖
func execSetNX(db *DB, args [][]byte) resp.Reply {
	absent := db.PutIfAbsent(string(args[0]), &database.DataEntity{Data: args[1]})
	if absent > 0 {
		db.propagate(utils.ToCmdLine2("setnx", args...))
	}
	return reply.MakeIntReply(int64(absent))
}

// SETEX k seconds v
func execSetEX(db *DB, args [][]byte) resp.Reply {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil || n <= 0 {
		return reply.MakeErrReply("ERR invalid expire time in 'setex' command")
	}
	key := string(args[0])
	db.PutEntity(key, &database.DataEntity{Data: args[2]})
	db.Expire(key, time.Now().Add(time.Duration(n)*time.Second))
	db.propagate(utils.ToCmdLine2("setex", args...))
	return reply.MakeOkReply()
}

// GETSET k v 将 k 的值设置为 v，并返回原来的值
func execGetSet(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	old, err := db.getAsString(key)
	if err != nil {
		return err
	}
	db.PutEntity(key, &database.DataEntity{Data: args[1]})
	db.propagate(utils.ToCmdLine2("getset", args...))
	if old == nil {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(old)
}

// MGET k1 k2 ...
func execMGet(db *DB, args [][]byte) resp.Reply {
	result := make([][]byte, len(args))
	for i, arg := range args {
		bytes, err := db.getAsString(string(arg))
		if err != nil {
			continue // 类型不对的键返回 nil
		}
		result[i] = bytes
	}
	return reply.MakeMultiBulkReply(result)
}

// MSET k1 v1 k2 v2 ...
func execMSet(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 0 {
		return reply.MakeArgNumErrReply("mset")
	}
	for i := 0; i < len(args); i += 2 {
		db.PutEntity(string(args[i]), &database.DataEntity{Data: args[i+1]})
	}
	db.propagate(utils.ToCmdLine2("mset", args...))
	return reply.MakeOkReply()
}

func (db *DB) incrBy(key string, delta int64, line CmdLine) resp.Reply {
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	var val int64
	if bytes != nil {
		v, err := strconv.ParseInt(string(bytes), 10, 64)
		if err != nil {
			return reply.MakeErrReply("ERR value is not an integer or out of range")
		}
		val = v
	}
	val += delta
	if entity, ok := db.GetEntity(key); ok {
		entity.Data = []byte(strconv.FormatInt(val, 10))
	} else {
		db.PutEntity(key, &database.DataEntity{Data: []byte(strconv.FormatInt(val, 10))})
	}
	db.propagate(line)
	return reply.MakeIntReply(val)
}

// INCR k
func execIncr(db *DB, args [][]byte) resp.Reply {
	return db.incrBy(string(args[0]), 1, utils.ToCmdLine2("incr", args...))
}

// DECR k
func execDecr(db *DB, args [][]byte) resp.Reply {
	return db.incrBy(string(args[0]), -1, utils.ToCmdLine2("decr", args...))
}

// INCRBY k delta
func execIncrBy(db *DB, args [][]byte) resp.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	return db.incrBy(string(args[0]), delta, utils.ToCmdLine2("incrby", args...))
}

// DECRBY k delta
func execDecrBy(db *DB, args [][]byte) resp.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	return db.incrBy(string(args[0]), -delta, utils.ToCmdLine2("decrby", args...))
}

// INCRBYFLOAT k delta
func execIncrByFloat(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	delta, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil {
		return reply.MakeErrReply("ERR value is not a valid float")
	}
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	var val float64
	if bytes != nil {
		if val, err = strconv.ParseFloat(string(bytes), 64); err != nil {
			return reply.MakeErrReply("ERR value is not a valid float")
		}
	}
	val += delta
	out := utils.FormatFloat(val)
	db.PutEntity(key, &database.DataEntity{Data: out})
	db.propagate(utils.ToCmdLine2("set", args[0], out))
	return reply.MakeBulkReply(out)
}

// APPEND k v
func execAppend(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	bytes, err := db.getAsString(key)
	if err != nil {
		return err
	}
	bytes = append(append([]byte(nil), bytes...), args[1]...)
	if entity, ok := db.GetEntity(key); ok {
		entity.Data = bytes
	} else {
		db.PutEntity(key, &database.DataEntity{Data: bytes})
	}
	db.propagate(utils.ToCmdLine2("append", args...))
	return reply.MakeIntReply(int64(len(bytes)))
}

// STRLEN k
func execStrLen(db *DB, args [][]byte) resp.Reply {
	bytes, err := db.getAsString(string(args[0]))
	if err != nil {
		return err
	}
	return reply.MakeIntReply(int64(len(bytes)))
}

func init() {
	RegisterCommand("get", execGet, 2, flagReadOnly)
	RegisterCommand("set", execSet, -3, flagWrite)
	RegisterCommand("setnx", execSetNX, 3, flagWrite)
	RegisterCommand("setex", execSetEX, 4, flagWrite)
	RegisterCommand("getset", execGetSet, 3, flagWrite)
	RegisterCommand("mget", execMGet, -2, flagReadOnly)
	RegisterCommand("mset", execMSet, -3, flagWrite)
	RegisterCommand("incr", execIncr, 2, flagWrite)
	RegisterCommand("decr", execDecr, 2, flagWrite)
	RegisterCommand("incrby", execIncrBy, 3, flagWrite)
	RegisterCommand("decrby", execDecrBy, 3, flagWrite)
	RegisterCommand("incrbyfloat", execIncrByFloat, 3, flagWrite)
	RegisterCommand("append", execAppend, 3, flagWrite)
	RegisterCommand("strlen", execStrLen, 2, flagReadOnly)
}
