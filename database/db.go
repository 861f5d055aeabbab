package database

import (
	"strings"
	"sync"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/datastruct/dict"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// DB 一个逻辑数据库
type DB struct {
	index int
	data  dict.Dict

	ttlMu   sync.Mutex
	expires map[string]time.Time

	// 写命令执行成功后调用，用于向副本同步
	propagate func(CmdLine)
}

type ExecFunc func(db *DB, args [][]byte) resp.Reply // 执行函数

type CmdLine = database.CmdLine

func makeDB(index int) *DB {
	return &DB{
		index:     index,
		data:      dict.MakeSyncDict(),
		expires:   make(map[string]time.Time),
		propagate: func(line CmdLine) {},
	}
}

// Exec 执行一条命令
func (db *DB) Exec(c resp.Connection, cmdLine CmdLine) resp.Reply {
	name := strings.ToLower(string(cmdLine[0])) // 命令转换为小写
	cmd, ok := cmdTable[name]
	if !ok {
		return reply.MakeErrReply("ERR unknown command '" + name + "'")
	}
	if !availableArgsCount(cmd.arity, cmdLine) {
		return reply.MakeArgNumErrReply(name)
	}
	fun := cmd.exector
	return fun(db, cmdLine[1:]) // 执行命令 只需要获取参数，不需要获取命令
}

// availableArgsCount 检查参数个数是否正确
// SET K V -》 3 对于确定参数个数的命令，arity = 3
// EXISTS K1 K2 ... -》 -2 对于不确定参数个数的命令，arity = -2
func availableArgsCount(arity int, cmdLine [][]byte) bool {
	argNum := len(cmdLine)
	if arity >= 0 {
		return argNum == arity
	}
	return argNum >= -arity
}

// GetEntity 读取键，已过期的键会被删除
func (db *DB) GetEntity(key string) (*database.DataEntity, bool) {
	if db.expired(key) {
		db.Remove(key)
		return nil, false
	}
	raw, ok := db.data.Get(key)
	if !ok {
		return nil, false
	}
	entity, _ := raw.(*database.DataEntity)
	return entity, true
}

// PutEntity 写入键并清除过期时间
func (db *DB) PutEntity(key string, entity *database.DataEntity) int {
	db.Persist(key)
	return db.data.Put(key, entity)
}

// PutIfAbsent 键不存在时写入
func (db *DB) PutIfAbsent(key string, entity *database.DataEntity) int {
	if _, ok := db.GetEntity(key); ok {
		return 0
	}
	return db.data.PutIfAbsent(key, entity)
}

func (db *DB) Remove(key string) {
	db.data.Remove(key)
	db.Persist(key)
}

func (db *DB) Removes(keys ...string) (deleted int) {
	for _, key := range keys {
		if _, exists := db.GetEntity(key); exists {
			db.Remove(key)
			deleted++
		}
	}
	return deleted
}

func (db *DB) Flush() {
	db.data.Clear()
	db.ttlMu.Lock()
	db.expires = make(map[string]time.Time)
	db.ttlMu.Unlock()
}

// Keys 所有未过期的键，按字典序
func (db *DB) Keys() []string {
	keys := db.data.Keys()
	live := keys[:0]
	for _, key := range keys {
		if !db.expired(key) {
			live = append(live, key)
		}
	}
	return live
}

// Expire 设置过期时间
func (db *DB) Expire(key string, at time.Time) {
	db.ttlMu.Lock()
	db.expires[key] = at
	db.ttlMu.Unlock()
}

// Persist 清除过期时间
func (db *DB) Persist(key string) bool {
	db.ttlMu.Lock()
	defer db.ttlMu.Unlock()
	_, ok := db.expires[key]
	delete(db.expires, key)
	return ok
}

// TTL 剩余生存时间，没有设置过期时间返回 false
func (db *DB) TTL(key string) (time.Duration, bool) {
	db.ttlMu.Lock()
	defer db.ttlMu.Unlock()
	at, ok := db.expires[key]
	if !ok {
		return 0, false
	}
	return time.Until(at), true
}

func (db *DB) expired(key string) bool {
	db.ttlMu.Lock()
	defer db.ttlMu.Unlock()
	at, ok := db.expires[key]
	return ok && !time.Now().Before(at)
}

func (db *DB) expiresCount() int {
	db.ttlMu.Lock()
	defer db.ttlMu.Unlock()
	return len(db.expires)
}
