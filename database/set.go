package database

import (
	"sort"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Set 集合类型
type Set map[string]struct{}

func (s Set) members() []string {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

func (db *DB) getSet(key string, create bool) (Set, reply.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		if !create {
			return nil, nil
		}
		s := make(Set)
		db.PutEntity(key, &database.DataEntity{Data: s})
		return s, nil
	}
	s, ok := entity.Data.(Set)
	if !ok {
		return nil, reply.WrongTypeErr
	}
	return s, nil
}

// SADD key member [member ...]
func execSAdd(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getSet(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	added := 0
	for _, m := range args[1:] {
		if _, ok := s[string(m)]; !ok {
			s[string(m)] = struct{}{}
			added++
		}
	}
	db.propagate(utils.ToCmdLine2("sadd", args...))
	return reply.MakeIntReply(int64(added))
}

// SREM key member [member ...]
func execSRem(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	s, errReply := db.getSet(key, false)
	if errReply != nil {
		return errReply
	}
	removed := 0
	for _, m := range args[1:] {
		if _, ok := s[string(m)]; ok {
			delete(s, string(m))
			removed++
		}
	}
	if s != nil && len(s) == 0 {
		db.Remove(key)
	}
	if removed > 0 {
		db.propagate(utils.ToCmdLine2("srem", args...))
	}
	return reply.MakeIntReply(int64(removed))
}

// SMEMBERS key
func execSMembers(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeMultiBulkReply(utils.ToCmdLine(s.members()...))
}

// SCARD key
func execSCard(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeIntReply(int64(len(s)))
}

// SISMEMBER key member
func execSIsMember(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if _, ok := s[string(args[1])]; ok {
		return reply.MakeIntReply(1)
	}
	return reply.MakeIntReply(0)
}

// SSCAN key cursor [MATCH pattern] [COUNT count]
func execSScan(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	cursor, pattern, count, r := scanArgs(args[1:])
	if r != nil {
		return r
	}
	return scanReply(cursor, pattern, count, s.members(), func(m string) [][]byte {
		return [][]byte{[]byte(m)}
	})
}

func init() {
	RegisterCommand("sadd", execSAdd, -3, flagWrite)
	RegisterCommand("srem", execSRem, -3, flagWrite)
	RegisterCommand("smembers", execSMembers, 2, flagReadOnly)
	RegisterCommand("scard", execSCard, 2, flagReadOnly)
	RegisterCommand("sismember", execSIsMember, 3, flagReadOnly)
	RegisterCommand("sscan", execSScan, -3, flagReadOnly)
}
