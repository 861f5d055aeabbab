package database

import (
	"math"
	"strconv"
	"strings"

	"github.com/rhubarbgroup/redis-cache-sub002/datastruct/sortedset"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// ZSet 有序集合的值类型
type ZSet = sortedset.SortedSet

func zsetLen(z *ZSet) int64 {
	if z == nil {
		return 0
	}
	return z.Len()
}

func (db *DB) getZSet(key string, create bool) (*ZSet, reply.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		if !create {
			return nil, nil
		}
		z := sortedset.Make()
		db.PutEntity(key, &database.DataEntity{Data: z})
		return z, nil
	}
	z, ok := entity.Data.(*ZSet)
	if !ok {
		return nil, reply.WrongTypeErr
	}
	return z, nil
}

func parseScore(b []byte) (float64, error) {
	switch strings.ToLower(string(b)) {
	case "+inf", "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(string(b), 64)
}

func formatScore(f float64) []byte {
	return utils.FormatFloat(f)
}

// ZADD key [NX|XX] score member [score member ...]
func execZAdd(db *DB, args [][]byte) resp.Reply {
	nx, xx := false, false
	i := 1
	for ; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		if opt == "NX" {
			nx = true
		} else if opt == "XX" {
			xx = true
		} else {
			break
		}
	}
	pairs := args[i:]
	if len(pairs) == 0 || len(pairs)%2 != 0 || (nx && xx) {
		return reply.MakeSyntaxErrReply()
	}
	elements := make([]sortedset.Element, 0, len(pairs)/2)
	for j := 0; j < len(pairs); j += 2 {
		score, err := parseScore(pairs[j])
		if err != nil {
			return reply.MakeErrReply("ERR value is not a valid float")
		}
		elements = append(elements, sortedset.Element{Member: string(pairs[j+1]), Score: score})
	}
	z, errReply := db.getZSet(string(args[0]), !xx)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeIntReply(0)
	}
	added := 0
	for _, e := range elements {
		_, exists := z.Get(e.Member)
		if (nx && exists) || (xx && !exists) {
			continue
		}
		if z.Add(e.Member, e.Score) {
			added++
		}
	}
	db.propagate(utils.ToCmdLine2("zadd", args...))
	return reply.MakeIntReply(int64(added))
}

// ZINCRBY key delta member
func execZIncrBy(db *DB, args [][]byte) resp.Reply {
	delta, err := parseScore(args[1])
	if err != nil {
		return reply.MakeErrReply("ERR value is not a valid float")
	}
	z, errReply := db.getZSet(string(args[0]), true)
	if errReply != nil {
		return errReply
	}
	member := string(args[2])
	score := delta
	if e, ok := z.Get(member); ok {
		score += e.Score
	}
	z.Add(member, score)
	db.propagate(utils.ToCmdLine2("zincrby", args...))
	return reply.MakeBulkReply(formatScore(score))
}

// ZSCORE key member
func execZScore(db *DB, args [][]byte) resp.Reply {
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeNullBulkReply()
	}
	e, ok := z.Get(string(args[1]))
	if !ok {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(formatScore(e.Score))
}

// ZCARD key
func execZCard(db *DB, args [][]byte) resp.Reply {
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	return reply.MakeIntReply(zsetLen(z))
}

// ZREM key member [member ...]
func execZRem(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	z, errReply := db.getZSet(key, false)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeIntReply(0)
	}
	removed := 0
	for _, m := range args[1:] {
		if z.Remove(string(m)) {
			removed++
		}
	}
	if z.Len() == 0 {
		db.Remove(key)
	}
	if removed > 0 {
		db.propagate(utils.ToCmdLine2("zrem", args...))
	}
	return reply.MakeIntReply(int64(removed))
}

func elementsReply(elements []*sortedset.Element, withScores bool) resp.Reply {
	result := make([][]byte, 0, len(elements)*2)
	for _, e := range elements {
		result = append(result, []byte(e.Member))
		if withScores {
			result = append(result, formatScore(e.Score))
		}
	}
	return reply.MakeMultiBulkReply(result)
}

func rangeCmd(db *DB, args [][]byte, reverse bool) resp.Reply {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	withScores := false
	for _, opt := range args[3:] {
		if !strings.EqualFold(string(opt), "WITHSCORES") {
			return reply.MakeSyntaxErrReply()
		}
		withScores = true
	}
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeMultiBulkReply(nil)
	}
	from, to := normalizeRange(start, stop, int(z.Len()))
	return elementsReply(z.RangeByRank(int64(from), int64(to), reverse), withScores)
}

// ZRANGE key start stop [WITHSCORES]
func execZRange(db *DB, args [][]byte) resp.Reply {
	return rangeCmd(db, args, false)
}

// ZREVRANGE key start stop [WITHSCORES]
func execZRevRange(db *DB, args [][]byte) resp.Reply {
	return rangeCmd(db, args, true)
}

// scoreBound 解析 1、(1、-inf、+inf
func scoreBound(b []byte) (sortedset.Border, error) {
	s := string(b)
	exclusive := strings.HasPrefix(s, "(")
	if exclusive {
		s = s[1:]
	}
	f, err := parseScore([]byte(s))
	return sortedset.Border{Value: f, Exclude: exclusive}, err
}

func rangeByScoreCmd(db *DB, args [][]byte, reverse bool) resp.Reply {
	minArg, maxArg := args[1], args[2]
	if reverse {
		minArg, maxArg = maxArg, minArg
	}
	lo, err1 := scoreBound(minArg)
	hi, err2 := scoreBound(maxArg)
	if err1 != nil || err2 != nil {
		return reply.MakeErrReply("ERR min or max is not a float")
	}
	withScores := false
	offset, limit := int64(0), int64(-1)
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			o, e1 := strconv.ParseInt(string(args[i+1]), 10, 64)
			l, e2 := strconv.ParseInt(string(args[i+2]), 10, 64)
			if e1 != nil || e2 != nil {
				return reply.MakeErrReply("ERR value is not an integer or out of range")
			}
			offset, limit = o, l
			i += 2
		default:
			return reply.MakeSyntaxErrReply()
		}
	}
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if z == nil || offset < 0 {
		return reply.MakeMultiBulkReply(nil)
	}
	return elementsReply(z.RangeByScore(lo, hi, offset, limit, reverse), withScores)
}

func rankCmd(db *DB, args [][]byte, desc bool) resp.Reply {
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeNullBulkReply()
	}
	rank, ok := z.GetRank(string(args[1]), desc)
	if !ok {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeIntReply(rank)
}

// ZRANK key member
func execZRank(db *DB, args [][]byte) resp.Reply {
	return rankCmd(db, args, false)
}

// ZREVRANK key member
func execZRevRank(db *DB, args [][]byte) resp.Reply {
	return rankCmd(db, args, true)
}

// ZCOUNT key min max
func execZCount(db *DB, args [][]byte) resp.Reply {
	lo, err1 := scoreBound(args[1])
	hi, err2 := scoreBound(args[2])
	if err1 != nil || err2 != nil {
		return reply.MakeErrReply("ERR min or max is not a float")
	}
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return reply.MakeIntReply(0)
	}
	return reply.MakeIntReply(z.Count(lo, hi))
}

// ZRANGEBYSCORE key min max [WITHSCORES] [LIMIT offset count]
func execZRangeByScore(db *DB, args [][]byte) resp.Reply {
	return rangeByScoreCmd(db, args, false)
}

// ZREVRANGEBYSCORE key max min [WITHSCORES] [LIMIT offset count]
func execZRevRangeByScore(db *DB, args [][]byte) resp.Reply {
	return rangeByScoreCmd(db, args, true)
}

// ZUNIONSTORE/ZINTERSTORE dest numkeys key [key ...] [WEIGHTS w ...] [AGGREGATE SUM|MIN|MAX]
func storeCmd(db *DB, name string, args [][]byte, inter bool) resp.Reply {
	numKeys, err := strconv.Atoi(string(args[1]))
	if err != nil || numKeys <= 0 || 2+numKeys > len(args) {
		return reply.MakeSyntaxErrReply()
	}
	keys := args[2 : 2+numKeys]
	weights := make([]float64, numKeys)
	for i := range weights {
		weights[i] = 1
	}
	aggregate := "SUM"
	for i := 2 + numKeys; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "WEIGHTS":
			if i+numKeys >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			for j := 0; j < numKeys; j++ {
				w, err := parseScore(args[i+1+j])
				if err != nil {
					return reply.MakeErrReply("ERR weight value is not a float")
				}
				weights[j] = w
			}
			i += numKeys
		case "AGGREGATE":
			if i+1 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			aggregate = strings.ToUpper(string(args[i+1]))
			if aggregate != "SUM" && aggregate != "MIN" && aggregate != "MAX" {
				return reply.MakeSyntaxErrReply()
			}
			i++
		default:
			return reply.MakeSyntaxErrReply()
		}
	}

	result := make(map[string]float64)
	counts := make(map[string]int)
	for i, key := range keys {
		z, errReply := db.getZSet(string(key), false)
		if errReply != nil {
			return errReply
		}
		if z == nil {
			continue
		}
		w := weights[i]
		z.ForEach(func(e *sortedset.Element) bool {
			m, s := e.Member, e.Score*w
			old, seen := result[m]
			counts[m]++
			if !seen {
				result[m] = s
				return true
			}
			switch aggregate {
			case "SUM":
				result[m] = old + s
			case "MIN":
				result[m] = math.Min(old, s)
			case "MAX":
				result[m] = math.Max(old, s)
			}
			return true
		})
	}
	if inter {
		for m, c := range counts {
			if c != numKeys {
				delete(result, m)
			}
		}
	}
	dest := string(args[0])
	db.Remove(dest)
	if len(result) > 0 {
		z := sortedset.Make()
		for m, score := range result {
			z.Add(m, score)
		}
		db.PutEntity(dest, &database.DataEntity{Data: z})
	}
	db.propagate(utils.ToCmdLine2(name, args...))
	return reply.MakeIntReply(int64(len(result)))
}

func execZUnionStore(db *DB, args [][]byte) resp.Reply {
	return storeCmd(db, "zunionstore", args, false)
}

func execZInterStore(db *DB, args [][]byte) resp.Reply {
	return storeCmd(db, "zinterstore", args, true)
}

// ZSCAN key cursor [MATCH pattern] [COUNT count]
func execZScan(db *DB, args [][]byte) resp.Reply {
	z, errReply := db.getZSet(string(args[0]), false)
	if errReply != nil {
		return errReply
	}
	cursor, pattern, count, r := scanArgs(args[1:])
	if r != nil {
		return r
	}
	var members []string
	if z != nil {
		members = make([]string, 0, z.Len())
		z.ForEach(func(e *sortedset.Element) bool {
			members = append(members, e.Member)
			return true
		})
	}
	return scanReply(cursor, pattern, count, members, func(m string) [][]byte {
		e, _ := z.Get(m)
		return [][]byte{[]byte(m), formatScore(e.Score)}
	})
}

func init() {
	RegisterCommand("zadd", execZAdd, -4, flagWrite)
	RegisterCommand("zincrby", execZIncrBy, 4, flagWrite)
	RegisterCommand("zscore", execZScore, 3, flagReadOnly)
	RegisterCommand("zcard", execZCard, 2, flagReadOnly)
	RegisterCommand("zrem", execZRem, -3, flagWrite)
	RegisterCommand("zrank", execZRank, 3, flagReadOnly)
	RegisterCommand("zrevrank", execZRevRank, 3, flagReadOnly)
	RegisterCommand("zcount", execZCount, 4, flagReadOnly)
	RegisterCommand("zrange", execZRange, -4, flagReadOnly)
	RegisterCommand("zrevrange", execZRevRange, -4, flagReadOnly)
	RegisterCommand("zrangebyscore", execZRangeByScore, -4, flagReadOnly)
	RegisterCommand("zrevrangebyscore", execZRevRangeByScore, -4, flagReadOnly)
	RegisterCommand("zunionstore", execZUnionStore, -4, flagWrite)
	RegisterCommand("zinterstore", execZInterStore, -4, flagWrite)
	RegisterCommand("zscan", execZScan, -3, flagReadOnly)
}
