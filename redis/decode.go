package redis

import (
	"strconv"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Map 平铺的 field/value 回复，保持服务端返回的顺序
type Map struct {
	keys   []string
	values map[string]string
}

func newMap(n int) *Map {
	return &Map{keys: make([]string, 0, n), values: make(map[string]string, n)}
}

func (m *Map) set(k, v string) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Keys 按顺序返回所有字段
func (m *Map) Keys() []string {
	return m.keys
}

func (m *Map) Get(k string) (string, bool) {
	v, ok := m.values[k]
	return v, ok
}

func (m *Map) Len() int {
	return len(m.keys)
}

// ToMap 丢弃顺序
func (m *Map) ToMap() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// ScoreMap 带分数的有序集合范围，成员顺序与服务端一致
type ScoreMap struct {
	members []string
	scores  map[string]float64
}

func newScoreMap(n int) *ScoreMap {
	return &ScoreMap{members: make([]string, 0, n), scores: make(map[string]float64, n)}
}

func (m *ScoreMap) set(member string, score float64) {
	if _, ok := m.scores[member]; !ok {
		m.members = append(m.members, member)
	}
	m.scores[member] = score
}

func (m *ScoreMap) Members() []string {
	return m.members
}

func (m *ScoreMap) Score(member string) (float64, bool) {
	s, ok := m.scores[member]
	return s, ok
}

func (m *ScoreMap) Len() int {
	return len(m.members)
}

// Cursor SCAN 族命令的一批结果，Next 为 0 表示迭代结束
type Cursor struct {
	Next  uint64
	Items []string
}

// Value 把回复转换为 Go 值
//
//	状态回复 -> string, 整数 -> int64, 字符串 -> string, 空值 -> nil,
//	数组 -> []interface{}, 数组中的错误 -> *errs.ServerError
func Value(r resp.Reply) interface{} {
	switch v := r.(type) {
	case *reply.StatusReply:
		return v.Status
	case *reply.IntReply:
		return v.Code
	case *reply.BulkReply:
		return string(v.Arg)
	case *reply.NullBulkReply, *reply.NullArrayReply:
		return nil
	case *reply.MultiBulkReply:
		out := make([]interface{}, len(v.Args))
		for i, arg := range v.Args {
			if arg != nil {
				out[i] = string(arg)
			}
		}
		return out
	case *reply.EmptyMultiBulkReply:
		return []interface{}{}
	case *reply.ArrayReply:
		out := make([]interface{}, len(v.Replies))
		for i, item := range v.Replies {
			out[i] = Value(item)
		}
		return out
	case reply.ErrorReply:
		return &errs.ServerError{Msg: v.Error()}
	case *reply.OkReply:
		return "OK"
	case *reply.PongReply:
		return "PONG"
	case *reply.QueuedReply:
		return "QUEUED"
	}
	return string(r.ToBytes())
}

// decode 按命令的解码方式转换回复
func decode(cmd *command.Command, r resp.Reply) (interface{}, error) {
	switch cmd.Decode() {
	case command.Map:
		return decodeMap(cmd, r)
	case command.ScoreMap:
		return decodeScoreMap(cmd, r)
	case command.Cursor:
		return decodeCursor(cmd, r)
	}
	return Value(r), nil
}

func unexpected(cmd *command.Command, r resp.Reply) error {
	return errs.New(errs.KindProtocol, cmd.Name, "unexpected reply %q", truncate(r.ToBytes()))
}

func truncate(b []byte) []byte {
	if len(b) > 64 {
		return b[:64]
	}
	return b
}

func elements(r resp.Reply) ([]interface{}, bool) {
	items, ok := Value(r).([]interface{})
	return items, ok
}

func decodeMap(cmd *command.Command, r resp.Reply) (interface{}, error) {
	if _, ok := r.(*reply.NullArrayReply); ok {
		return newMap(0), nil
	}
	items, ok := elements(r)
	if !ok || len(items)%2 != 0 {
		return nil, unexpected(cmd, r)
	}
	m := newMap(len(items) / 2)
	for i := 0; i < len(items); i += 2 {
		k, ok1 := items[i].(string)
		v, ok2 := items[i+1].(string)
		if !ok1 || !ok2 {
			return nil, unexpected(cmd, r)
		}
		m.set(k, v)
	}
	return m, nil
}

// RESP2 下为平铺的 member/score，RESP3 下为 [member, score] 对
func decodeScoreMap(cmd *command.Command, r resp.Reply) (interface{}, error) {
	items, ok := elements(r)
	if !ok {
		return nil, unexpected(cmd, r)
	}
	if len(items) > 0 {
		if _, nested := items[0].([]interface{}); nested {
			flat := make([]interface{}, 0, len(items)*2)
			for _, item := range items {
				pair, ok := item.([]interface{})
				if !ok || len(pair) != 2 {
					return nil, unexpected(cmd, r)
				}
				flat = append(flat, pair...)
			}
			items = flat
		}
	}
	if len(items)%2 != 0 {
		return nil, unexpected(cmd, r)
	}
	m := newScoreMap(len(items) / 2)
	for i := 0; i < len(items); i += 2 {
		member, ok := items[i].(string)
		if !ok {
			return nil, unexpected(cmd, r)
		}
		score, err := parseScore(items[i+1])
		if err != nil {
			return nil, unexpected(cmd, r)
		}
		m.set(member, score)
	}
	return m, nil
}

func parseScore(v interface{}) (float64, error) {
	switch s := v.(type) {
	case string:
		return strconv.ParseFloat(s, 64)
	case int64:
		return float64(s), nil
	}
	return 0, strconv.ErrSyntax
}

func decodeCursor(cmd *command.Command, r resp.Reply) (interface{}, error) {
	items, ok := elements(r)
	if !ok || len(items) != 2 {
		return nil, unexpected(cmd, r)
	}
	next, ok := items[0].(string)
	if !ok {
		return nil, unexpected(cmd, r)
	}
	n, err := strconv.ParseUint(next, 10, 64)
	if err != nil {
		return nil, unexpected(cmd, r)
	}
	batch, ok := items[1].([]interface{})
	if !ok {
		return nil, unexpected(cmd, r)
	}
	c := &Cursor{Next: n, Items: make([]string, 0, len(batch))}
	for _, item := range batch {
		s, ok := item.(string)
		if !ok {
			return nil, unexpected(cmd, r)
		}
		c.Items = append(c.Items, s)
	}
	return c, nil
}
