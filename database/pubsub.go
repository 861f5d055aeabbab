package database

import (
	"sort"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// hub 频道订阅关系，由 Server 的全局锁保护
type hub struct {
	channels map[string]map[resp.Connection]struct{}
	subs     map[resp.Connection]map[string]struct{}
}

func makeHub() *hub {
	return &hub{
		channels: make(map[string]map[resp.Connection]struct{}),
		subs:     make(map[resp.Connection]map[string]struct{}),
	}
}

func pubsubMessage(kind string, channel string, payload resp.Reply) []byte {
	return reply.MakeArrayReply([]resp.Reply{
		reply.MakeBulkReply([]byte(kind)),
		reply.MakeBulkReply([]byte(channel)),
		payload,
	}).ToBytes()
}

func (h *hub) subscribe(c resp.Connection, channels [][]byte) resp.Reply {
	for _, ch := range channels {
		name := string(ch)
		if h.channels[name] == nil {
			h.channels[name] = make(map[resp.Connection]struct{})
		}
		h.channels[name][c] = struct{}{}
		if h.subs[c] == nil {
			h.subs[c] = make(map[string]struct{})
		}
		h.subs[c][name] = struct{}{}
		_ = c.Write(pubsubMessage("subscribe", name, reply.MakeIntReply(int64(len(h.subs[c])))))
	}
	return &reply.NoReply{}
}

// unsubscribe 不带频道时退订全部
func (h *hub) unsubscribe(c resp.Connection, channels [][]byte) resp.Reply {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, string(ch))
	}
	if len(names) == 0 {
		for name := range h.subs[c] {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		delete(h.subs[c], name)
		if subscribers, ok := h.channels[name]; ok {
			delete(subscribers, c)
			if len(subscribers) == 0 {
				delete(h.channels, name)
			}
		}
		_ = c.Write(pubsubMessage("unsubscribe", name, reply.MakeIntReply(int64(len(h.subs[c])))))
	}
	if len(h.subs[c]) == 0 {
		delete(h.subs, c)
	}
	return &reply.NoReply{}
}

func (h *hub) publish(channel string, message []byte) resp.Reply {
	subscribers := h.channels[channel]
	msg := pubsubMessage("message", channel, reply.MakeBulkReply(message))
	for c := range subscribers {
		_ = c.Write(msg)
	}
	return reply.MakeIntReply(int64(len(subscribers)))
}

func (h *hub) subscribed(c resp.Connection) bool {
	return len(h.subs[c]) > 0
}

func (h *hub) drop(c resp.Connection) {
	for name := range h.subs[c] {
		if subscribers, ok := h.channels[name]; ok {
			delete(subscribers, c)
			if len(subscribers) == 0 {
				delete(h.channels, name)
			}
		}
	}
	delete(h.subs, c)
}
