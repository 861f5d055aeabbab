package redis

import (
	"strconv"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
)

// Message 订阅连接上收到的一条推送
type Message struct {
	Kind    string // message、subscribe、unsubscribe
	Channel string
	Payload string
	// subscribe/unsubscribe 之后仍然订阅的频道数
	Count int64
}

// Subscription 独占一条连接的订阅，用 Next 逐条阻塞读取
// 出错（包括读超时）后连接被关闭，订阅不能继续使用
type Subscription struct {
	conn     *client.Connection
	channels []string
	err      error
}

// Subscribe 在主节点上打开一条新的连接并订阅频道，确认消息在返回前已被读取
func (c *Client) Subscribe(channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, errs.New(errs.KindUsage, "SUBSCRIBE", "at least one channel is required")
	}
	masters, err := c.router.Masters()
	if err != nil {
		return nil, err
	}
	if len(masters) == 0 {
		return nil, errs.New(errs.KindConnection, "SUBSCRIBE", "no master available")
	}
	opts, err := client.FromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	// 订阅连接不能交还给其他请求复用
	opts.Persistent = false
	conn := client.MakeConnection(masters[0].Node(), opts)
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	s := &Subscription{conn: conn, channels: channels}
	if err := conn.Write(utils.ToCmdLine2("SUBSCRIBE", toBytes(channels)...)); err != nil {
		return nil, err
	}
	for range channels {
		msg, err := s.Next()
		if err != nil {
			return nil, err
		}
		if msg.Kind != "subscribe" {
			_ = s.Close()
			return nil, errs.New(errs.KindProtocol, "SUBSCRIBE", "unexpected %s before confirmation", msg.Kind)
		}
	}
	return s, nil
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// Channels 订阅的频道
func (s *Subscription) Channels() []string {
	return s.channels
}

// SetReadTimeout 限制 Next 的等待时间，超时后订阅失效
func (s *Subscription) SetReadTimeout(d time.Duration) {
	s.conn.SetReadTimeout(d)
}

// Next 阻塞直到收到下一条推送
func (s *Subscription) Next() (*Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, err := s.conn.Read()
	if err != nil {
		return nil, s.fail(err)
	}
	items, ok := Value(r).([]interface{})
	if !ok || len(items) != 3 {
		if se, isErr := Value(r).(*errs.ServerError); isErr {
			return nil, s.fail(se)
		}
		return nil, s.fail(errs.New(errs.KindProtocol, "SUBSCRIBE", "unexpected push %q", truncate(r.ToBytes())))
	}
	kind, _ := items[0].(string)
	channel, _ := items[1].(string)
	msg := &Message{Kind: kind, Channel: channel}
	switch v := items[2].(type) {
	case string:
		msg.Payload = v
	case int64:
		msg.Count = v
		msg.Payload = strconv.FormatInt(v, 10)
	}
	return msg, nil
}

func (s *Subscription) fail(err error) error {
	s.err = err
	_ = s.conn.Close()
	return err
}

// Close 关闭订阅连接
func (s *Subscription) Close() error {
	if s.err == nil {
		s.err = errs.New(errs.KindUsage, "SUBSCRIBE", "subscription closed")
	}
	return s.conn.Close()
}
