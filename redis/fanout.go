package redis

import (
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
)

// fanout 把命令发给每个主节点，返回最后一个成功的回复
// 只有全部失败时才返回错误
func (c *Client) fanout(cmd *command.Command) (resp.Reply, error) {
	masters, err := c.router.Masters()
	if err != nil {
		return nil, err
	}
	var last resp.Reply
	var lastErr error
	for _, conn := range masters {
		r, err := roundTrip(conn, cmd, false)
		if err != nil {
			lastErr = err
			logger.WithNode(conn.Addr()).Warnf("%s failed: %v", cmd.Name, err)
			continue
		}
		last = r
	}
	if last != nil {
		return last, nil
	}
	if lastErr == nil {
		lastErr = errs.New(errs.KindConnection, cmd.Name, "no master available")
	}
	return nil, lastErr
}

func (c *Client) fanoutCall(name string, args ...interface{}) (interface{}, error) {
	cmd, err := command.New(name, args...)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue != nil {
		return nil, errs.ErrPipelineOpen
	}
	start := time.Now()
	r, err := c.fanout(cmd)
	var v interface{}
	if err == nil {
		v, err = decode(cmd, r)
	}
	c.observe(cmd.Name, start, err)
	return v, err
}

// PingAll 向每个主节点发送 PING
func (c *Client) PingAll() (string, error) {
	s, _, err := stringResult(c.fanoutCall("PING"))
	return s, err
}

// InfoAll 向每个主节点发送 INFO，返回最后一个成功的结果
func (c *Client) InfoAll(sections ...string) (string, error) {
	s, _, err := stringResult(c.fanoutCall("INFO", sections))
	return s, err
}
