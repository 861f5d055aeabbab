package redis

import (
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/cluster"
	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

var (
	multiCmd = utils.ToCmdLine("MULTI")
	execCmd  = utils.ToCmdLine("EXEC")
)

// Pipeline 在 Exec 之前暂存命令，Exec 时一次写出再按顺序读取回复
// 打开事务后，事务之后的命令包在 MULTI/EXEC 中，它们的结果从 EXEC 的回复中展开
// 队列打开期间 Client 上发出的命令同样进入队列
type Pipeline struct {
	c       *Client
	cmds    []*command.Command
	multiAt int // MULTI 之前的命令数，-1 表示没有事务
	err     error
}

// Pipeline 打开命令队列，已经打开时返回同一个队列
func (c *Client) Pipeline() *Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		c.queue = &Pipeline{c: c, multiAt: -1}
	}
	return c.queue
}

// Multi 打开事务，已经有队列时在队列中放入事务开始标记
// 同一时刻只能有一个事务，重复打开立即返回 errs.ErrPipelineOpen
func (c *Client) Multi() (*Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		c.queue = &Pipeline{c: c, multiAt: 0}
		return c.queue, nil
	}
	if c.queue.multiAt >= 0 {
		return nil, errs.ErrPipelineOpen
	}
	c.queue.multiAt = len(c.queue.cmds)
	return c.queue, nil
}

// Exec 发送当前队列，没有打开的队列时返回空结果
func (c *Client) Exec() ([]interface{}, error) {
	c.mu.Lock()
	p := c.queue
	c.mu.Unlock()
	if p == nil {
		return []interface{}{}, nil
	}
	return p.Exec()
}

// Discard 丢弃队列中的命令
func (c *Client) Discard() {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
}

func (p *Pipeline) add(cmd *command.Command) {
	p.cmds = append(p.cmds, cmd)
}

// Call 把命令放入队列，参数错误在 Exec 时返回
func (p *Pipeline) Call(name string, args ...interface{}) *Pipeline {
	cmd, err := command.New(name, args...)
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if err != nil {
		if p.err == nil {
			p.err = err
		}
		return p
	}
	p.add(cmd)
	return p
}

// Len 队列中的命令数，不含 MULTI/EXEC
func (p *Pipeline) Len() int {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return len(p.cmds)
}

// Transactional 是否打开了事务
func (p *Pipeline) Transactional() bool {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.multiAt >= 0
}

// Discard 丢弃队列
func (p *Pipeline) Discard() {
	p.c.mu.Lock()
	if p.c.queue == p {
		p.c.queue = nil
	}
	p.c.mu.Unlock()
}

// Exec 发送队列中的所有命令，返回的结果与入队的命令一一对应
// 服务端错误作为 *errs.ServerError 出现在结果中，不会中断整个批次
// 事务被 WATCH 打断时返回 nil, nil
func (p *Pipeline) Exec() ([]interface{}, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == p {
		c.queue = nil
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(p.cmds) == 0 {
		return []interface{}{}, nil
	}

	name := "PIPELINE"
	if p.multiAt >= 0 {
		name = "EXEC"
	}
	start := time.Now()
	results, err := p.flush()
	c.observe(name, start, err)
	return results, err
}

func (p *Pipeline) flush() ([]interface{}, error) {
	conn, err := p.route()
	if err != nil {
		return nil, err
	}
	lines := make([][][]byte, 0, len(p.cmds)+2)
	for i, cmd := range p.cmds {
		if i == p.multiAt {
			lines = append(lines, multiCmd)
		}
		lines = append(lines, cmd.Args)
	}
	if p.multiAt >= 0 {
		if p.multiAt == len(p.cmds) {
			lines = append(lines, multiCmd)
		}
		lines = append(lines, execCmd)
	}
	if err := conn.Write(lines...); err != nil {
		return nil, err
	}

	plain := len(p.cmds)
	if p.multiAt >= 0 {
		plain = p.multiAt
	}
	results := make([]interface{}, 0, len(p.cmds))
	for _, cmd := range p.cmds[:plain] {
		r, err := conn.Read()
		if err != nil {
			return nil, err
		}
		results = append(results, entry(cmd, r))
	}
	if p.multiAt < 0 {
		return results, nil
	}

	// MULTI 的 +OK 和每条命令的 +QUEUED，入队时被拒绝的命令在这里得到错误
	queued := p.cmds[plain:]
	for i := 0; i <= len(queued); i++ {
		if _, err := conn.Read(); err != nil {
			return nil, err
		}
	}
	r, err := conn.Read()
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case *reply.NullArrayReply:
		return nil, nil
	case reply.ErrorReply:
		return nil, &errs.ServerError{Msg: v.Error()}
	case *reply.ArrayReply:
		if len(v.Replies) != len(queued) {
			return nil, conn.Abort(&errs.Error{Kind: errs.KindProtocol, Op: "EXEC", Node: conn.Addr(),
				Msg: "transaction reply count mismatch"})
		}
		for i, cmd := range queued {
			results = append(results, entry(cmd, v.Replies[i]))
		}
		return results, nil
	}
	return nil, conn.Abort(&errs.Error{Kind: errs.KindProtocol, Op: "EXEC", Node: conn.Addr(), Msg: "unexpected reply to EXEC"})
}

// entry 队列中一条命令的结果
func entry(cmd *command.Command, r resp.Reply) interface{} {
	if er, ok := r.(reply.ErrorReply); ok {
		return &errs.ServerError{Msg: er.Error()}
	}
	v, err := decode(cmd, r)
	if err != nil {
		return err
	}
	return v
}

// route 整个批次发往同一个节点：有写命令时按第一条写命令路由
// 集群模式下所有带键的命令必须落在同一个槽位
func (p *Pipeline) route() (*client.Connection, error) {
	rep := p.cmds[0]
	for _, cmd := range p.cmds {
		if !cmd.ReadOnly() {
			rep = cmd
			break
		}
	}
	if p.c.router.Mode() == config.ModeCluster {
		slot := -1
		for _, cmd := range p.cmds {
			if len(cmd.Keys()) == 0 {
				continue
			}
			s, err := cluster.Slot(cmd)
			if err != nil {
				return nil, err
			}
			if slot >= 0 && s != slot {
				return nil, errs.New(errs.KindClusterRouting, "PIPELINE", "queued commands span several slots")
			}
			if slot < 0 {
				slot = s
				rep = cmd
			}
		}
	}
	return p.c.router.Route(rep)
}
