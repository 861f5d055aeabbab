// Package cluster 根据拓扑模式决定每条命令由哪条连接执行
// 单机、主从复制、集群和哨兵四种模式共用 resp/client 中的 Connection，只在路由上有区别
package cluster

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Router 拓扑路由
type Router interface {
	Mode() config.Mode
	// Route 为命令选择连接，返回的连接已经建立
	Route(cmd *command.Command) (*client.Connection, error)
	// Masters 扇出命令的目标，返回的连接可能尚未建立
	Masters() ([]*client.Connection, error)
	// Lookup 按别名或地址查找节点
	Lookup(name string) (*client.Connection, error)
	// Nodes 所有已知节点
	Nodes() []*client.Connection
	// Refresh 重新发现拓扑
	Refresh() error
	Close() error
}

// Redirector 集群模式下处理 MOVED 和 ASK
type Redirector interface {
	// Moved 更新槽位的所有者并返回新的连接
	Moved(slot int, addr string) (*client.Connection, error)
	// Ask 返回临时目标的连接，不修改槽位表
	Ask(addr string) (*client.Connection, error)
}

// New 根据配置创建路由
func New(opts *config.Options) (Router, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	connOpts, err := client.FromConfig(opts)
	if err != nil {
		return nil, err
	}
	switch opts.Mode() {
	case config.ModeSentinel:
		sentinels, err := opts.Nodes(opts.Sentinel)
		if err != nil {
			return nil, err
		}
		return NewSentinel(sentinels, opts.Service, opts.Database, connOpts, opts.ReplicaPolicy), nil
	case config.ModeCluster:
		seeds, err := opts.Nodes(opts.Cluster)
		if err != nil {
			return nil, err
		}
		return NewCluster(seeds, connOpts), nil
	case config.ModeReplication:
		nodes, err := opts.Nodes(opts.Servers)
		if err != nil {
			return nil, err
		}
		return NewReplication(nodes, connOpts, opts.ReplicaPolicy)
	}
	node, err := opts.Node()
	if err != nil {
		return nil, err
	}
	return NewStandalone(node, connOpts), nil
}

// Connect 确保连接已经建立
func Connect(c *client.Connection) (*client.Connection, error) {
	if c.IsConnected() {
		return c, nil
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func unknownNode(name string) error {
	return errs.New(errs.KindUsage, "route", "unknown node %q", name)
}

// nodeSet 按地址复用连接，保持加入的顺序
type nodeSet struct {
	mu    sync.Mutex
	opts  *client.Options
	conns map[string]*client.Connection
	order []*client.Connection
}

func newNodeSet(opts *client.Options) *nodeSet {
	return &nodeSet{opts: opts, conns: make(map[string]*client.Connection)}
}

func (s *nodeSet) get(node *config.Node) *client.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := node.Addr()
	if c, ok := s.conns[key]; ok {
		return c
	}
	c := client.MakeConnection(node, s.opts)
	s.conns[key] = c
	s.order = append(s.order, c)
	return c
}

func (s *nodeSet) find(name string) *client.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[name]; ok {
		return c
	}
	for _, c := range s.order {
		if c.Node().Alias == name || c.Node().String() == name {
			return c
		}
	}
	return nil
}

func (s *nodeSet) all() []*client.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*client.Connection(nil), s.order...)
}

// retain 关闭并移除不在 keep 中的连接
func (s *nodeSet) retain(keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.order[:0]
	for _, c := range s.order {
		if keep[c.Addr()] {
			order = append(order, c)
			continue
		}
		_ = c.Close()
		delete(s.conns, c.Addr())
	}
	s.order = order
}

func (s *nodeSet) closeAll() error {
	var first error
	for _, c := range s.all() {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// nodeFromAddr 由 host:port 构造节点，其余属性取自 template
func nodeFromAddr(addr string, template *config.Node) (*config.Node, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "route", "invalid node address %q", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "route", "invalid node port %q", addr)
	}
	node := &config.Node{Scheme: config.SchemeTCP, Host: host, Port: p, Role: config.RoleUnknown}
	if template != nil {
		node.Scheme = template.Scheme
		node.Database = template.Database
		node.PersistentID = template.PersistentID
	}
	return node, nil
}

// replyStrings 把由字符串、整数组成的数组回复展开为字符串
func replyStrings(r resp.Reply) ([]string, bool) {
	switch v := r.(type) {
	case *reply.MultiBulkReply:
		out := make([]string, len(v.Args))
		for i, arg := range v.Args {
			out[i] = string(arg)
		}
		return out, true
	case *reply.ArrayReply:
		out := make([]string, 0, len(v.Replies))
		for _, item := range v.Replies {
			s, ok := replyString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func replyString(r resp.Reply) (string, bool) {
	switch v := r.(type) {
	case *reply.BulkReply:
		return string(v.Arg), true
	case *reply.StatusReply:
		return v.Status, true
	case *reply.IntReply:
		return strconv.FormatInt(v.Code, 10), true
	}
	return "", false
}

// replyPairs 把 field/value 交替的数组回复转换为 map，键统一小写
func replyPairs(r resp.Reply) (map[string]string, bool) {
	items, ok := replyStrings(r)
	if !ok || len(items)%2 != 0 {
		return nil, false
	}
	m := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		m[strings.ToLower(items[i])] = items[i+1]
	}
	return m, true
}

// firstString 数组回复的第一个元素
func firstString(r resp.Reply) (string, bool) {
	arr, ok := r.(*reply.ArrayReply)
	if !ok || len(arr.Replies) == 0 {
		return "", false
	}
	return replyString(arr.Replies[0])
}
