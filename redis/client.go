// Package redis 是面向调用方的客户端
// 所有命令都经过 Call：路由到节点、发送、按命令族解码回复，失败时由重试控制器决定是否纠正后重试
package redis

import (
	"sync"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/cluster"
	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
)

// Observer 在每条命令完成后被调用，pipeline 中的命令以 EXEC/PIPELINE 汇总上报
type Observer interface {
	ObserveCommand(name string, elapsed time.Duration, err error)
}

// Options 客户端参数
type Options struct {
	Config   *config.Options
	Observer Observer
	// 为空时按 Config 创建
	Router cluster.Router
}

// Client 按拓扑路由命令的客户端
// 与连接一样同一时刻只能有一个请求在途，多个 goroutine 共享时由内部的锁串行化
type Client struct {
	cmdable

	mu       sync.Mutex
	cfg      *config.Options
	router   cluster.Router
	observer Observer
	queue    *Pipeline
}

// New 按配置创建客户端，不会立即建立连接
func New(cfg *config.Options) (*Client, error) {
	return NewClient(Options{Config: cfg})
}

func NewClient(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	router := opts.Router
	if router == nil {
		var err error
		if router, err = cluster.New(cfg); err != nil {
			return nil, err
		}
	}
	c := &Client{
		cfg:      cfg,
		router:   router,
		observer: opts.Observer,
	}
	c.cmdable = c.process
	return c, nil
}

// Mode 拓扑模式
func (c *Client) Mode() config.Mode {
	return c.router.Mode()
}

// Router 底层路由
func (c *Client) Router() cluster.Router {
	return c.router
}

// Config 构造时的配置
func (c *Client) Config() *config.Options {
	return c.cfg
}

// Connect 建立到默认节点的连接，用于尽早发现配置和认证问题
func (c *Client) Connect() error {
	masters, err := c.router.Masters()
	if err != nil {
		return err
	}
	for _, conn := range masters {
		if _, err := cluster.Connect(conn); err != nil {
			return err
		}
	}
	return nil
}

// IsConnected 至少有一个主节点的连接可用
func (c *Client) IsConnected() bool {
	for _, conn := range c.router.Nodes() {
		if conn.IsConnected() {
			return true
		}
	}
	return false
}

// SetReadTimeout 修改当前已知连接的读超时，阻塞命令前调小，之后再恢复
func (c *Client) SetReadTimeout(d time.Duration) {
	for _, conn := range c.router.Nodes() {
		conn.SetReadTimeout(d)
	}
}

// ReadTimeout 配置的读超时
func (c *Client) ReadTimeout() time.Duration {
	return c.cfg.ReadTimeoutDuration()
}

// Call 执行任意命令，切片参数会被展开一层
// pipeline 打开期间命令进入队列，返回值为该 *Pipeline
func (c *Client) Call(name string, args ...interface{}) (interface{}, error) {
	cmd, err := command.New(name, args...)
	if err != nil {
		return nil, err
	}
	return c.process(cmd)
}

func (c *Client) process(cmd *command.Command) (interface{}, error) {
	c.mu.Lock()
	queue := c.queue
	if queue != nil {
		queue.add(cmd)
		c.mu.Unlock()
		return queue, nil
	}
	defer c.mu.Unlock()

	start := time.Now()
	var r resp.Reply
	var err error
	if cmd.Fanout() {
		r, err = c.fanout(cmd)
	} else {
		r, err = c.execute(cmd)
	}
	var v interface{}
	if err == nil {
		v, err = decode(cmd, r)
	}
	c.observe(cmd.Name, start, err)
	return v, err
}

func (c *Client) observe(name string, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveCommand(name, time.Since(start), err)
	}
}

// OnNode 返回一个把所有命令发往指定节点的视图，节点可以用别名或 host:port 指定
// 这样发出的命令不做任何纠正重试
func (c *Client) OnNode(name string) (*NodeClient, error) {
	conn, err := c.router.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.nodeClient(conn), nil
}

func (c *Client) nodeClient(conn *client.Connection) *NodeClient {
	n := &NodeClient{parent: c, conn: conn}
	n.cmdable = n.process
	return n
}

// Close 关闭所有连接，持久连接归还注册表
func (c *Client) Close() error {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	return c.router.Close()
}

// NodeClient 固定在一个节点上的命令视图
type NodeClient struct {
	cmdable
	parent *Client
	conn   *client.Connection
}

// Node 目标节点
func (n *NodeClient) Node() *config.Node {
	return n.conn.Node()
}

func (n *NodeClient) Call(name string, args ...interface{}) (interface{}, error) {
	cmd, err := command.New(name, args...)
	if err != nil {
		return nil, err
	}
	return n.process(cmd)
}

func (n *NodeClient) process(cmd *command.Command) (interface{}, error) {
	c := n.parent
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue != nil {
		return nil, errs.ErrPipelineOpen
	}
	start := time.Now()
	r, err := roundTrip(n.conn, cmd, false)
	var v interface{}
	if err == nil {
		v, err = decode(cmd, r)
	}
	c.observe(cmd.Name, start, err)
	return v, err
}
