package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Options 单个连接的参数
type Options struct {
	Username string
	Password string

	ConnectTimeout time.Duration // 0 表示不限制
	ReadTimeout    time.Duration // 0 表示不限制
	RetryInterval  time.Duration
	MaxRetries     int // 连接失败后最多再尝试的次数
	Protocol       int // 2 或 3

	TLS *tls.Config

	Persistent   bool
	PersistentID string

	Dialer func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// FromConfig 由全局配置得到连接参数
func FromConfig(o *config.Options) (*Options, error) {
	opts := &Options{
		Username:       o.Username,
		Password:       o.Password,
		ConnectTimeout: o.ConnectTimeout(),
		ReadTimeout:    o.ReadTimeoutDuration(),
		RetryInterval:  o.RetryIntervalDuration(),
		MaxRetries:     o.MaxRetries,
		Protocol:       o.Protocol,
		Persistent:     o.Persistent,
		PersistentID:   o.PersistentID,
		Dialer:         o.Dialer,
	}
	if o.Scheme == string(config.SchemeTLS) || hasTLS(o) {
		cfg, err := o.TLSConfig("")
		if err != nil {
			return nil, err
		}
		opts.TLS = cfg
	}
	return opts, nil
}

func hasTLS(o *config.Options) bool {
	return o.TLS != (config.TLSOptions{})
}

// Connection 到单个节点的一条双工连接，同一时刻只能有一个请求在途
// 发生 IO 错误后标记为断开，但不会自动重连，重连由上层的重试逻辑负责
type Connection struct {
	mu          sync.Mutex
	node        *config.Node
	opts        *Options
	t           *transport
	readTimeout time.Duration
	failures    int
	lastErr     error
}

// MakeConnection 创建一个未连接的 Connection
func MakeConnection(node *config.Node, opts *Options) *Connection {
	if opts == nil {
		opts = &Options{}
	}
	return &Connection{
		node:        node,
		opts:        opts,
		readTimeout: opts.ReadTimeout,
	}
}

// Node 连接所属的节点，终身不变
func (c *Connection) Node() *config.Node {
	return c.node
}

// Addr 节点地址
func (c *Connection) Addr() string {
	return c.node.Addr()
}

// IsConnected 是否持有可用的传输层连接
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t != nil
}

// Failures 连续连接失败的次数
func (c *Connection) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastError 最近一次错误
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Protocol 握手后协商出的协议版本
func (c *Connection) Protocol() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return 0
	}
	return c.t.protocol
}

// ReadTimeout 当前读超时
func (c *Connection) ReadTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readTimeout
}

// SetReadTimeout 修改读超时，阻塞命令可以临时调小后再恢复
func (c *Connection) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

// Connect 建立连接，失败时按 RetryInterval 递增退避重试
// 最多尝试 1+MaxRetries 次，认证失败和配置错误不会重试
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		return nil
	}
	log := logger.WithNode(c.node.Addr())
	attempts := 1 + c.opts.MaxRetries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && c.opts.RetryInterval > 0 {
			time.Sleep(c.opts.RetryInterval * time.Duration(attempt-1))
		}
		var t *transport
		if c.opts.Persistent {
			t, err = borrowTransport(c.node, c.opts)
		} else {
			t, err = dial(c.node, c.opts)
		}
		if err == nil {
			c.t = t
			c.failures = 0
			c.lastErr = nil
			return nil
		}
		c.failures++
		c.lastErr = err
		if errs.IsAuthentication(err) || errs.IsConfiguration(err) {
			log.Errorf("connect failed: %v", err)
			return err
		}
		log.Warnf("connect attempt %d/%d failed: %v", attempt, attempts, err)
	}
	e := &errs.Error{
		Kind: errs.KindConnection,
		Op:   "connect",
		Node: c.node.Addr(),
		Msg:  fmt.Sprintf("could not connect to %s after %d failed attempts", c.describe(), attempts),
		Err:  err,
	}
	c.lastErr = e
	return e
}

func (c *Connection) describe() string {
	if c.node.Scheme == config.SchemeUnix {
		return "unix socket " + c.node.Path
	}
	return fmt.Sprintf("host %s port %d", c.node.Host, c.node.Port)
}

// Write 发送若干条命令，不读取回复
func (c *Connection) Write(cmds ...[][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return c.notConnected("write")
	}
	if c.readTimeout > 0 {
		_ = c.t.conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.t.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.t.writeCommands(cmds...); err != nil {
		return c.fail(wrapNetError("write", c.node.Addr(), err))
	}
	return nil
}

// Read 读取一条回复，服务端错误作为回复返回而不是 error
// 超时和协议错误之后连接中可能残留数据，直接关闭
func (c *Connection) Read() (resp.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return nil, c.notConnected("read")
	}
	if c.readTimeout > 0 {
		_ = c.t.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.t.conn.SetReadDeadline(time.Time{})
	}
	r, err := c.t.r.Read()
	if err != nil {
		if pe, ok := err.(*errs.Error); ok && pe.Kind == errs.KindProtocol {
			pe.Node = c.node.Addr()
			return nil, c.fail(pe)
		}
		return nil, c.fail(wrapNetError("read", c.node.Addr(), err))
	}
	return r, nil
}

// Do 发送一条命令并读取回复，错误回复转换为 *errs.ServerError
func (c *Connection) Do(args [][]byte) (resp.Reply, error) {
	if err := c.Write(args); err != nil {
		return nil, err
	}
	r, err := c.Read()
	if err != nil {
		return nil, err
	}
	if er, ok := r.(reply.ErrorReply); ok {
		return r, &errs.ServerError{Msg: er.Error()}
	}
	return r, nil
}

// Close 释放传输层连接，持久连接归还注册表
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return nil
	}
	t := c.t
	c.t = nil
	if c.opts.Persistent {
		returnTransport(c.node, c.opts, t)
		return nil
	}
	return t.conn.Close()
}

// Abort 回复与请求对不上时丢弃传输层连接，后续读到的数据不再可信
func (c *Connection) Abort(err *errs.Error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(err)
}

// fail 在持有锁时调用，关闭传输层并记录错误
func (c *Connection) fail(err *errs.Error) error {
	c.lastErr = err
	if c.t != nil {
		if c.opts.Persistent {
			invalidateTransport(c.node, c.opts, c.t)
		} else {
			c.t.close()
		}
		c.t = nil
	}
	logger.WithNode(c.node.Addr()).Debugf("connection dropped: %v", err)
	return err
}

func (c *Connection) notConnected(op string) error {
	return &errs.Error{Kind: errs.KindConnection, Op: op, Node: c.node.Addr(), Msg: "not connected"}
}
