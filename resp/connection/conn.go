package connection

import (
	"net"
	"sync"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/sync/wait"
)

// Connection 协议层对每一个客户端的描述
type Connection struct {
	conn net.Conn
	// 关闭前等待正在写出的回复
	waitingReply wait.Wait
	mu           sync.Mutex
	selectedDB   int

	authenticated bool
	multiState    bool
	queue         [][][]byte
	asking        bool
}

// NewConn 包装一条网络连接
func NewConn(conn net.Conn) *Connection {
	return &Connection{
		conn: conn,
	}
}

// NewFakeConn 没有网络连接，供复制流在本地回放命令
func NewFakeConn() *Connection {
	return &Connection{authenticated: true}
}

func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return "fake"
	}
	return c.conn.RemoteAddr().String()
}

func (c *Connection) Write(b []byte) error {
	if len(b) == 0 || c.conn == nil {
		return nil
	}
	c.mu.Lock()
	c.waitingReply.Add(1)
	defer func() {
		c.waitingReply.Done()
		c.mu.Unlock()
	}()
	_, err := c.conn.Write(b)
	return err
}

func (c *Connection) Close() error {
	c.waitingReply.WaitWithTimeout(10 * time.Second)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

func (c *Connection) GetDBIndex() int {
	return c.selectedDB
}

func (c *Connection) SelectDB(dbIndex int) {
	c.selectedDB = dbIndex
}

func (c *Connection) Authenticated() bool {
	return c.authenticated
}

func (c *Connection) SetAuthenticated(ok bool) {
	c.authenticated = ok
}

func (c *Connection) InMultiState() bool {
	return c.multiState
}

func (c *Connection) SetMultiState(state bool) {
	if !state {
		c.queue = nil
	}
	c.multiState = state
}

func (c *Connection) EnqueueCmd(cmdLine [][]byte) {
	c.queue = append(c.queue, cmdLine)
}

func (c *Connection) GetQueuedCmdLine() [][][]byte {
	return c.queue
}

func (c *Connection) ClearQueuedCmds() {
	c.queue = nil
}

func (c *Connection) Asking() bool {
	return c.asking
}

func (c *Connection) SetAsking(asking bool) {
	c.asking = asking
}
