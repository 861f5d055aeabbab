// Package redistest 在回环地址上启动内嵌的 Redis 兼容服务端，供各个包的测试使用
// 支持单机、主从复制、集群和哨兵四种拓扑，不依赖外部 Redis
package redistest

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/handler"
	"github.com/rhubarbgroup/redis-cache-sub002/tcp"
)

// Server 一个正在监听的节点
type Server struct {
	*database.Server
	Host string
	Port int

	closeChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func listen(t testing.TB) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return listener
}

func serve(t testing.TB, listener net.Listener, opts database.ServerOptions) *Server {
	t.Helper()
	addr := listener.Addr().(*net.TCPAddr)
	opts.Addr = listener.Addr().String()
	s := &Server{
		Server:    database.NewServer(opts),
		Host:      addr.IP.String(),
		Port:      addr.Port,
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		tcp.ListenAndServer(listener, handler.MakeHandler(s.Server), s.closeChan)
	}()
	t.Cleanup(s.Close)
	return s
}

// Start 启动一个单机节点
func Start(t testing.TB) *Server {
	return StartWith(t, database.ServerOptions{})
}

// StartWith 按给定配置启动节点，Addr 字段会被监听地址覆盖
func StartWith(t testing.TB, opts database.ServerOptions) *Server {
	t.Helper()
	return serve(t, listen(t), opts)
}

// Close 停止监听并断开所有客户端，可以重复调用
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		<-s.done
	})
}

// Do 绕过网络和各种检查直接在 0 号库执行命令
func (s *Server) Do(args ...string) resp.Reply {
	return s.ExecLocal(0, utils.ToCmdLine(args...))
}

// StartReplication 启动一个主节点和 n 个副本
func StartReplication(t testing.TB, n int, opts database.ServerOptions) (*Server, []*Server) {
	t.Helper()
	master := StartWith(t, opts)
	replicas := make([]*Server, n)
	for i := range replicas {
		replicaOpts := opts
		replicaOpts.ReplicaOf = master.Server
		replicas[i] = StartWith(t, replicaOpts)
	}
	return master, replicas
}

// Cluster 共享同一张槽位表的一组节点
type Cluster struct {
	Nodes    []*Server
	Topology *database.ClusterTopology
}

// StartCluster 启动 n 个节点并平均分配槽位
func StartCluster(t testing.TB, n int) *Cluster {
	t.Helper()
	listeners := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range listeners {
		listeners[i] = listen(t)
		addrs[i] = listeners[i].Addr().String()
	}
	c := &Cluster{Topology: database.NewClusterTopology(addrs...)}
	for _, l := range listeners {
		c.Nodes = append(c.Nodes, serve(t, l, database.ServerOptions{Cluster: c.Topology}))
	}
	return c
}

// Owner 拥有槽位的节点
func (c *Cluster) Owner(slot int) *Server {
	addr := c.Topology.Owner(slot)
	for _, n := range c.Nodes {
		if n.Addr() == addr {
			return n
		}
	}
	return nil
}

// Sentinel 一个哨兵节点和它维护的主从信息
type Sentinel struct {
	*Server
	State *database.SentinelState
}

// StartSentinel 启动哨兵并监控 service
func StartSentinel(t testing.TB, service string, master *Server, replicas ...*Server) *Sentinel {
	t.Helper()
	state := database.NewSentinelState()
	addrs := make([]string, len(replicas))
	for i, r := range replicas {
		addrs[i] = r.Addr()
	}
	state.Monitor(service, master.Addr(), addrs...)
	return &Sentinel{
		Server: StartWith(t, database.ServerOptions{Sentinel: state}),
		State:  state,
	}
}

// UnusedAddr 返回一个当前没有监听的回环地址
func UnusedAddr(t testing.TB) (string, int) {
	t.Helper()
	l := listen(t)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())
	return addr.IP.String(), addr.Port
}
