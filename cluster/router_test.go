package cluster

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/database"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/crc16"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/redistest"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

func cmd(t *testing.T, name string, args ...interface{}) *command.Command {
	c, err := command.New(name, args...)
	require.NoError(t, err)
	return c
}

func nodeOf(t *testing.T, s *redistest.Server, query string) *config.Node {
	node, err := config.ParseNode("tcp://" + s.Addr() + query)
	require.NoError(t, err)
	return node
}

func TestNewFromConfig(t *testing.T) {
	s := redistest.Start(t)
	o := config.Defaults()
	o.Host = s.Host
	o.Port = s.Port
	r, err := New(o)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, config.ModeStandalone, r.Mode())

	conn, err := r.Route(cmd(t, "SET", "k", "v"))
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
	assert.Equal(t, s.Addr(), conn.Addr())

	same, err := r.Lookup(s.Addr())
	require.NoError(t, err)
	assert.Same(t, conn, same)
	_, err = r.Lookup("nowhere:1")
	assert.True(t, errs.KindOf(err) == errs.KindUsage)

	o = config.Defaults()
	o.Timeout = -3
	_, err = New(o)
	assert.True(t, errs.IsConfiguration(err))
}

func TestReplicationRoutesReadsToReplica(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 1, database.ServerOptions{})
	r, err := NewReplication([]*config.Node{
		nodeOf(t, replicas[0], "?alias=replica"),
		nodeOf(t, master, "?role=master&alias=primary"),
	}, &client.Options{}, "")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, master.Addr(), r.Master().Addr())

	w, err := r.Route(cmd(t, "SET", "k", "v"))
	require.NoError(t, err)
	assert.Equal(t, master.Addr(), w.Addr())

	rd, err := r.Route(cmd(t, "GET", "k"))
	require.NoError(t, err)
	assert.Equal(t, replicas[0].Addr(), rd.Addr())

	// 未登记为只读的命令一律发往主节点
	other, err := r.Route(cmd(t, "OBJECT", "ENCODING", "k"))
	require.NoError(t, err)
	assert.Equal(t, master.Addr(), other.Addr())

	byAlias, err := r.Lookup("replica")
	require.NoError(t, err)
	assert.Same(t, rd, byAlias)
	assert.Len(t, r.Nodes(), 2)
}

func TestReplicationWriteOnlyReplicaIsSkipped(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 1, database.ServerOptions{})
	r, err := NewReplication([]*config.Node{
		nodeOf(t, master, "?role=master"),
		nodeOf(t, replicas[0], "?write_only=1"),
	}, &client.Options{}, config.ReplicaRoundRobin)
	require.NoError(t, err)
	defer r.Close()

	rd, err := r.Route(cmd(t, "GET", "k"))
	require.NoError(t, err)
	assert.Equal(t, master.Addr(), rd.Addr())
}

func TestReplicationHashPolicyIsSticky(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 3, database.ServerOptions{})
	nodes := []*config.Node{nodeOf(t, master, "?role=master")}
	for _, s := range replicas {
		nodes = append(nodes, nodeOf(t, s, ""))
	}
	r, err := NewReplication(nodes, &client.Options{}, config.ReplicaHash)
	require.NoError(t, err)
	defer r.Close()

	for _, key := range []string{"a", "b", "user:42", "{tag}x"} {
		first, err := r.Route(cmd(t, "GET", key))
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := r.Route(cmd(t, "GET", key))
			require.NoError(t, err)
			assert.Same(t, first, again, key)
		}
		assert.NotEqual(t, master.Addr(), first.Addr())
	}
}

func TestReplicationReplicaDownFallsBackToMaster(t *testing.T) {
	master := redistest.Start(t)
	host, port := redistest.UnusedAddr(t)
	down, err := config.ParseNode("tcp://" + net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)

	r, err := NewReplication([]*config.Node{nodeOf(t, master, "?role=master"), down},
		&client.Options{ConnectTimeout: time.Second}, "")
	require.NoError(t, err)
	defer r.Close()

	rd, err := r.Route(cmd(t, "GET", "k"))
	require.NoError(t, err)
	assert.Equal(t, master.Addr(), rd.Addr())
}

func TestReplicationRefreshFindsNewMaster(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 1, database.ServerOptions{})
	r, err := NewReplication([]*config.Node{
		nodeOf(t, master, "?role=master"),
		nodeOf(t, replicas[0], ""),
	}, &client.Options{}, "")
	require.NoError(t, err)
	defer r.Close()

	replicas[0].Promote()
	master.Close()
	require.NoError(t, r.Refresh())
	assert.Equal(t, replicas[0].Addr(), r.Master().Addr())
	assert.Len(t, r.Replicas(), 1)
}

func TestClusterRoutesBySlot(t *testing.T) {
	c := redistest.StartCluster(t, 3)
	r := NewCluster([]*config.Node{nodeOf(t, c.Nodes[0], "")}, &client.Options{})
	defer r.Close()

	for _, key := range []string{"a", "b", "c", "user:1", "user:2", "{user}:1", "{user}:2"} {
		conn, err := r.Route(cmd(t, "SET", key, "v"))
		require.NoError(t, err)
		assert.Equal(t, c.Owner(crc16.Slot(key)).Addr(), conn.Addr(), key)
	}

	masters, err := r.Masters()
	require.NoError(t, err)
	assert.Len(t, masters, 3)
	for _, n := range c.Nodes {
		conn, err := r.Lookup(n.Addr())
		require.NoError(t, err)
		assert.Equal(t, n.Addr(), conn.Addr())
	}
}

func TestClusterRejectsKeylessAndCrossSlot(t *testing.T) {
	c := redistest.StartCluster(t, 2)
	r := NewCluster([]*config.Node{nodeOf(t, c.Nodes[0], "")}, &client.Options{})
	defer r.Close()

	_, err := r.Route(cmd(t, "PING"))
	assert.True(t, errs.IsClusterRouting(err))

	_, err = r.Route(cmd(t, "MGET", "{a}1", "{a}2"))
	assert.NoError(t, err)

	var a, b string
	for i := 0; a == "" || b == ""; i++ {
		k := "key" + strconv.Itoa(i)
		if a == "" {
			a = k
		} else if crc16.Slot(k) != crc16.Slot(a) {
			b = k
		}
	}
	_, err = r.Route(cmd(t, "MGET", a, b))
	assert.True(t, errs.IsClusterRouting(err))
}

func TestClusterMovedUpdatesSlot(t *testing.T) {
	c := redistest.StartCluster(t, 2)
	r := NewCluster([]*config.Node{nodeOf(t, c.Nodes[0], "")}, &client.Options{})
	defer r.Close()

	slot := crc16.Slot("moving")
	_, err := r.Route(cmd(t, "GET", "moving"))
	require.NoError(t, err)
	owner := c.Owner(slot)
	var other *redistest.Server
	for _, n := range c.Nodes {
		if n != owner {
			other = n
		}
	}

	conn, err := r.Moved(slot, other.Addr())
	require.NoError(t, err)
	assert.Equal(t, other.Addr(), conn.Addr())
	assert.Equal(t, other.Addr(), r.SlotOwner(slot))

	// ASK 不改变槽位表
	_, err = r.Ask(owner.Addr())
	require.NoError(t, err)
	assert.Equal(t, other.Addr(), r.SlotOwner(slot))

	// 重新加载后以服务端为准
	require.NoError(t, r.Refresh())
	assert.Equal(t, owner.Addr(), r.SlotOwner(slot))
}

func TestParseSlots(t *testing.T) {
	rep := reply.MakeArrayReply([]resp.Reply{
		reply.MakeArrayReply([]resp.Reply{
			reply.MakeIntReply(0),
			reply.MakeIntReply(8191),
			reply.MakeArrayReply([]resp.Reply{reply.MakeBulkReply([]byte("")), reply.MakeIntReply(7000)}),
		}),
		reply.MakeArrayReply([]resp.Reply{
			reply.MakeIntReply(8192),
			reply.MakeIntReply(16383),
			reply.MakeArrayReply([]resp.Reply{reply.MakeBulkReply([]byte("10.0.0.2")), reply.MakeIntReply(7001)}),
			reply.MakeArrayReply([]resp.Reply{reply.MakeBulkReply([]byte("10.0.0.3")), reply.MakeIntReply(7002)}),
		}),
	})
	ranges, err := parseSlots(rep, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, []slotRange{
		{start: 0, end: 8191, addr: "10.0.0.1:7000"},
		{start: 8192, end: 16383, addr: "10.0.0.2:7001"},
	}, ranges)

	_, err = parseSlots(reply.MakeStatusReply("OK"), "")
	assert.True(t, errs.IsProtocol(err))
}

func TestSentinelResolvesAndFollowsFailover(t *testing.T) {
	master, replicas := redistest.StartReplication(t, 1, database.ServerOptions{})
	sentinel := redistest.StartSentinel(t, "mymaster", master, replicas...)

	o := config.Defaults()
	o.Sentinel = []string{"tcp://" + sentinel.Addr()}
	o.Service = "mymaster"
	o.MaxRetries = 0
	r, err := New(o)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, config.ModeSentinel, r.Mode())

	w, err := r.Route(cmd(t, "SET", "k", "v"))
	require.NoError(t, err)
	assert.Equal(t, master.Addr(), w.Addr())
	rd, err := r.Route(cmd(t, "GET", "k"))
	require.NoError(t, err)
	assert.Equal(t, replicas[0].Addr(), rd.Addr())

	// 故障转移：副本被提升，哨兵指向新的主节点
	replicas[0].Promote()
	sentinel.State.Monitor("mymaster", replicas[0].Addr())
	master.Close()
	_ = w.Close()

	w, err = r.Route(cmd(t, "SET", "k", "v2"))
	require.NoError(t, err)
	assert.Equal(t, replicas[0].Addr(), w.Addr())
	assert.Len(t, r.Nodes(), 1)
}

func TestSentinelUnknownService(t *testing.T) {
	master := redistest.Start(t)
	sentinel := redistest.StartSentinel(t, "mymaster", master)
	node, err := config.ParseNode("tcp://" + sentinel.Addr())
	require.NoError(t, err)

	r := NewSentinel([]*config.Node{node}, "other", 0, &client.Options{}, "")
	defer r.Close()
	_, err = r.Route(cmd(t, "GET", "k"))
	require.Error(t, err)
	assert.True(t, errs.IsConnection(err))
}

func TestUnhealthyFlags(t *testing.T) {
	assert.False(t, unhealthy("slave"))
	assert.True(t, unhealthy("slave,s_down"))
	assert.True(t, unhealthy("disconnected"))
}
