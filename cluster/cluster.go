package cluster

import (
	"net"
	"sync"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/crc16"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Cluster 按槽位把命令发往拥有该槽位的主节点
// 槽位表在第一次路由时通过 CLUSTER SLOTS 加载，之后由 MOVED 逐个修正
type Cluster struct {
	mu     sync.RWMutex
	seeds  []*config.Node
	nodes  *nodeSet
	slots  [crc16.SlotCount]string
	loaded bool
}

func NewCluster(seeds []*config.Node, opts *client.Options) *Cluster {
	c := &Cluster{seeds: seeds, nodes: newNodeSet(opts)}
	for _, n := range seeds {
		c.nodes.get(n)
	}
	return c
}

func (c *Cluster) Mode() config.Mode {
	return config.ModeCluster
}

// SlotOwner 槽位当前的所有者地址，未知时返回空串
func (c *Cluster) SlotOwner(slot int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slots[slot]
}

// Slot 命令所有键所在的槽位，键跨槽位或者没有键时返回集群路由错误
func Slot(cmd *command.Command) (int, error) {
	keys := cmd.Keys()
	if len(keys) == 0 {
		return 0, errs.New(errs.KindClusterRouting, cmd.Name, "command has no key, target a node explicitly")
	}
	slot := crc16.Slot(keys[0])
	for _, k := range keys[1:] {
		if crc16.Slot(k) != slot {
			return 0, errs.New(errs.KindClusterRouting, cmd.Name, "keys in request don't hash to the same slot")
		}
	}
	return slot, nil
}

func (c *Cluster) Route(cmd *command.Command) (*client.Connection, error) {
	slot, err := Slot(cmd)
	if err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	addr := c.SlotOwner(slot)
	if addr == "" {
		// 可能是新分配的槽位
		if err := c.Refresh(); err != nil {
			return nil, err
		}
		if addr = c.SlotOwner(slot); addr == "" {
			return nil, errs.New(errs.KindClusterRouting, cmd.Name, "slot %d is not served by any node", slot)
		}
	}
	conn, err := c.nodeFor(addr)
	if err != nil {
		return nil, err
	}
	return Connect(conn)
}

func (c *Cluster) ensureLoaded() error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh()
}

func (c *Cluster) nodeFor(addr string) (*client.Connection, error) {
	if conn := c.nodes.find(addr); conn != nil {
		return conn, nil
	}
	var template *config.Node
	if len(c.seeds) > 0 {
		template = c.seeds[0]
	}
	node, err := nodeFromAddr(addr, template)
	if err != nil {
		return nil, err
	}
	return c.nodes.get(node), nil
}

func (c *Cluster) Moved(slot int, addr string) (*client.Connection, error) {
	if slot < 0 || slot >= crc16.SlotCount {
		return nil, errs.New(errs.KindProtocol, "MOVED", "slot %d out of range", slot)
	}
	conn, err := c.nodeFor(addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.slots[slot] = addr
	c.mu.Unlock()
	logger.WithNode(addr).Debugf("slot %d moved", slot)
	return Connect(conn)
}

func (c *Cluster) Ask(addr string) (*client.Connection, error) {
	conn, err := c.nodeFor(addr)
	if err != nil {
		return nil, err
	}
	return Connect(conn)
}

// Masters 按槽位顺序返回所有持有槽位的节点
func (c *Cluster) Masters() ([]*client.Connection, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	seen := make(map[string]bool)
	var addrs []string
	for _, addr := range c.slots {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	c.mu.RUnlock()
	conns := make([]*client.Connection, 0, len(addrs))
	for _, addr := range addrs {
		conn, err := c.nodeFor(addr)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (c *Cluster) Lookup(name string) (*client.Connection, error) {
	if conn := c.nodes.find(name); conn != nil {
		return conn, nil
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	if conn := c.nodes.find(name); conn != nil {
		return conn, nil
	}
	return nil, unknownNode(name)
}

func (c *Cluster) Nodes() []*client.Connection {
	return c.nodes.all()
}

// Refresh 依次向已知节点请求 CLUSTER SLOTS，第一个成功的回复生效
func (c *Cluster) Refresh() error {
	var lastErr error
	for _, conn := range c.nodes.all() {
		table, err := c.fetchSlots(conn)
		if err != nil {
			lastErr = err
			logger.WithNode(conn.Addr()).Debugf("cluster slots: %v", err)
			continue
		}
		c.mu.Lock()
		c.slots = *table
		c.loaded = true
		c.mu.Unlock()
		return nil
	}
	if lastErr == nil {
		lastErr = errs.New(errs.KindConnection, "cluster slots", "no reachable cluster node")
	}
	return lastErr
}

func (c *Cluster) fetchSlots(conn *client.Connection) (*[crc16.SlotCount]string, error) {
	if _, err := Connect(conn); err != nil {
		return nil, err
	}
	rep, err := conn.Do(utils.ToCmdLine("CLUSTER", "SLOTS"))
	if err != nil {
		return nil, err
	}
	ranges, err := parseSlots(rep, conn.Node().Host)
	if err != nil {
		return nil, err
	}
	table := new([crc16.SlotCount]string)
	for _, r := range ranges {
		// 预先登记节点，使 Lookup 可以按地址找到它
		if _, err := c.nodeFor(r.addr); err != nil {
			return nil, err
		}
		for slot := r.start; slot <= r.end; slot++ {
			table[slot] = r.addr
		}
	}
	return table, nil
}

type slotRange struct {
	start, end int
	addr       string
}

// parseSlots 解析 CLUSTER SLOTS 的回复，只关心每个区间的主节点
// 主机名为空时表示与被询问的节点相同
func parseSlots(r resp.Reply, defaultHost string) ([]slotRange, error) {
	bad := func() error {
		return errs.New(errs.KindProtocol, "cluster slots", "unexpected reply %q", r.ToBytes())
	}
	arr, ok := r.(*reply.ArrayReply)
	if !ok {
		return nil, bad()
	}
	ranges := make([]slotRange, 0, len(arr.Replies))
	for _, item := range arr.Replies {
		entry, ok := item.(*reply.ArrayReply)
		if !ok || len(entry.Replies) < 3 {
			return nil, bad()
		}
		start, ok1 := entry.Replies[0].(*reply.IntReply)
		end, ok2 := entry.Replies[1].(*reply.IntReply)
		master, ok3 := replyStrings(entry.Replies[2])
		if !ok1 || !ok2 || !ok3 || len(master) < 2 {
			return nil, bad()
		}
		if start.Code < 0 || end.Code >= crc16.SlotCount || start.Code > end.Code {
			return nil, bad()
		}
		host := master[0]
		if host == "" {
			host = defaultHost
		}
		ranges = append(ranges, slotRange{
			start: int(start.Code),
			end:   int(end.Code),
			addr:  net.JoinHostPort(host, master[1]),
		})
	}
	return ranges, nil
}

func (c *Cluster) Close() error {
	return c.nodes.closeAll()
}
