package cluster

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
)

// 连接失败的副本在这段时间内不再参与读路由
const replicaDownTime = time.Second

// Replication 写命令发往主节点，只读命令分摊到副本
type Replication struct {
	mu       sync.Mutex
	nodes    *nodeSet
	master   *client.Connection
	replicas []*client.Connection
	down     map[string]time.Time
	policy   string
	next     int
}

// NewReplication 选出 role=master 的节点作为主节点，没有标注时取第一个
func NewReplication(nodes []*config.Node, opts *client.Options, policy string) (*Replication, error) {
	if len(nodes) == 0 {
		return nil, errs.Configf("replication requires at least one server")
	}
	master := nodes[0]
	for _, n := range nodes {
		if n.Role == config.RoleMaster {
			master = n
			break
		}
	}
	var replicas []*config.Node
	for _, n := range nodes {
		if n != master {
			replicas = append(replicas, n)
		}
	}
	r := newReplication(opts, policy)
	r.reset(master, replicas)
	return r, nil
}

func newReplication(opts *client.Options, policy string) *Replication {
	if policy == "" {
		policy = config.ReplicaRoundRobin
	}
	return &Replication{
		nodes:  newNodeSet(opts),
		down:   make(map[string]time.Time),
		policy: policy,
	}
}

// reset 替换主从关系，不再出现的节点会被关闭
func (r *Replication) reset(master *config.Node, replicas []*config.Node) {
	keep := map[string]bool{master.Addr(): true}
	m := r.nodes.get(master)
	rs := make([]*client.Connection, 0, len(replicas))
	for _, n := range replicas {
		if keep[n.Addr()] {
			continue
		}
		keep[n.Addr()] = true
		rs = append(rs, r.nodes.get(n))
	}
	r.nodes.retain(keep)

	r.mu.Lock()
	r.master = m
	r.replicas = rs
	r.mu.Unlock()
}

func (r *Replication) Mode() config.Mode {
	return config.ModeReplication
}

// Master 当前主节点
func (r *Replication) Master() *client.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master
}

// Replicas 当前副本
func (r *Replication) Replicas() []*client.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*client.Connection(nil), r.replicas...)
}

func (r *Replication) Route(cmd *command.Command) (*client.Connection, error) {
	if cmd.ReadOnly() {
		if c := r.pickReplica(cmd); c != nil {
			_, err := Connect(c)
			if err == nil {
				return c, nil
			}
			r.markDown(c, err)
		}
	}
	return Connect(r.Master())
}

// pickReplica 返回 nil 表示读请求回落到主节点
func (r *Replication) pickReplica(cmd *command.Command) *client.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	candidates := make([]*client.Connection, 0, len(r.replicas))
	for _, c := range r.replicas {
		if c.Node().WriteOnly {
			continue
		}
		if until, ok := r.down[c.Addr()]; ok && now.Before(until) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}
	if r.policy == config.ReplicaHash {
		if key, ok := cmd.Key(); ok {
			return candidates[xxhash.Sum64String(key)%uint64(len(candidates))]
		}
	}
	c := candidates[r.next%len(candidates)]
	r.next++
	return c
}

func (r *Replication) markDown(c *client.Connection, err error) {
	logger.WithNode(c.Addr()).Warnf("replica unavailable, reading from master: %v", err)
	r.mu.Lock()
	r.down[c.Addr()] = time.Now().Add(replicaDownTime)
	r.mu.Unlock()
}

func (r *Replication) Masters() ([]*client.Connection, error) {
	return []*client.Connection{r.Master()}, nil
}

func (r *Replication) Lookup(name string) (*client.Connection, error) {
	if c := r.nodes.find(name); c != nil {
		return c, nil
	}
	return nil, unknownNode(name)
}

func (r *Replication) Nodes() []*client.Connection {
	return r.nodes.all()
}

// Refresh 用 ROLE 重新确认每个节点的角色
// 没有节点自称主节点时保持原来的主节点
func (r *Replication) Refresh() error {
	current := r.Master()
	var master *client.Connection
	var lastErr error
	all := r.nodes.all()
	for _, c := range all {
		role, err := probeRole(c)
		if err != nil {
			lastErr = err
			continue
		}
		if role == config.RoleMaster && master == nil {
			master = c
		}
	}
	if master == nil {
		if current == nil {
			return lastErr
		}
		master = current
	}
	replicas := make([]*client.Connection, 0, len(all))
	for _, c := range all {
		if c != master {
			replicas = append(replicas, c)
		}
	}
	r.mu.Lock()
	if r.master != master {
		logger.WithNode(master.Addr()).Info("master changed")
	}
	r.master = master
	r.replicas = replicas
	r.mu.Unlock()
	return nil
}

func probeRole(c *client.Connection) (config.Role, error) {
	if _, err := Connect(c); err != nil {
		return config.RoleUnknown, err
	}
	rep, err := c.Do(utils.ToCmdLine("ROLE"))
	if err != nil {
		return config.RoleUnknown, err
	}
	role, ok := firstString(rep)
	if !ok {
		return config.RoleUnknown, errs.New(errs.KindProtocol, "ROLE", "unexpected reply %q", rep.ToBytes())
	}
	if strings.EqualFold(role, "master") {
		return config.RoleMaster, nil
	}
	return config.RoleSlave, nil
}

func (r *Replication) Close() error {
	return r.nodes.closeAll()
}
