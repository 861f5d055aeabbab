package cluster

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Sentinel 先向哨兵询问 service 当前的主从地址，再按主从复制模式路由
// 连接主节点失败时重新询问一次哨兵
type Sentinel struct {
	mu           sync.Mutex
	sentinels    []*config.Node
	sentinelOpts *client.Options
	service      string
	template     *config.Node
	inner        *Replication
	resolved     bool
}

func NewSentinel(sentinels []*config.Node, service string, database int, opts *client.Options, policy string) *Sentinel {
	sentinelOpts := *opts
	// 哨兵本身不需要数据节点的凭据，也不复用持久连接
	sentinelOpts.Username = ""
	sentinelOpts.Password = ""
	sentinelOpts.Persistent = false
	sentinelOpts.Protocol = 2

	template := &config.Node{Scheme: config.SchemeTCP, Database: database}
	if len(sentinels) > 0 {
		template.Scheme = sentinels[0].Scheme
		template.PersistentID = sentinels[0].PersistentID
	}
	return &Sentinel{
		sentinels:    sentinels,
		sentinelOpts: &sentinelOpts,
		service:      service,
		template:     template,
		inner:        newReplication(opts, policy),
	}
}

func (s *Sentinel) Mode() config.Mode {
	return config.ModeSentinel
}

func (s *Sentinel) ensureResolved() error {
	s.mu.Lock()
	resolved := s.resolved
	s.mu.Unlock()
	if resolved {
		return nil
	}
	return s.Refresh()
}

func (s *Sentinel) Route(cmd *command.Command) (*client.Connection, error) {
	if err := s.ensureResolved(); err != nil {
		return nil, err
	}
	conn, err := s.inner.Route(cmd)
	if err == nil || !errs.IsConnection(err) {
		return conn, err
	}
	logger.WithNode(s.inner.Master().Addr()).Infof("master of %s unreachable, asking sentinel again", s.service)
	if rerr := s.Refresh(); rerr != nil {
		return nil, err
	}
	return s.inner.Route(cmd)
}

func (s *Sentinel) Masters() ([]*client.Connection, error) {
	if err := s.ensureResolved(); err != nil {
		return nil, err
	}
	return s.inner.Masters()
}

func (s *Sentinel) Lookup(name string) (*client.Connection, error) {
	if err := s.ensureResolved(); err != nil {
		return nil, err
	}
	return s.inner.Lookup(name)
}

func (s *Sentinel) Nodes() []*client.Connection {
	return s.inner.Nodes()
}

// Refresh 依次询问每个哨兵，第一个给出答案的哨兵生效
func (s *Sentinel) Refresh() error {
	var lastErr error
	for _, node := range s.sentinels {
		master, replicas, err := s.query(node)
		if err != nil {
			lastErr = err
			logger.WithNode(node.Addr()).Warnf("sentinel query for %s failed: %v", s.service, err)
			continue
		}
		s.inner.reset(master, replicas)
		s.mu.Lock()
		s.resolved = true
		s.mu.Unlock()
		logger.WithNode(master.Addr()).Debugf("sentinel resolved %s with %d replicas", s.service, len(replicas))
		return nil
	}
	if lastErr == nil {
		lastErr = errs.Configf("no sentinel configured")
	}
	return lastErr
}

func (s *Sentinel) query(node *config.Node) (*config.Node, []*config.Node, error) {
	conn := client.MakeConnection(node, s.sentinelOpts)
	if err := conn.Connect(); err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	rep, err := conn.Do(utils.ToCmdLine("SENTINEL", "get-master-addr-by-name", s.service))
	if err != nil {
		return nil, nil, err
	}
	addr, ok := replyStrings(rep)
	if !ok || len(addr) != 2 {
		if _, null := rep.(*reply.NullArrayReply); null {
			return nil, nil, &errs.Error{Kind: errs.KindConnection, Op: "sentinel", Node: node.Addr(),
				Msg: "unknown service " + s.service}
		}
		return nil, nil, errs.New(errs.KindProtocol, "sentinel", "unexpected reply %q", rep.ToBytes())
	}
	master, err := nodeFromAddr(net.JoinHostPort(addr[0], addr[1]), s.template)
	if err != nil {
		return nil, nil, err
	}
	master.Role = config.RoleMaster

	rep, err = conn.Do(utils.ToCmdLine("SENTINEL", "replicas", s.service))
	var se *errs.ServerError
	if errors.As(err, &se) {
		// 5.0 之前的哨兵只认 slaves
		rep, err = conn.Do(utils.ToCmdLine("SENTINEL", "slaves", s.service))
	}
	if err != nil {
		return nil, nil, err
	}
	replicas, err := s.parseReplicas(rep)
	if err != nil {
		return nil, nil, err
	}
	return master, replicas, nil
}

func (s *Sentinel) parseReplicas(rep resp.Reply) ([]*config.Node, error) {
	arr, ok := rep.(*reply.ArrayReply)
	if !ok {
		return nil, errs.New(errs.KindProtocol, "sentinel", "unexpected reply %q", rep.ToBytes())
	}
	replicas := make([]*config.Node, 0, len(arr.Replies))
	for _, item := range arr.Replies {
		fields, ok := replyPairs(item)
		if !ok {
			return nil, errs.New(errs.KindProtocol, "sentinel", "unexpected replica entry %q", item.ToBytes())
		}
		if unhealthy(fields["flags"]) {
			continue
		}
		node, err := nodeFromAddr(net.JoinHostPort(fields["ip"], fields["port"]), s.template)
		if err != nil {
			return nil, err
		}
		node.Role = config.RoleSlave
		replicas = append(replicas, node)
	}
	return replicas, nil
}

func unhealthy(flags string) bool {
	for _, f := range strings.Split(flags, ",") {
		switch f {
		case "s_down", "o_down", "disconnected":
			return true
		}
	}
	return false
}

func (s *Sentinel) Close() error {
	return s.inner.Close()
}
