package database

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/crc16"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// serverFunc 作用于整个节点而不是单个数据库的命令
type serverFunc func(s *Server, c resp.Connection, args [][]byte) resp.Reply

var serverRouter = makeRouter()

// subscribeContext 订阅状态下允许执行的命令
var subscribeContext = map[string]bool{
	"subscribe":   true,
	"unsubscribe": true,
	"ping":        true,
	"quit":        true,
}

func makeRouter() map[string]serverFunc {
	routerMap := make(map[string]serverFunc)

	routerMap["ping"] = execPing
	routerMap["echo"] = execEcho
	routerMap["quit"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply { return reply.MakeOkReply() }
	routerMap["select"] = execSelect
	routerMap["info"] = execInfo
	routerMap["role"] = execRole
	routerMap["time"] = execTime
	routerMap["flushall"] = execFlushAll

	// 发布订阅
	routerMap["subscribe"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply {
		if len(args) == 0 {
			return reply.MakeArgNumErrReply("subscribe")
		}
		return s.hub.subscribe(c, args)
	}
	routerMap["unsubscribe"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply {
		return s.hub.unsubscribe(c, args)
	}
	routerMap["publish"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply {
		if len(args) != 2 {
			return reply.MakeArgNumErrReply("publish")
		}
		return s.hub.publish(string(args[0]), args[1])
	}

	// 集群
	routerMap["cluster"] = execCluster
	routerMap["asking"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply {
		if s.opts.Cluster == nil {
			return reply.MakeErrReply("ERR This instance has cluster support disabled")
		}
		c.SetAsking(true)
		return reply.MakeOkReply()
	}
	routerMap["readonly"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply { return reply.MakeOkReply() }
	routerMap["readwrite"] = func(s *Server, c resp.Connection, args [][]byte) resp.Reply { return reply.MakeOkReply() }

	return routerMap
}

// PING [message]
func execPing(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	if s.hub.subscribed(c) {
		msg := []byte{}
		if len(args) > 0 {
			msg = args[0]
		}
		return reply.MakeMultiBulkReply([][]byte{[]byte("pong"), msg})
	}
	switch len(args) {
	case 0:
		return reply.MakePongReply()
	case 1:
		return reply.MakeBulkReply(args[0])
	}
	return reply.MakeArgNumErrReply("ping")
}

func execEcho(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return reply.MakeArgNumErrReply("echo")
	}
	return reply.MakeBulkReply(args[0])
}

// SELECT index
func execSelect(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return reply.MakeArgNumErrReply("select")
	}
	if s.opts.Cluster != nil {
		return reply.MakeErrReply("ERR SELECT is not allowed in cluster mode")
	}
	index, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	if index < 0 || index >= len(s.dbSet) {
		return reply.MakeErrReply("ERR DB index is out of range")
	}
	c.SelectDB(index)
	return reply.MakeOkReply()
}

// FLUSHALL 清空所有数据库
func execFlushAll(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	for _, db := range s.dbSet {
		db.Flush()
	}
	s.feed.add(0, utils.ToCmdLine2("flushall", args...))
	return reply.MakeOkReply()
}

// TIME 秒和微秒
func execTime(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	now := time.Now()
	return reply.MakeMultiBulkReply(utils.ToCmdLine(
		strconv.FormatInt(now.Unix(), 10),
		strconv.Itoa(now.Nanosecond()/1000),
	))
}

func splitAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, "0"
	}
	return host, port
}

// ROLE
func execRole(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	if s.isReplica() {
		host, port := splitAddr(s.master.Addr())
		p, _ := strconv.Atoi(port)
		return reply.MakeArrayReply([]resp.Reply{
			reply.MakeBulkReply([]byte("slave")),
			reply.MakeBulkReply([]byte(host)),
			reply.MakeIntReply(int64(p)),
			reply.MakeBulkReply([]byte("connected")),
			reply.MakeIntReply(0),
		})
	}
	replicas := make([]resp.Reply, 0)
	for _, addr := range s.feed.addrs() {
		host, port := splitAddr(addr)
		replicas = append(replicas, reply.MakeMultiBulkReply(utils.ToCmdLine(host, port, "0")))
	}
	return reply.MakeArrayReply([]resp.Reply{
		reply.MakeBulkReply([]byte("master")),
		reply.MakeIntReply(0),
		reply.MakeArrayReply(replicas),
	})
}

// INFO [section]
func execInfo(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	section := "all"
	if len(args) > 0 {
		section = strings.ToLower(string(args[0]))
	}
	want := func(name string) bool {
		return section == "all" || section == "everything" || section == "default" || section == name
	}
	var b strings.Builder
	if want("server") {
		_, port := splitAddr(s.opts.Addr)
		b.WriteString("# Server\r\n")
		b.WriteString("redis_version:" + Version + "\r\n")
		b.WriteString("redis_mode:" + s.mode() + "\r\n")
		b.WriteString("tcp_port:" + port + "\r\n\r\n")
	}
	if want("replication") {
		b.WriteString("# Replication\r\n")
		if s.isReplica() {
			host, port := splitAddr(s.master.Addr())
			b.WriteString("role:slave\r\n")
			b.WriteString("master_host:" + host + "\r\n")
			b.WriteString("master_port:" + port + "\r\n")
			b.WriteString("master_link_status:up\r\n\r\n")
		} else {
			b.WriteString("role:master\r\n")
			b.WriteString("connected_slaves:" + strconv.Itoa(s.feed.count()) + "\r\n\r\n")
		}
	}
	if want("keyspace") {
		b.WriteString("# Keyspace\r\n")
		for _, db := range s.dbSet {
			keys := len(db.Keys())
			if keys == 0 {
				continue
			}
			b.WriteString("db" + strconv.Itoa(db.index) + ":keys=" + strconv.Itoa(keys) +
				",expires=" + strconv.Itoa(db.expiresCount()) + ",avg_ttl=0\r\n")
		}
	}
	return reply.MakeBulkReply([]byte(b.String()))
}

// CLUSTER SLOTS | KEYSLOT key | INFO
func execCluster(s *Server, c resp.Connection, args [][]byte) resp.Reply {
	if s.opts.Cluster == nil {
		return reply.MakeErrReply("ERR This instance has cluster support disabled")
	}
	if len(args) == 0 {
		return reply.MakeArgNumErrReply("cluster")
	}
	switch strings.ToLower(string(args[0])) {
	case "slots":
		ranges := s.opts.Cluster.Ranges()
		result := make([]resp.Reply, 0, len(ranges))
		for _, r := range ranges {
			host, port := splitAddr(r.Addr)
			p, _ := strconv.Atoi(port)
			result = append(result, reply.MakeArrayReply([]resp.Reply{
				reply.MakeIntReply(int64(r.Start)),
				reply.MakeIntReply(int64(r.End)),
				reply.MakeArrayReply([]resp.Reply{
					reply.MakeBulkReply([]byte(host)),
					reply.MakeIntReply(int64(p)),
					reply.MakeBulkReply([]byte(r.Addr)),
				}),
			}))
		}
		return reply.MakeArrayReply(result)
	case "keyslot":
		if len(args) != 2 {
			return reply.MakeArgNumErrReply("cluster|keyslot")
		}
		return reply.MakeIntReply(int64(crc16.Slot(string(args[1]))))
	case "info":
		nodes := len(s.opts.Cluster.Nodes())
		info := "cluster_state:ok\r\ncluster_slots_assigned:" + strconv.Itoa(crc16.SlotCount) +
			"\r\ncluster_known_nodes:" + strconv.Itoa(nodes) + "\r\ncluster_size:" + strconv.Itoa(nodes) + "\r\n"
		return reply.MakeBulkReply([]byte(info))
	}
	return reply.MakeErrReply("ERR unknown subcommand '" + string(args[0]) + "'")
}
