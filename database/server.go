package database

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/crc16"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/connection"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// Version INFO 中报告的版本号
const Version = "7.2.4"

// ServerOptions 内嵌服务端的配置
type ServerOptions struct {
	Addr      string // 对外地址，MOVED、CLUSTER SLOTS、ROLE 中使用
	Databases int
	Password  string            // default 用户的密码，为空表示不需要认证
	Users     map[string]string // ACL 用户名 -> 密码
	ReplicaOf *Server           // 非空时作为该节点的只读副本
	Cluster   *ClusterTopology  // 非空时以集群模式运行
	Sentinel  *SentinelState    // 非空时以哨兵模式运行，不存储数据
}

// Server 一个节点的全部状态
// 所有命令在全局锁下串行执行，数据结构不需要额外的并发控制
type Server struct {
	opts   ServerOptions
	mu     sync.Mutex
	dbSet  []*DB
	feed   *replicationFeed
	hub    *hub
	master *Server
}

// NewServer 创建节点
func NewServer(opts ServerOptions) *Server {
	if opts.Databases <= 0 {
		opts.Databases = 16
	}
	s := &Server{
		opts:   opts,
		feed:   newReplicationFeed(),
		hub:    makeHub(),
		master: opts.ReplicaOf,
	}
	s.dbSet = make([]*DB, opts.Databases)
	for i := range s.dbSet {
		db := makeDB(i)
		index := i
		db.propagate = func(line CmdLine) {
			s.feed.add(index, line)
		}
		s.dbSet[i] = db
	}
	if s.master != nil {
		s.master.feed.attach(s)
	}
	return s
}

// Addr 节点对外地址
func (s *Server) Addr() string {
	return s.opts.Addr
}

func (s *Server) requiresAuth() bool {
	return s.opts.Password != ""
}

func (s *Server) isReplica() bool {
	return s.master != nil
}

func (s *Server) mode() string {
	switch {
	case s.opts.Sentinel != nil:
		return "sentinel"
	case s.opts.Cluster != nil:
		return "cluster"
	}
	return "standalone"
}

// Exec 执行客户端发送的命令
func (s *Server) Exec(c resp.Connection, cmdLine CmdLine) (result resp.Reply) {
	defer func() {
		if err := recover(); err != nil {
			log.Warn(fmt.Sprintf("error occurs: %v\n%s", err, string(debug.Stack())))
			result = reply.UnknownErr
		}
	}()
	if len(cmdLine) == 0 {
		return reply.MakeErrReply("ERR empty command")
	}
	name := strings.ToLower(string(cmdLine[0]))

	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "auth":
		return s.execAuth(c, cmdLine[1:])
	case "hello":
		return s.execHello(c, cmdLine[1:])
	}
	if s.requiresAuth() && !c.Authenticated() {
		return reply.NoAuthErr
	}
	if s.opts.Sentinel != nil {
		return s.execSentinelMode(c, name, cmdLine[1:])
	}
	if s.hub.subscribed(c) && !subscribeContext[name] {
		return reply.MakeErrReply("ERR Can't execute '" + name +
			"': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context")
	}

	switch name {
	case "multi":
		if c.InMultiState() {
			return reply.MakeErrReply("ERR MULTI calls can not be nested")
		}
		c.SetMultiState(true)
		return reply.MakeOkReply()
	case "exec":
		if !c.InMultiState() {
			return reply.MakeErrReply("ERR EXEC without MULTI")
		}
		return s.execMulti(c)
	case "discard":
		if !c.InMultiState() {
			return reply.MakeErrReply("ERR DISCARD without MULTI")
		}
		c.SetMultiState(false)
		return reply.MakeOkReply()
	}

	if c.InMultiState() {
		if errReply := s.check(c, name, cmdLine); errReply != nil {
			return errReply
		}
		c.EnqueueCmd(cmdLine)
		return reply.MakeQueuedReply()
	}
	return s.execCommand(c, name, cmdLine)
}

// execMulti 依次执行队列中的命令，单条命令的错误作为数组中的一项返回
func (s *Server) execMulti(c resp.Connection) resp.Reply {
	queued := c.GetQueuedCmdLine()
	c.SetMultiState(false)
	results := make([]resp.Reply, 0, len(queued))
	for _, line := range queued {
		results = append(results, s.execCommand(c, strings.ToLower(string(line[0])), line))
	}
	return reply.MakeArrayReply(results)
}

func (s *Server) execCommand(c resp.Connection, name string, cmdLine CmdLine) resp.Reply {
	if name != "asking" {
		// ASKING 只对紧随其后的一条命令有效
		defer c.SetAsking(false)
	}
	if errReply := s.check(c, name, cmdLine); errReply != nil {
		return errReply
	}
	return s.dispatch(c, name, cmdLine)
}

// dispatch 不做任何检查直接执行
func (s *Server) dispatch(c resp.Connection, name string, cmdLine CmdLine) resp.Reply {
	if fn, ok := serverRouter[name]; ok {
		return fn(s, c, cmdLine[1:])
	}
	return s.dbSet[c.GetDBIndex()].Exec(c, cmdLine)
}

// check 命令是否存在、参数个数、只读副本以及集群槽位
func (s *Server) check(c resp.Connection, name string, cmdLine CmdLine) resp.Reply {
	if _, ok := serverRouter[name]; ok {
		return nil
	}
	cmd, ok := cmdTable[name]
	if !ok {
		return reply.MakeErrReply("ERR unknown command '" + name + "'")
	}
	if !availableArgsCount(cmd.arity, cmdLine) {
		return reply.MakeArgNumErrReply(name)
	}
	if s.isReplica() && cmd.flags&flagWrite != 0 {
		return reply.ReadOnlyErr
	}
	if s.opts.Cluster != nil {
		return s.checkSlot(c, cmdLine)
	}
	return nil
}

// checkSlot 键不属于本节点时回复 MOVED，槽位迁移中且键不在本地时回复 ASK
func (s *Server) checkSlot(c resp.Connection, cmdLine CmdLine) resp.Reply {
	keys := command.FromLine(cmdLine).Keys()
	if len(keys) == 0 {
		return nil
	}
	slot := crc16.Slot(keys[0])
	for _, key := range keys[1:] {
		if crc16.Slot(key) != slot {
			return reply.MakeErrReply("CROSSSLOT Keys in request don't hash to the same slot")
		}
	}
	topology := s.opts.Cluster
	owner := topology.Owner(slot)
	if owner == "" {
		return reply.MakeErrReply("CLUSTERDOWN Hash slot not served")
	}
	if owner != s.opts.Addr {
		if target, ok := topology.Migrating(slot); ok && target == s.opts.Addr && c.Asking() {
			return nil
		}
		return reply.MakeErrReply(fmt.Sprintf("MOVED %d %s", slot, owner))
	}
	if target, ok := topology.Migrating(slot); ok {
		db := s.dbSet[c.GetDBIndex()]
		for _, key := range keys {
			if _, exists := db.GetEntity(key); !exists {
				return reply.MakeErrReply(fmt.Sprintf("ASK %d %s", slot, target))
			}
		}
	}
	return nil
}

func (s *Server) authenticate(user, password string) bool {
	if user == "default" {
		return s.requiresAuth() && password == s.opts.Password
	}
	p, ok := s.opts.Users[user]
	return ok && p == password
}

// AUTH [username] password
func (s *Server) execAuth(c resp.Connection, args [][]byte) resp.Reply {
	var user, password string
	switch len(args) {
	case 1:
		user, password = "default", string(args[0])
		if !s.requiresAuth() {
			return reply.MakeErrReply("ERR AUTH <password> called without any password configured for the default user. " +
				"Are you sure your configuration is correct?")
		}
	case 2:
		user, password = string(args[0]), string(args[1])
	default:
		return reply.MakeArgNumErrReply("auth")
	}
	if !s.authenticate(user, password) {
		c.SetAuthenticated(false)
		return reply.MakeErrReply("WRONGPASS invalid username-password pair or user is disabled.")
	}
	c.SetAuthenticated(true)
	return reply.MakeOkReply()
}

// HELLO [protover [AUTH username password] [SETNAME clientname]]
func (s *Server) execHello(c resp.Connection, args [][]byte) resp.Reply {
	proto := 2
	if len(args) > 0 {
		switch string(args[0]) {
		case "2":
		case "3":
			proto = 3
		default:
			return reply.MakeErrReply("NOPROTO sorry, this protocol version is not supported.")
		}
		args = args[1:]
	}
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "AUTH":
			if i+2 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			if !s.authenticate(string(args[i+1]), string(args[i+2])) {
				return reply.MakeErrReply("WRONGPASS invalid username-password pair or user is disabled.")
			}
			c.SetAuthenticated(true)
			i += 2
		case "SETNAME":
			if i+1 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			i++
		default:
			return reply.MakeSyntaxErrReply()
		}
	}
	if s.requiresAuth() && !c.Authenticated() {
		return reply.MakeErrReply("NOAUTH HELLO must be called with the client already authenticated, " +
			"otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client " +
			"and select the RESP protocol version at the same time")
	}
	role := "master"
	if s.isReplica() {
		role = "replica"
	}
	return reply.MakeArrayReply([]resp.Reply{
		reply.MakeBulkReply([]byte("server")), reply.MakeBulkReply([]byte("redis")),
		reply.MakeBulkReply([]byte("version")), reply.MakeBulkReply([]byte(Version)),
		reply.MakeBulkReply([]byte("proto")), reply.MakeIntReply(int64(proto)),
		reply.MakeBulkReply([]byte("mode")), reply.MakeBulkReply([]byte(s.mode())),
		reply.MakeBulkReply([]byte("role")), reply.MakeBulkReply([]byte(role)),
	})
}

// ExecLocal 绕过认证、只读和槽位检查直接执行，用于测试中预置数据
func (s *Server) ExecLocal(dbIndex int, cmdLine CmdLine) resp.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := connection.NewFakeConn()
	c.SelectDB(dbIndex)
	return s.dispatch(c, strings.ToLower(string(cmdLine[0])), cmdLine)
}

// applyReplicated 回放主节点同步过来的命令
func (s *Server) applyReplicated(dbIndex int, cmdLine CmdLine) resp.Reply {
	return s.ExecLocal(dbIndex, cmdLine)
}

// WaitReplicated 等待已写入的命令全部同步到副本
func (s *Server) WaitReplicated() {
	s.feed.wait()
}

// Promote 副本提升为主节点，不再接收原主节点的同步
func (s *Server) Promote() {
	s.mu.Lock()
	master := s.master
	s.master = nil
	s.mu.Unlock()
	if master != nil {
		master.feed.detach(s)
	}
}

func (s *Server) Close() {
	s.feed.close()
}

// AfterClientClose 清理连接的订阅关系
func (s *Server) AfterClientClose(c resp.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub.drop(c)
}
