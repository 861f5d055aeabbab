package database

import (
	"strconv"
	"strings"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// execSentinelMode 哨兵只回答 PING、INFO 和 SENTINEL 子命令
func (s *Server) execSentinelMode(c resp.Connection, name string, args [][]byte) resp.Reply {
	switch name {
	case "ping":
		return execPing(s, c, args)
	case "quit":
		return reply.MakeOkReply()
	case "info":
		state := s.opts.Sentinel
		state.mu.RLock()
		masters := len(state.masters)
		state.mu.RUnlock()
		info := "# Server\r\nredis_version:" + Version + "\r\nredis_mode:sentinel\r\n\r\n" +
			"# Sentinel\r\nsentinel_masters:" + strconv.Itoa(masters) + "\r\n"
		return reply.MakeBulkReply([]byte(info))
	case "sentinel":
		return s.execSentinel(args)
	}
	return reply.MakeErrReply("ERR unknown command '" + name + "'")
}

func noSuchMaster() resp.Reply {
	return reply.MakeErrReply("ERR No such master with that name")
}

// instanceReply 与真实哨兵一样以 field/value 交替的数组描述一个实例
func instanceReply(name, addr, flags string) resp.Reply {
	host, port := splitAddr(addr)
	return reply.MakeMultiBulkReply(utils.ToCmdLine(
		"name", name,
		"ip", host,
		"port", port,
		"flags", flags,
	))
}

// SENTINEL get-master-addr-by-name | master | masters | replicas | slaves
func (s *Server) execSentinel(args [][]byte) resp.Reply {
	if len(args) == 0 {
		return reply.MakeArgNumErrReply("sentinel")
	}
	state := s.opts.Sentinel
	sub := strings.ToLower(string(args[0]))
	if sub == "masters" {
		state.mu.RLock()
		defer state.mu.RUnlock()
		result := make([]resp.Reply, 0, len(state.masters))
		for service, m := range state.masters {
			result = append(result, instanceReply(service, m.master, "master"))
		}
		return reply.MakeArrayReply(result)
	}
	if len(args) != 2 {
		return reply.MakeArgNumErrReply("sentinel|" + sub)
	}
	service := string(args[1])
	switch sub {
	case "get-master-addr-by-name":
		addr, ok := state.Master(service)
		if !ok {
			return &reply.NullArrayReply{}
		}
		host, port := splitAddr(addr)
		return reply.MakeMultiBulkReply(utils.ToCmdLine(host, port))
	case "master":
		addr, ok := state.Master(service)
		if !ok {
			return noSuchMaster()
		}
		return instanceReply(service, addr, "master")
	case "replicas", "slaves":
		replicas, ok := state.Replicas(service)
		if !ok {
			return noSuchMaster()
		}
		result := make([]resp.Reply, 0, len(replicas))
		for _, addr := range replicas {
			result = append(result, instanceReply(addr, addr, "slave"))
		}
		return reply.MakeArrayReply(result)
	}
	return reply.MakeErrReply("ERR unknown sentinel subcommand '" + sub + "'")
}
