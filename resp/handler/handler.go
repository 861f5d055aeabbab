package handler

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	databaseface "github.com/rhubarbgroup/redis-cache-sub002/interface/database"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/connection"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/parser"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

var nilResultBytes = []byte("-ERR no reply\r\n")

// RespHandler 逐条读取客户端命令交给存储引擎，回复按请求顺序写回
type RespHandler struct {
	clients sync.Map // *connection.Connection -> struct{}
	db      databaseface.Database
	closing atomic.Bool
}

func MakeHandler(db databaseface.Database) *RespHandler {
	return &RespHandler{db: db}
}

func (r *RespHandler) release(client *connection.Connection) {
	if _, loaded := r.clients.LoadAndDelete(client); !loaded {
		return
	}
	_ = client.Close()
	r.db.AfterClientClose(client)
}

// Handle 服务一条连接直到对端断开、协议出错或 ctx 结束
func (r *RespHandler) Handle(ctx context.Context, conn net.Conn) {
	if r.closing.Load() {
		_ = conn.Close()
		return
	}
	client := connection.NewConn(conn)
	r.clients.Store(client, struct{}{})
	defer r.release(client)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	entry := log.WithField("remote", client.RemoteAddr())
	p := parser.NewParser(conn)
	for {
		args, err := p.ReadCommand()
		if err != nil {
			switch {
			case errs.IsProtocol(err):
				// 之后的字节已无法对齐，回错误后断开
				_ = client.Write(reply.MakeErrReply(err.Error()).ToBytes())
				entry.WithError(err).Debug("protocol error")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				entry.WithError(err).Debug("read failed")
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		out := nilResultBytes
		if result := r.db.Exec(client, args); result != nil {
			out = result.ToBytes()
		}
		if err := client.Write(out); err != nil {
			entry.WithError(err).Debug("write failed")
			return
		}
	}
}

// Close 拒绝新连接，断开已有连接并关闭存储引擎
func (r *RespHandler) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.clients.Range(func(key, _ interface{}) bool {
		r.release(key.(*connection.Connection))
		return true
	})
	r.db.Close()
	return nil
}
