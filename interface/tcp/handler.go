package tcp

import (
	"context"
	"net"
)

// Handler 处理一条 TCP 连接上的全部请求
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
	Close() error
}
