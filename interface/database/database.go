package database

import "github.com/rhubarbgroup/redis-cache-sub002/interface/resp"

// CmdLine 一条命令的全部参数，第一个是命令名
type CmdLine = [][]byte

// Database 是 RESP 处理器背后的存储引擎
// Exec 必须对每条命令恰好返回一个回复，AfterClientClose 在连接断开后调用一次
type Database interface {
	Exec(client resp.Connection, args CmdLine) resp.Reply
	AfterClientClose(client resp.Connection)
	Close()
}

// DataEntity 键对应的值，Data 为 []byte、*List、Hash、Set 或 *ZSet 之一
type DataEntity struct {
	Data interface{}
}
