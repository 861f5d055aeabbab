package reply

import (
	"bytes"
	"strconv"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
)

var (
	nullBulkReplyBytes  = []byte("$-1\r\n")
	nullArrayReplyBytes = []byte("*-1\r\n")
	CRLF                = "\r\n"
)

// BulkReply 单条二进制安全字符串，例如 "redis" 编码为 $5\r\nredis\r\n
type BulkReply struct {
	Arg []byte
}

func (b *BulkReply) ToBytes() []byte {
	buf := make([]byte, 0, len(b.Arg)+16)
	return appendBulk(buf, b.Arg)
}

func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

// NullBulkReply 长度为 -1 的批量回复
type NullBulkReply struct{}

func (r *NullBulkReply) ToBytes() []byte {
	return nullBulkReplyBytes
}

func MakeNullBulkReply() *NullBulkReply {
	return &NullBulkReply{}
}

// MultiBulkReply 由批量字符串组成的数组，命令行也使用这种格式编码
// nil 元素编码为 $-1
type MultiBulkReply struct {
	Args [][]byte
}

func (m *MultiBulkReply) ToBytes() []byte {
	size := 16
	for _, arg := range m.Args {
		size += len(arg) + 16
	}
	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(m.Args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range m.Args {
		if arg == nil {
			buf = append(buf, nullBulkReplyBytes...)
			continue
		}
		buf = appendBulk(buf, arg)
	}
	return buf
}

func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

// ArrayReply 任意回复组成的数组，可以嵌套，例如 EXEC 和 CLUSTER SLOTS 的回复
type ArrayReply struct {
	Replies []resp.Reply
}

func (a *ArrayReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(len(a.Replies)) + CRLF)
	for _, r := range a.Replies {
		buf.Write(r.ToBytes())
	}
	return buf.Bytes()
}

func MakeArrayReply(replies []resp.Reply) *ArrayReply {
	return &ArrayReply{Replies: replies}
}

// NullArrayReply 长度为 -1 的数组，例如被 WATCH 打断的 EXEC
type NullArrayReply struct{}

func (r *NullArrayReply) ToBytes() []byte {
	return nullArrayReplyBytes
}

// EmptyMultiBulkReply 空数组
type EmptyMultiBulkReply struct{}

var emptyMultiBulkBytes = []byte("*0\r\n")

func (r *EmptyMultiBulkReply) ToBytes() []byte {
	return emptyMultiBulkBytes
}

// StatusReply 简单字符串
type StatusReply struct {
	Status string
}

func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{Status: status}
}

func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

// IntReply 整数
type IntReply struct {
	Code int64
}

func MakeIntReply(code int64) *IntReply {
	return &IntReply{Code: code}
}

func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

// ErrorReply 错误回复
type ErrorReply interface {
	Error() string
	ToBytes() []byte
}

// StandardErrReply 服务端返回的通用错误
type StandardErrReply struct {
	Status string
}

func (s *StandardErrReply) ToBytes() []byte {
	return []byte("-" + s.Status + CRLF)
}

func (s *StandardErrReply) Error() string {
	return s.Status
}

func MakeErrReply(status string) *StandardErrReply {
	return &StandardErrReply{Status: status}
}

// IsErrorReply 判断是否为错误回复
func IsErrorReply(r resp.Reply) bool {
	_, ok := r.(ErrorReply)
	return ok
}

// OkReply +OK
type OkReply struct{}

var okBytes = []byte("+OK\r\n")

func (r *OkReply) ToBytes() []byte {
	return okBytes
}

var theOkReply = new(OkReply)

func MakeOkReply() *OkReply {
	return theOkReply
}

// PongReply +PONG
type PongReply struct{}

var pongBytes = []byte("+PONG\r\n")

func (r *PongReply) ToBytes() []byte {
	return pongBytes
}

func MakePongReply() *PongReply {
	return &PongReply{}
}

// QueuedReply 事务中命令入队的确认
type QueuedReply struct{}

var queuedBytes = []byte("+QUEUED\r\n")

func (r *QueuedReply) ToBytes() []byte {
	return queuedBytes
}

func MakeQueuedReply() *QueuedReply {
	return &QueuedReply{}
}

// NoReply 阻塞命令没有数据时不向客户端写任何内容
type NoReply struct{}

func (r *NoReply) ToBytes() []byte {
	return nil
}

func appendBulk(buf []byte, arg []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(arg)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, arg...)
	return append(buf, '\r', '\n')
}
