package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

const (
	// 单个批量字符串最大 512MB
	maxBulkLen = 512 << 20
	// 数组最大元素个数
	maxArrayLen = 1<<32 - 1
	// 按声明长度预分配的上限，超出部分随读取增长
	maxPrealloc = 1024
	// 嵌套深度上限，防止恶意数据导致栈溢出
	maxDepth = 32

	readBufferSize = 32 << 10
)

// Parser 从字节流中同步地解析 RESP 数据
// 一个 Parser 只能被一个调用方使用
type Parser struct {
	r *bufio.Reader
}

// NewParser 创建解析器
func NewParser(rd io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(rd, readBufferSize)}
}

// Reset 丢弃缓冲区中的数据并切换到新的输入
func (p *Parser) Reset(rd io.Reader) {
	p.r.Reset(rd)
}

// Buffered 缓冲区中尚未解析的字节数
func (p *Parser) Buffered() int {
	return p.r.Buffered()
}

// Read 读取一条完整的回复，数组会被递归解析
// IO 错误原样返回，格式错误返回 errs.KindProtocol 类别的错误
func (p *Parser) Read() (resp.Reply, error) {
	return p.read(0)
}

// ReadCommand 读取客户端发来的一条命令，支持多条批量格式和内联格式
func (p *Parser) ReadCommand() ([][]byte, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue // 空行
		}
		if line[0] != '*' {
			// 内联命令：PING\r\n、SET k v\r\n
			fields := bytes.Fields(line)
			if len(fields) == 0 {
				continue
			}
			args := make([][]byte, len(fields))
			for i, f := range fields {
				args[i] = append([]byte(nil), f...)
			}
			return args, nil
		}
		n, err := parseLength(line)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			continue
		}
		args := make([][]byte, 0, min(n, maxPrealloc))
		for i := int64(0); i < n; i++ {
			header, err := p.readLine()
			if err != nil {
				return nil, err
			}
			if len(header) == 0 || header[0] != '$' {
				return nil, protocolError("expected bulk string", header)
			}
			size, err := parseLength(header)
			if err != nil {
				return nil, err
			}
			if size < 0 {
				args = append(args, nil)
				continue
			}
			body, err := p.readBody(size)
			if err != nil {
				return nil, err
			}
			args = append(args, body)
		}
		return args, nil
	}
}

func (p *Parser) read(depth int) (resp.Reply, error) {
	if depth > maxDepth {
		return nil, errs.New(errs.KindProtocol, "decode", "protocol error: nesting deeper than %d", maxDepth)
	}
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, protocolError("empty line", line)
	}
	payload := line[1:]
	switch line[0] {
	case '+':
		return reply.MakeStatusReply(string(payload)), nil
	case '-':
		return reply.MakeErrReply(string(payload)), nil
	case ':':
		v, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return nil, protocolError("invalid integer", line)
		}
		return reply.MakeIntReply(v), nil
	case '$', '=', '(', ',', '!':
		return p.readScalar(line)
	case '*', '~', '>', '%':
		return p.readAggregate(line, depth)
	case '_':
		return reply.MakeNullBulkReply(), nil
	case '#':
		if len(payload) == 1 && payload[0] == 't' {
			return reply.MakeIntReply(1), nil
		}
		if len(payload) == 1 && payload[0] == 'f' {
			return reply.MakeIntReply(0), nil
		}
		return nil, protocolError("invalid boolean", line)
	}
	return nil, protocolError("unexpected type byte", line)
}

// readScalar 解析批量字符串以及 RESP3 中可以折叠为字符串的类型
func (p *Parser) readScalar(line []byte) (resp.Reply, error) {
	switch line[0] {
	case '(', ',':
		// 大整数和浮点数都以字符串形式交给调用方，由命令解码决定如何转换
		return reply.MakeBulkReply(append([]byte(nil), line[1:]...)), nil
	}
	size, err := parseLength(line)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return reply.MakeNullBulkReply(), nil
	}
	body, err := p.readBody(size)
	if err != nil {
		return nil, err
	}
	switch line[0] {
	case '!':
		return reply.MakeErrReply(string(body)), nil
	case '=':
		// 逐字字符串带有 "txt:" 这样的格式前缀
		if len(body) >= 4 && body[3] == ':' {
			body = body[4:]
		}
	}
	return reply.MakeBulkReply(body), nil
}

func (p *Parser) readAggregate(line []byte, depth int) (resp.Reply, error) {
	n, err := parseLength(line)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return &reply.NullArrayReply{}, nil
	}
	if line[0] == '%' {
		n *= 2 // map 展开为 key/value 交替的数组
	}
	if n > maxArrayLen {
		return nil, protocolError("array too long", line)
	}
	replies := make([]resp.Reply, 0, min(n, maxPrealloc))
	for i := int64(0); i < n; i++ {
		r, err := p.read(depth + 1)
		if err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return reply.MakeArrayReply(replies), nil
}

// readLine 读取一行并去掉结尾的 \r\n
func (p *Parser) readLine() ([]byte, error) {
	line, err := p.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// 超长的行，逐段拼接
		buf := append([]byte(nil), line...)
		for err == bufio.ErrBufferFull {
			line, err = p.r.ReadSlice('\n')
			buf = append(buf, line...)
		}
		line = buf
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, protocolError("line not terminated by CRLF", line)
	}
	return line[:len(line)-2], nil
}

// readBody 按长度读取批量字符串，并校验结尾的 \r\n
func (p *Parser) readBody(size int64) ([]byte, error) {
	if size > maxBulkLen {
		return nil, errs.New(errs.KindProtocol, "decode", "protocol error: bulk length %d exceeds limit", size)
	}
	msg := make([]byte, size+2)
	if _, err := io.ReadFull(p.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if msg[size] != '\r' || msg[size+1] != '\n' {
		return nil, protocolError("bulk string not terminated by CRLF", msg[size:])
	}
	return msg[:size:size], nil
}

// parseLength 解析 *n / $n 这类头部中的长度，只允许 -1 作为负数
func parseLength(line []byte) (int64, error) {
	n, err := strconv.ParseInt(string(line[1:]), 10, 64)
	if err != nil || n < -1 {
		return 0, protocolError("invalid length", line)
	}
	return n, nil
}

func protocolError(reason string, line []byte) error {
	if len(line) > 40 {
		line = line[:40]
	}
	return errs.New(errs.KindProtocol, "decode", "protocol error: %s: %q", reason, line)
}
