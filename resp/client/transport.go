package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/parser"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

const writeBufferSize = 32 << 10

// transport 一条已经完成握手的底层连接，持久连接模式下会在多个 Connection 之间复用
type transport struct {
	conn     net.Conn
	r        *parser.Parser
	w        *bufio.Writer
	addr     string
	protocol int
	// 发送过 SELECT，归还注册表前需要切回配置的数据库
	dbChanged bool
}

func newTransport(conn net.Conn, addr string) *transport {
	return &transport{
		conn:     conn,
		r:        parser.NewParser(conn),
		w:        bufio.NewWriterSize(conn, writeBufferSize),
		addr:     addr,
		protocol: 2,
	}
}

// dial 建立传输层连接并完成 HELLO/AUTH/SELECT 握手
func dial(node *config.Node, opts *Options) (*transport, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = net.DialTimeout
	}
	conn, err := dialer(node.Network(), node.Addr(), opts.ConnectTimeout)
	if err != nil {
		return nil, wrapNetError("connect", node.Addr(), err)
	}
	if node.Scheme == config.SchemeTLS {
		cfg := opts.TLS
		if cfg == nil {
			cfg = &tls.Config{ServerName: node.Host}
		} else if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = node.Host
		}
		tc := tls.Client(conn, cfg)
		if opts.ConnectTimeout > 0 {
			_ = tc.SetDeadline(time.Now().Add(opts.ConnectTimeout))
		}
		if err := tc.Handshake(); err != nil {
			_ = conn.Close()
			return nil, wrapNetError("tls handshake", node.Addr(), err)
		}
		_ = tc.SetDeadline(time.Time{})
		conn = tc
	}

	t := newTransport(conn, node.Addr())
	if err := t.handshake(node, opts); err != nil {
		t.close()
		return nil, err
	}
	t.dbChanged = false
	return t, nil
}

func (t *transport) handshake(node *config.Node, opts *Options) error {
	if opts.ConnectTimeout > 0 {
		_ = t.conn.SetDeadline(time.Now().Add(opts.ConnectTimeout))
		defer func() { _ = t.conn.SetDeadline(time.Time{}) }()
	}
	authDone := false
	if opts.Protocol == 3 {
		args := [][]byte{[]byte("HELLO"), []byte("3")}
		if opts.Password != "" {
			user := opts.Username
			if user == "" {
				user = "default"
			}
			args = append(args, []byte("AUTH"), []byte(user), []byte(opts.Password))
		}
		r, err := t.roundTrip(args)
		if err != nil {
			return err
		}
		if er, ok := r.(reply.ErrorReply); ok {
			if errs.Classify(er.Error()) == errs.KindAuthentication {
				return authError(t.addr, er.Error())
			}
			// 老版本服务端不认识 HELLO，退回 RESP2
		} else {
			t.protocol = 3
			authDone = true
		}
	}
	if opts.Password != "" && !authDone {
		args := [][]byte{[]byte("AUTH"), []byte(opts.Password)}
		if opts.Username != "" {
			args = [][]byte{[]byte("AUTH"), []byte(opts.Username), []byte(opts.Password)}
		}
		r, err := t.roundTrip(args)
		if err != nil {
			return err
		}
		if er, ok := r.(reply.ErrorReply); ok {
			return authError(t.addr, er.Error())
		}
	}
	if node.Database != 0 {
		r, err := t.roundTrip([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(node.Database))})
		if err != nil {
			return err
		}
		if er, ok := r.(reply.ErrorReply); ok {
			if errs.Classify(er.Error()) == errs.KindAuthentication {
				return authError(t.addr, er.Error())
			}
			return &errs.Error{Kind: errs.KindConfiguration, Op: "select", Node: t.addr,
				Msg: "cannot select database " + strconv.Itoa(node.Database), Err: &errs.ServerError{Msg: er.Error()}}
		}
	}
	return nil
}

func authError(addr, msg string) error {
	return &errs.Error{Kind: errs.KindAuthentication, Op: "auth", Node: addr, Msg: "authentication failed",
		Err: &errs.ServerError{Msg: msg}}
}

// writeCommands 把若干条命令写入缓冲区后一次性发送
func (t *transport) writeCommands(cmds ...[][]byte) error {
	for _, args := range cmds {
		if len(args) > 0 && strings.EqualFold(string(args[0]), "SELECT") {
			t.dbChanged = true
		}
		appendCommand(t.w, args)
	}
	return t.w.Flush()
}

func (t *transport) roundTrip(args [][]byte) (resp.Reply, error) {
	if err := t.writeCommands(args); err != nil {
		return nil, wrapNetError("write", t.addr, err)
	}
	r, err := t.r.Read()
	if err != nil {
		if errs.IsProtocol(err) {
			return nil, err
		}
		return nil, wrapNetError("read", t.addr, err)
	}
	return r, nil
}

// reselect 切回 db，失败时连接不能再复用
func (t *transport) reselect(db int) error {
	r, err := t.roundTrip([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(db))})
	if err != nil {
		return err
	}
	if er, ok := r.(reply.ErrorReply); ok {
		return &errs.ServerError{Msg: er.Error()}
	}
	t.dbChanged = false
	return nil
}

func (t *transport) close() {
	_ = t.conn.Close()
}

// appendCommand 以多条批量格式编码命令，空参数编码为 $0
func appendCommand(w *bufio.Writer, args [][]byte) {
	var num [20]byte
	_ = w.WriteByte('*')
	_, _ = w.Write(strconv.AppendInt(num[:0], int64(len(args)), 10))
	_, _ = w.WriteString("\r\n")
	for _, arg := range args {
		_ = w.WriteByte('$')
		_, _ = w.Write(strconv.AppendInt(num[:0], int64(len(arg)), 10))
		_, _ = w.WriteString("\r\n")
		_, _ = w.Write(arg)
		_, _ = w.WriteString("\r\n")
	}
}

// wrapNetError 把 IO 错误包装为连接错误，并标记是否超时
func wrapNetError(op, addr string, err error) *errs.Error {
	e := errs.Wrap(errs.KindConnection, op, addr, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		e.Timeout = true
	}
	return e
}
