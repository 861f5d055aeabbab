// Package errs 定义客户端的错误分类
// 每个错误都带有一个 Kind，重试控制器和缓存层根据 Kind 决定重试、降级还是直接返回
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnection
	KindAuthentication
	KindReadOnly
	KindClusterRouting
	KindProtocol
	KindServer
	KindUsage
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindConfiguration:  "configuration",
	KindConnection:     "connection",
	KindAuthentication: "authentication",
	KindReadOnly:       "read-only",
	KindClusterRouting: "cluster-routing",
	KindProtocol:       "protocol",
	KindServer:         "server",
	KindUsage:          "usage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error 是客户端返回的统一错误类型
type Error struct {
	Kind    Kind
	Op      string // 出错时的操作，例如 "connect"、"read"、"GET"
	Node    string // 相关节点地址
	Msg     string
	Err     error
	Timeout bool // 仅对 KindConnection 有意义
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("redis: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String() + " error")
	}
	if e.Node != "" {
		b.WriteString(" [" + e.Node + "]")
	}
	if e.Msg != "" && e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, errs.ErrXxx) 按类别匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Node == "" && t.Kind == e.Kind
}

// 用于 errors.Is 的类别哨兵
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrReadOnly       = &Error{Kind: KindReadOnly}
	ErrClusterRouting = &Error{Kind: KindClusterRouting}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrServer         = &Error{Kind: KindServer}
	ErrUsage          = &Error{Kind: KindUsage}
)

// ErrPipelineOpen 在已有事务队列时再次打开队列
var ErrPipelineOpen = &Error{Kind: KindUsage, Msg: "a transaction is already open on this client"}

// New 创建一个指定类别的错误
func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 把底层错误包装为指定类别
func Wrap(kind Kind, op string, node string, err error) *Error {
	return &Error{Kind: kind, Op: op, Node: node, Err: err}
}

// Configf 构造配置错误
func Configf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Op: "config", Msg: fmt.Sprintf(format, args...)}
}

// KindOf 返回 err 的类别，非本包错误返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Kind()
	}
	return KindUnknown
}

func IsConfiguration(err error) bool  { return KindOf(err) == KindConfiguration }
func IsConnection(err error) bool     { return KindOf(err) == KindConnection }
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
func IsReadOnly(err error) bool       { return KindOf(err) == KindReadOnly }
func IsClusterRouting(err error) bool { return KindOf(err) == KindClusterRouting }
func IsProtocol(err error) bool       { return KindOf(err) == KindProtocol }

// IsTimeout 判断是否为超时类的连接错误
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindConnection && e.Timeout
	}
	return false
}

// IsFatal 配置错误和协议错误需要向上层大声报告，其余错误缓存层可降级为未命中
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindProtocol, KindUsage:
		return true
	}
	return false
}

// ServerError 是服务端返回的错误回复，保留原始消息
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Prefix 返回错误消息的第一个单词，例如 MOVED、WRONGTYPE
func (e *ServerError) Prefix() string {
	if i := strings.IndexByte(e.Msg, ' '); i >= 0 {
		return e.Msg[:i]
	}
	return e.Msg
}

// Kind 按前缀对服务端错误分类
func (e *ServerError) Kind() Kind {
	return Classify(e.Msg)
}

// Is 让 errors.Is(serverErr, errs.ErrReadOnly) 等按类别匹配
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t == ErrServer || t.Kind == e.Kind() && t.Op == "" && t.Msg == "" && t.Err == nil
}

// IsScriptError 脚本相关的服务端错误
func (e *ServerError) IsScriptError() bool {
	p := e.Prefix()
	return p == "NOSCRIPT" || strings.HasPrefix(e.Msg, "ERR Error compiling script") ||
		strings.HasPrefix(e.Msg, "ERR Error running script")
}

// Classify 根据服务端错误消息的前缀判断类别
func Classify(msg string) Kind {
	switch {
	case strings.HasPrefix(msg, "NOAUTH"),
		strings.HasPrefix(msg, "WRONGPASS"),
		strings.HasPrefix(msg, "ERR invalid password"),
		strings.HasPrefix(msg, "ERR invalid username-password pair"),
		strings.HasPrefix(msg, "ERR AUTH"):
		return KindAuthentication
	case strings.HasPrefix(msg, "READONLY"):
		return KindReadOnly
	case strings.HasPrefix(msg, "MOVED "), strings.HasPrefix(msg, "ASK "),
		strings.HasPrefix(msg, "CLUSTERDOWN"), strings.HasPrefix(msg, "CROSSSLOT"):
		return KindClusterRouting
	}
	return KindServer
}

// ParseRedirect 解析 MOVED/ASK 错误，返回槽位和目标地址
func ParseRedirect(msg string) (ask bool, slot int, addr string, ok bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return false, 0, "", false
	}
	switch fields[0] {
	case "MOVED":
	case "ASK":
		ask = true
	default:
		return false, 0, "", false
	}
	if _, err := fmt.Sscanf(fields[1], "%d", &slot); err != nil {
		return false, 0, "", false
	}
	return ask, slot, fields[2], true
}
