package config

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

// Scheme 传输方式
type Scheme string

const (
	SchemeTCP  Scheme = "tcp"
	SchemeTLS  Scheme = "tls"
	SchemeUnix Scheme = "unix"
)

// Role 节点角色
type Role string

const (
	RoleMaster  Role = "master"
	RoleSlave   Role = "slave"
	RoleUnknown Role = "unknown"
)

const DefaultPort = 6379

// Node 描述一个物理节点，构造后只有 Role 会在故障转移后被重新确定
type Node struct {
	Scheme       Scheme
	Host         string
	Port         int
	Path         string // unix socket 路径
	Alias        string
	Role         Role
	Database     int
	ReadOnly     bool
	WriteOnly    bool
	PersistentID string
}

// Addr 返回可拨号的地址
func (n *Node) Addr() string {
	if n.Scheme == SchemeUnix {
		return n.Path
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Network 返回 net.Dial 使用的网络类型
func (n *Node) Network() string {
	if n.Scheme == SchemeUnix {
		return "unix"
	}
	return "tcp"
}

// Name 优先返回别名
func (n *Node) Name() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Addr()
}

func (n *Node) String() string {
	if n.Scheme == SchemeUnix {
		return "unix://" + n.Path
	}
	return string(n.Scheme) + "://" + n.Addr()
}

// Clone 复制节点描述
func (n *Node) Clone() *Node {
	c := *n
	return &c
}

// ParseNode 解析连接字符串
//
//	scheme://host[:port][/persistent_id][?alias=..&role=..&database=..&write_only=1&read_only=1]
//	unix:///absolute/path/to/socket
//	host:port
//
// 格式错误在建立任何连接之前就返回配置错误
func ParseNode(s string) (*Node, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errs.Configf("empty connection string")
	}
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	scheme := Scheme(strings.ToLower(s[:strings.Index(s, "://")]))
	switch scheme {
	case "redis":
		scheme = SchemeTCP
	case "rediss", "ssl":
		scheme = SchemeTLS
	}
	node := &Node{Scheme: scheme, Role: RoleUnknown}

	switch scheme {
	case SchemeUnix:
		return parseUnix(s, node)
	case SchemeTCP, SchemeTLS:
	default:
		return nil, errs.Configf("unsupported scheme %q in %q", scheme, s)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, errs.Configf("malformed connection string %q: %v", s, err)
	}
	// url.Parse 已经拒绝了非数字端口
	host, port := u.Hostname(), u.Port()
	if host == "" {
		return nil, errs.Configf("missing host in %q", s)
	}
	node.Host = host
	node.Port = DefaultPort
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, errs.Configf("invalid port %q in %q", port, s)
		}
		node.Port = p
	}
	node.PersistentID = strings.Trim(u.Path, "/")
	if err := applyQuery(node, u.Query()); err != nil {
		return nil, err
	}
	return node, nil
}

func parseUnix(s string, node *Node) (*Node, error) {
	rest := s[len("unix://"):]
	query := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}
	if rest == "" || rest[0] != '/' {
		return nil, errs.Configf("unix socket path must be absolute in %q", s)
	}
	node.Path = filepath.Clean(rest)
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, errs.Configf("malformed query in %q: %v", s, err)
		}
		if err := applyQuery(node, values); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func applyQuery(node *Node, q url.Values) error {
	node.Alias = q.Get("alias")
	if role := q.Get("role"); role != "" {
		switch Role(strings.ToLower(role)) {
		case RoleMaster:
			node.Role = RoleMaster
		case RoleSlave, "replica":
			node.Role = RoleSlave
		default:
			return errs.Configf("invalid role %q", role)
		}
	}
	if db := q.Get("database"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return errs.Configf("invalid database %q", db)
		}
		node.Database = n
	}
	var err error
	if node.WriteOnly, err = parseFlag(q, "write_only"); err != nil {
		return err
	}
	if node.ReadOnly, err = parseFlag(q, "read_only"); err != nil {
		return err
	}
	return nil
}

func parseFlag(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.Configf("invalid %s flag %q", name, v)
	}
	return b, nil
}
