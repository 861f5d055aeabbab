package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

// Mode 拓扑模式
type Mode string

const (
	ModeStandalone  Mode = "standalone"
	ModeReplication Mode = "replication"
	ModeCluster     Mode = "cluster"
	ModeSentinel    Mode = "sentinel"
)

// 副本选择策略
const (
	ReplicaRoundRobin = "round-robin"
	ReplicaHash       = "hash"
)

// 压缩算法
const (
	CompressionNone   = "none"
	CompressionZstd   = "zstd"
	CompressionBrotli = "brotli"
)

// TLSOptions TLS 连接参数
type TLSOptions struct {
	CAFile             string `mapstructure:"cafile"`
	CertFile           string `mapstructure:"local_cert"`
	KeyFile            string `mapstructure:"local_pk"`
	ServerName         string `mapstructure:"peer_name"`
	InsecureSkipVerify bool   `mapstructure:"verify_peer_disabled"`
}

// Options 客户端配置，构造时读取一次，之后不再重新读取
type Options struct {
	Client   string `mapstructure:"client"`
	Scheme   string `mapstructure:"scheme"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Path     string `mapstructure:"path"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`

	// 秒，-1 和 0 表示不设置超时
	Timeout     float64 `mapstructure:"timeout"`
	ReadTimeout float64 `mapstructure:"read_timeout"`
	// 毫秒
	RetryInterval int `mapstructure:"retry_interval"`
	MaxRetries    int `mapstructure:"max_retries"`
	MaxRedirects  int `mapstructure:"max_redirects"`
	// 2 或 3
	Protocol int `mapstructure:"protocol"`

	Persistent   bool   `mapstructure:"persistent"`
	PersistentID string `mapstructure:"persistent_id"`

	TLS TLSOptions `mapstructure:"ssl"`

	Cluster       []string `mapstructure:"cluster"`
	Servers       []string `mapstructure:"servers"`
	Sentinel      []string `mapstructure:"sentinel"`
	Service       string   `mapstructure:"service"`
	ReplicaPolicy string   `mapstructure:"replica_policy"`

	// 以下为对象缓存层的配置
	Prefix        string   `mapstructure:"prefix"`
	MaxTTL        int      `mapstructure:"maxttl"`
	GlobalGroups  []string `mapstructure:"global_groups"`
	IgnoredGroups []string `mapstructure:"ignored_groups"`
	Compression   string   `mapstructure:"compression"`
	Disabled      bool     `mapstructure:"disabled"`

	// 测试或自定义传输时替换拨号函数
	Dialer func(network, addr string, timeout time.Duration) (net.Conn, error) `mapstructure:"-"`
}

// Defaults 返回与 WordPress 插件一致的默认配置
func Defaults() *Options {
	return &Options{
		Client:        "redis-cache",
		Scheme:        string(SchemeTCP),
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		Timeout:       1,
		ReadTimeout:   1,
		RetryInterval: 100,
		MaxRetries:    3,
		MaxRedirects:  5,
		Protocol:      2,
		ReplicaPolicy: ReplicaRoundRobin,
		Compression:   CompressionNone,
	}
}

// Mode 根据配置判断拓扑模式，Sentinel 优先，其次 Cluster、Servers
func (o *Options) Mode() Mode {
	switch {
	case len(o.Sentinel) > 0:
		return ModeSentinel
	case len(o.Cluster) > 0:
		return ModeCluster
	case len(o.Servers) > 0:
		return ModeReplication
	}
	return ModeStandalone
}

// ConnectTimeout 连接超时
func (o *Options) ConnectTimeout() time.Duration {
	return seconds(o.Timeout)
}

// ReadTimeoutDuration 读超时
func (o *Options) ReadTimeoutDuration() time.Duration {
	return seconds(o.ReadTimeout)
}

// RetryIntervalDuration 两次连接尝试之间的基础间隔
func (o *Options) RetryIntervalDuration() time.Duration {
	if o.RetryInterval <= 0 {
		return 0
	}
	return time.Duration(o.RetryInterval) * time.Millisecond
}

func seconds(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// Validate 校验配置，所有问题都以配置错误返回
func (o *Options) Validate() error {
	if o.Timeout < -1 {
		return errs.Configf("invalid timeout %v, must be >= -1", o.Timeout)
	}
	if o.ReadTimeout < -1 {
		return errs.Configf("invalid read_timeout %v, must be >= -1", o.ReadTimeout)
	}
	if o.RetryInterval < 0 {
		return errs.Configf("invalid retry_interval %d", o.RetryInterval)
	}
	if o.MaxRetries < 0 {
		return errs.Configf("invalid max_retries %d", o.MaxRetries)
	}
	if o.Database < 0 {
		return errs.Configf("invalid database %d", o.Database)
	}
	if o.Protocol != 0 && o.Protocol != 2 && o.Protocol != 3 {
		return errs.Configf("invalid protocol %d, must be 2 or 3", o.Protocol)
	}
	switch o.ReplicaPolicy {
	case "", ReplicaRoundRobin, ReplicaHash:
	default:
		return errs.Configf("unknown replica_policy %q", o.ReplicaPolicy)
	}
	switch o.Compression {
	case "", CompressionNone, CompressionZstd, CompressionBrotli:
	default:
		return errs.Configf("unknown compression %q", o.Compression)
	}
	if o.Mode() == ModeSentinel && o.Service == "" {
		return errs.Configf("sentinel requires a service name")
	}
	if o.Mode() == ModeStandalone {
		if _, err := o.Node(); err != nil {
			return err
		}
	}
	for _, group := range [][]string{o.Cluster, o.Servers, o.Sentinel} {
		for _, s := range group {
			if _, err := ParseNode(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Node 单机模式下的节点
func (o *Options) Node() (*Node, error) {
	scheme := strings.ToLower(o.Scheme)
	if scheme == "" {
		scheme = string(SchemeTCP)
	}
	var s string
	switch Scheme(scheme) {
	case SchemeUnix:
		s = "unix://" + o.Path
	case SchemeTCP, SchemeTLS:
		port := o.Port
		if port == 0 {
			port = DefaultPort
		}
		s = fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(o.Host, fmt.Sprint(port)))
	default:
		return nil, errs.Configf("unsupported scheme %q", o.Scheme)
	}
	node, err := ParseNode(s)
	if err != nil {
		return nil, err
	}
	node.Database = o.Database
	node.PersistentID = o.PersistentID
	return node, nil
}

// Nodes 解析一组连接字符串，未显式指定数据库的节点使用全局数据库
func (o *Options) Nodes(list []string) ([]*Node, error) {
	nodes := make([]*Node, 0, len(list))
	for _, s := range list {
		node, err := ParseNode(s)
		if err != nil {
			return nil, err
		}
		if node.Database == 0 {
			node.Database = o.Database
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// TLSConfig 根据配置构造 tls.Config
func (o *Options) TLSConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: o.TLS.InsecureSkipVerify,
	}
	if o.TLS.ServerName != "" {
		cfg.ServerName = o.TLS.ServerName
	}
	if o.TLS.CAFile != "" {
		pem, err := os.ReadFile(o.TLS.CAFile)
		if err != nil {
			return nil, errs.Configf("read cafile: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errs.Configf("no certificates found in %s", o.TLS.CAFile)
		}
		cfg.RootCAs = pool
	}
	if o.TLS.CertFile != "" || o.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.TLS.CertFile, o.TLS.KeyFile)
		if err != nil {
			return nil, errs.Configf("load client certificate: %v", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Clone 浅拷贝配置，切片会被复制
func (o *Options) Clone() *Options {
	c := *o
	c.Cluster = append([]string(nil), o.Cluster...)
	c.Servers = append([]string(nil), o.Servers...)
	c.Sentinel = append([]string(nil), o.Sentinel...)
	c.GlobalGroups = append([]string(nil), o.GlobalGroups...)
	c.IgnoredGroups = append([]string(nil), o.IgnoredGroups...)
	return &c
}
