package cache

import (
	"bufio"
	"strings"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
)

// Status 报告缓存是否可用
func (c *ObjectCache) Status() Status {
	switch {
	case c.cfg.Disabled:
		return StatusDisabled
	case c.client == nil:
		return StatusUnknown
	case c.offline != nil:
		return StatusNotConnected
	case c.client.IsConnected():
		return StatusConnected
	}
	return StatusNotConnected
}

// Diagnostics 配置和连接情况的汇总，供状态页和命令行输出
type Diagnostics struct {
	Status          Status      `json:"status"`
	Client          string      `json:"client"`
	Mode            config.Mode `json:"mode"`
	Scheme          string      `json:"scheme,omitempty"`
	Host            string      `json:"host,omitempty"`
	Path            string      `json:"path,omitempty"`
	Port            int         `json:"port,omitempty"`
	ClusterNodes    []string    `json:"cluster_nodes,omitempty"`
	Shards          int         `json:"shards,omitempty"`
	Servers         []string    `json:"servers,omitempty"`
	Sentinel        []string    `json:"sentinel,omitempty"`
	Service         string      `json:"service,omitempty"`
	Database        int         `json:"database"`
	Timeout         float64     `json:"timeout"`
	ReadTimeout     float64     `json:"read_timeout"`
	RetryInterval   int         `json:"retry_interval"`
	MaxRetries      int         `json:"max_retries"`
	PasswordPresent bool        `json:"password_present"`
	Prefix          string      `json:"prefix,omitempty"`
	Compression     string      `json:"compression,omitempty"`
	RedisVersion    string      `json:"redis_version,omitempty"`
	Stats           Stats       `json:"stats"`
	Error           string      `json:"error,omitempty"`
}

// Diagnostics 收集诊断信息，连接可用时会查询服务端版本
func (c *ObjectCache) Diagnostics() *Diagnostics {
	cfg := c.cfg
	d := &Diagnostics{
		Status:          c.Status(),
		Client:          cfg.Client,
		Mode:            cfg.Mode(),
		Database:        cfg.Database,
		Timeout:         cfg.Timeout,
		ReadTimeout:     cfg.ReadTimeout,
		RetryInterval:   cfg.RetryInterval,
		MaxRetries:      cfg.MaxRetries,
		PasswordPresent: cfg.Password != "",
		Prefix:          cfg.Prefix,
		Compression:     cfg.Compression,
		Stats:           c.Stats(),
	}
	switch d.Mode {
	case config.ModeCluster:
		d.ClusterNodes = cfg.Cluster
	case config.ModeReplication:
		d.Servers = cfg.Servers
	case config.ModeSentinel:
		d.Sentinel = cfg.Sentinel
		d.Service = cfg.Service
	default:
		d.Scheme = cfg.Scheme
		if cfg.Scheme == string(config.SchemeUnix) {
			d.Path = cfg.Path
		} else {
			d.Host = cfg.Host
			d.Port = cfg.Port
		}
	}
	if c.offline != nil {
		d.Error = c.offline.Error()
	}
	if d.Status != StatusConnected {
		return d
	}

	if d.Mode == config.ModeCluster {
		if masters, err := c.client.Router().Masters(); err == nil {
			d.Shards = len(masters)
		}
	}
	version, err := c.redisVersion()
	if err != nil {
		d.Error = err.Error()
	}
	d.RedisVersion = version
	return d
}

func (c *ObjectCache) redisVersion() (string, error) {
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()
	if version != "" {
		return version, nil
	}
	info, err := c.client.InfoAll("server")
	if err != nil {
		return "", err
	}
	version = infoField(info, "redis_version")
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return version, nil
}

// infoField 从 INFO 的输出中取出一个字段
func infoField(info, name string) string {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if k, v, ok := strings.Cut(line, ":"); ok && k == name {
			return v
		}
	}
	return ""
}
