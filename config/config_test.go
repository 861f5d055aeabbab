package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

func TestDefaults(t *testing.T) {
	o := Defaults()
	require.NoError(t, o.Validate())
	assert.Equal(t, ModeStandalone, o.Mode())
	assert.Equal(t, time.Second, o.ConnectTimeout())
	assert.Equal(t, time.Second, o.ReadTimeoutDuration())
	assert.Equal(t, 100*time.Millisecond, o.RetryIntervalDuration())

	node, err := o.Node()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", node.Addr())
}

func TestMode(t *testing.T) {
	o := Defaults()
	o.Servers = []string{"tcp://a:6379?role=master", "tcp://b:6379"}
	assert.Equal(t, ModeReplication, o.Mode())
	o.Cluster = []string{"a:7000"}
	assert.Equal(t, ModeCluster, o.Mode())
	o.Sentinel = []string{"s:26379"}
	o.Service = "mymaster"
	assert.Equal(t, ModeSentinel, o.Mode())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"timeout below -1", func(o *Options) { o.Timeout = -2 }},
		{"read timeout below -1", func(o *Options) { o.ReadTimeout = -1.5 }},
		{"negative retries", func(o *Options) { o.MaxRetries = -1 }},
		{"negative database", func(o *Options) { o.Database = -1 }},
		{"bad protocol", func(o *Options) { o.Protocol = 4 }},
		{"bad replica policy", func(o *Options) { o.ReplicaPolicy = "random" }},
		{"bad compression", func(o *Options) { o.Compression = "lz4" }},
		{"bad scheme", func(o *Options) { o.Scheme = "udp" }},
		{"relative unix path", func(o *Options) { o.Scheme = "unix"; o.Path = "redis.sock" }},
		{"sentinel without service", func(o *Options) { o.Sentinel = []string{"s:26379"} }},
		{"bad cluster node", func(o *Options) { o.Cluster = []string{"a:port"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Defaults()
			tt.mutate(o)
			err := o.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}

	o := Defaults()
	o.Timeout = -1
	o.ReadTimeout = 0
	require.NoError(t, o.Validate())
	assert.Equal(t, time.Duration(0), o.ConnectTimeout())
	assert.Equal(t, time.Duration(0), o.ReadTimeoutDuration())
}

func TestNodesInheritDatabase(t *testing.T) {
	o := Defaults()
	o.Database = 3
	nodes, err := o.Nodes([]string{"a:6379", "tcp://b:6379?database=5"})
	require.NoError(t, err)
	assert.Equal(t, 3, nodes[0].Database)
	assert.Equal(t, 5, nodes[1].Database)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.yaml")
	content := `
host: cache.internal
port: 6380
database: 2
timeout: 0.5
password: [wp, secret]
servers:
  - tcp://10.0.0.1:6379?role=master
  - tcp://10.0.0.2:6379?role=slave
prefix: site1
compression: zstd
ssl:
  peer_name: cache.internal
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal", o.Host)
	assert.Equal(t, 6380, o.Port)
	assert.Equal(t, 2, o.Database)
	assert.Equal(t, 500*time.Millisecond, o.ConnectTimeout())
	assert.Equal(t, "wp", o.Username)
	assert.Equal(t, "secret", o.Password)
	assert.Equal(t, ModeReplication, o.Mode())
	assert.Len(t, o.Servers, 2)
	assert.Equal(t, "site1", o.Prefix)
	assert.Equal(t, CompressionZstd, o.Compression)
	assert.Equal(t, "cache.internal", o.TLS.ServerName)
	// 未出现的键保留默认值
	assert.Equal(t, 3, o.MaxRetries)
	assert.Equal(t, 1.0, o.ReadTimeout)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WP_REDIS_HOST", "10.1.1.1")
	t.Setenv("WP_REDIS_PORT", "6390")
	t.Setenv("WP_REDIS_PASSWORD", "hunter2")
	t.Setenv("WP_REDIS_MAX_RETRIES", "1")

	o, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", o.Host)
	assert.Equal(t, 6390, o.Port)
	assert.Equal(t, "hunter2", o.Password)
	assert.Empty(t, o.Username)
	assert.Equal(t, 1, o.MaxRetries)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("WP_REDIS_TIMEOUT", "-3")
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsConfiguration(err))
}

func TestCredentials(t *testing.T) {
	u, p, err := credentials("[admin, pw]")
	require.NoError(t, err)
	assert.Equal(t, "admin", u)
	assert.Equal(t, "pw", p)

	_, _, err = credentials([]interface{}{"a", "b", "c"})
	assert.Error(t, err)
}
