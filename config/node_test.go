package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

func TestParseNode(t *testing.T) {
	tests := []struct {
		in   string
		want Node
	}{
		{"tcp://127.0.0.1:6380", Node{Scheme: SchemeTCP, Host: "127.0.0.1", Port: 6380, Role: RoleUnknown}},
		{"localhost", Node{Scheme: SchemeTCP, Host: "localhost", Port: 6379, Role: RoleUnknown}},
		{"10.0.0.1:7000", Node{Scheme: SchemeTCP, Host: "10.0.0.1", Port: 7000, Role: RoleUnknown}},
		{"redis://cache:6379/wp", Node{Scheme: SchemeTCP, Host: "cache", Port: 6379, Role: RoleUnknown, PersistentID: "wp"}},
		{"tls://secure.example.com:6380", Node{Scheme: SchemeTLS, Host: "secure.example.com", Port: 6380, Role: RoleUnknown}},
		{"rediss://secure.example.com", Node{Scheme: SchemeTLS, Host: "secure.example.com", Port: 6379, Role: RoleUnknown}},
		{"tcp://[::1]:6379", Node{Scheme: SchemeTCP, Host: "::1", Port: 6379, Role: RoleUnknown}},
		{"unix:///var/run/redis.sock", Node{Scheme: SchemeUnix, Path: "/var/run/redis.sock", Role: RoleUnknown}},
		{
			"tcp://10.0.0.2:6379?alias=replica-1&role=slave&database=2&write_only=0&read_only=1",
			Node{Scheme: SchemeTCP, Host: "10.0.0.2", Port: 6379, Alias: "replica-1", Role: RoleSlave, Database: 2, ReadOnly: true},
		},
		{
			"tcp://10.0.0.1:6379?alias=master&role=master&write_only=true",
			Node{Scheme: SchemeTCP, Host: "10.0.0.1", Port: 6379, Alias: "master", Role: RoleMaster, WriteOnly: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			node, err := ParseNode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *node)
		})
	}
}

func TestParseNodeRejects(t *testing.T) {
	bad := []string{
		"",
		"tcp://127.0.0.1:abc",
		"tcp://127.0.0.1:70000",
		"tcp://:6379",
		"unix://relative/path.sock",
		"unix://",
		"ftp://host:21",
		"tcp://host:6379?role=leader",
		"tcp://host:6379?database=-1",
		"tcp://host:6379?write_only=maybe",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ParseNode(s)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestNodeAddr(t *testing.T) {
	node, err := ParseNode("tcp://[::1]:7000?alias=a")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:7000", node.Addr())
	assert.Equal(t, "tcp", node.Network())
	assert.Equal(t, "a", node.Name())
	assert.Equal(t, "tcp://[::1]:7000", node.String())

	sock, err := ParseNode("unix:///tmp/redis.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/redis.sock", sock.Addr())
	assert.Equal(t, "unix", sock.Network())
	assert.Equal(t, "unix:///tmp/redis.sock", sock.String())

	c := node.Clone()
	c.Role = RoleMaster
	assert.Equal(t, RoleUnknown, node.Role)
}
