package cluster

import (
	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
)

// Standalone 所有命令都发往同一个节点
type Standalone struct {
	conn *client.Connection
}

func NewStandalone(node *config.Node, opts *client.Options) *Standalone {
	return &Standalone{conn: client.MakeConnection(node, opts)}
}

func (s *Standalone) Mode() config.Mode {
	return config.ModeStandalone
}

func (s *Standalone) Route(cmd *command.Command) (*client.Connection, error) {
	return Connect(s.conn)
}

func (s *Standalone) Masters() ([]*client.Connection, error) {
	return []*client.Connection{s.conn}, nil
}

func (s *Standalone) Lookup(name string) (*client.Connection, error) {
	node := s.conn.Node()
	if name == node.Addr() || name == node.Name() || name == node.String() {
		return s.conn, nil
	}
	return nil, unknownNode(name)
}

func (s *Standalone) Nodes() []*client.Connection {
	return []*client.Connection{s.conn}
}

func (s *Standalone) Refresh() error {
	return nil
}

func (s *Standalone) Close() error {
	return s.conn.Close()
}
