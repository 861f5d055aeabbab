package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	pool "github.com/jolestar/go-commons-pool/v2"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

// 持久连接注册表：进程内按持久化标识保存已经建立好的传输层连接
// 每个标识对应一个对象池，借出时先 PING 校验，对端已经断开的连接会被丢弃后重新建立
var registry = struct {
	sync.Mutex
	pools map[string]*pool.ObjectPool
}{pools: make(map[string]*pool.ObjectPool)}

const validateTimeout = time.Second

// transportFactory 实现 pool.PooledObjectFactory
type transportFactory struct {
	node *config.Node
	opts *Options
}

// MakeObject 拨号并完成握手
func (f *transportFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	t, err := dial(f.node, f.opts)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(t), nil
}

// DestroyObject 关闭底层连接
func (f *transportFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	t, ok := object.Object.(*transport)
	if !ok {
		return errors.New("type mismatch")
	}
	t.close()
	return nil
}

// ValidateObject PING 一次，对端已经断开时返回 false
func (f *transportFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	t, ok := object.Object.(*transport)
	if !ok {
		return false
	}
	_ = t.conn.SetDeadline(time.Now().Add(validateTimeout))
	defer func() { _ = t.conn.SetDeadline(time.Time{}) }()
	r, err := t.roundTrip([][]byte{[]byte("PING")})
	if err != nil {
		logger.WithNode(t.addr).Debugf("discard persistent connection: %v", err)
		return false
	}
	return !reply.IsErrorReply(r)
}

func (f *transportFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// PassivateObject 归还前检查连接状态：有未读数据时丢弃，执行过 SELECT 时切回配置的数据库
// 返回错误时对象池会销毁这条连接
func (f *transportFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	t, ok := object.Object.(*transport)
	if !ok {
		return errors.New("type mismatch")
	}
	if t.r.Buffered() > 0 {
		return fmt.Errorf("connection to %s has %d unread bytes", t.addr, t.r.Buffered())
	}
	if !t.dbChanged {
		return nil
	}
	_ = t.conn.SetDeadline(time.Now().Add(validateTimeout))
	defer func() { _ = t.conn.SetDeadline(time.Time{}) }()
	if err := t.reselect(f.node.Database); err != nil {
		return fmt.Errorf("restore database %d on %s: %w", f.node.Database, t.addr, err)
	}
	return nil
}

// registryKey 同一标识下节点、数据库、凭据、协议或 TLS 设置不同时不能共用连接
// 凭据只以摘要的形式出现在键里
func registryKey(node *config.Node, opts *Options) string {
	id := node.PersistentID
	if id == "" {
		id = opts.PersistentID
	}
	return fmt.Sprintf("%s|%s|%d|%016x", id, node.String(), node.Database, settingsDigest(opts))
}

func settingsDigest(opts *Options) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(opts.Username)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(opts.Password)
	_, _ = fmt.Fprintf(d, "\x00%d", opts.Protocol)
	if opts.TLS != nil {
		// 不同的 tls.Config 实例视为不同的设置
		_, _ = fmt.Fprintf(d, "\x00%p", opts.TLS)
	}
	return d.Sum64()
}

func persistentPool(node *config.Node, opts *Options) *pool.ObjectPool {
	key := registryKey(node, opts)
	registry.Lock()
	defer registry.Unlock()
	if p, ok := registry.pools[key]; ok {
		return p
	}
	cfg := pool.NewDefaultPoolConfig()
	cfg.MaxTotal = -1
	cfg.MaxIdle = 8
	cfg.TestOnBorrow = true
	p := pool.NewObjectPool(context.Background(), &transportFactory{node: node.Clone(), opts: opts}, cfg)
	registry.pools[key] = p
	return p
}

func borrowTransport(node *config.Node, opts *Options) (*transport, error) {
	obj, err := persistentPool(node, opts).BorrowObject(context.Background())
	if err != nil {
		return nil, err
	}
	return obj.(*transport), nil
}

func returnTransport(node *config.Node, opts *Options, t *transport) {
	p := persistentPool(node, opts)
	if err := p.ReturnObject(context.Background(), t); err != nil {
		logger.WithNode(t.addr).Debugf("return persistent connection: %v", err)
	}
}

func invalidateTransport(node *config.Node, opts *Options, t *transport) {
	p := persistentPool(node, opts)
	if err := p.InvalidateObject(context.Background(), t); err != nil {
		t.close()
	}
}

// RegistrySize 当前注册表中的持久化标识数量
func RegistrySize() int {
	registry.Lock()
	defer registry.Unlock()
	return len(registry.pools)
}

// IdleConnections 某个节点在注册表中空闲的连接数
func IdleConnections(node *config.Node, opts *Options) int {
	registry.Lock()
	p, ok := registry.pools[registryKey(node, opts)]
	registry.Unlock()
	if !ok {
		return 0
	}
	return p.GetNumIdle()
}

// CloseRegistry 进程退出时关闭所有持久连接
func CloseRegistry() {
	registry.Lock()
	pools := registry.pools
	registry.pools = make(map[string]*pool.ObjectPool)
	registry.Unlock()
	for _, p := range pools {
		p.Close(context.Background())
	}
}
