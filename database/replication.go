package database

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

const feedBufferSize = 1 << 16

type payload struct {
	cmdLine CmdLine
	dbIndex int
}

// replicationFeed 把主节点上执行成功的写命令异步地回放到副本
type replicationFeed struct {
	feedChan chan *payload

	mu       sync.Mutex
	replicas []*Server

	// 尚未回放完成的命令数
	pending sync.WaitGroup
	closed  chan struct{}
}

func newReplicationFeed() *replicationFeed {
	f := &replicationFeed{
		feedChan: make(chan *payload, feedBufferSize),
		closed:   make(chan struct{}),
	}
	go func() {
		f.handleFeed()
	}()
	return f
}

func (f *replicationFeed) attach(replica *Server) {
	f.mu.Lock()
	f.replicas = append(f.replicas, replica)
	f.mu.Unlock()
}

func (f *replicationFeed) detach(replica *Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.replicas {
		if r == replica {
			f.replicas = append(f.replicas[:i], f.replicas[i+1:]...)
			return
		}
	}
}

// addrs 已连接副本的地址
func (f *replicationFeed) addrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	addrs := make([]string, len(f.replicas))
	for i, r := range f.replicas {
		addrs[i] = r.Addr()
	}
	return addrs
}

func (f *replicationFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replicas)
}

// add 命令行会被复制一份，主副本之间不共享底层数组
func (f *replicationFeed) add(dbIndex int, cmdLine CmdLine) {
	if f.count() == 0 {
		return
	}
	line := make(CmdLine, len(cmdLine))
	for i, arg := range cmdLine {
		line[i] = append([]byte(nil), arg...)
	}
	f.pending.Add(1)
	select {
	case f.feedChan <- &payload{cmdLine: line, dbIndex: dbIndex}:
	case <-f.closed:
		f.pending.Done()
	}
}

func (f *replicationFeed) handleFeed() {
	for {
		select {
		case p := <-f.feedChan:
			f.mu.Lock()
			replicas := append([]*Server(nil), f.replicas...)
			f.mu.Unlock()
			for _, r := range replicas {
				if rep := r.applyReplicated(p.dbIndex, p.cmdLine); reply.IsErrorReply(rep) {
					log.WithField("replica", r.Addr()).Errorf("replicate %s: %s", p.cmdLine[0], rep.ToBytes())
				}
			}
			f.pending.Done()
		case <-f.closed:
			return
		}
	}
}

// wait 等待已经写入的命令全部回放完成
func (f *replicationFeed) wait() {
	f.pending.Wait()
}

func (f *replicationFeed) close() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
}
