package database

import (
	"sort"
	"sync"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/crc16"
)

// ClusterTopology 集群中所有节点共享的槽位分配表
type ClusterTopology struct {
	mu        sync.RWMutex
	owners    [crc16.SlotCount]string // 槽位 -> 节点地址
	migrating map[int]string          // 槽位 -> 迁移目标，缺失的键回复 ASK
}

// NewClusterTopology 把 16384 个槽位平均分给各个节点
func NewClusterTopology(addrs ...string) *ClusterTopology {
	t := &ClusterTopology{migrating: make(map[int]string)}
	if len(addrs) == 0 {
		return t
	}
	per := crc16.SlotCount / len(addrs)
	for slot := 0; slot < crc16.SlotCount; slot++ {
		i := slot / per
		if i >= len(addrs) {
			i = len(addrs) - 1
		}
		t.owners[slot] = addrs[i]
	}
	return t
}

// Owner 槽位当前的所有者
func (t *ClusterTopology) Owner(slot int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owners[slot]
}

// SetOwner 把槽位交给另一个节点，旧节点此后回复 MOVED
func (t *ClusterTopology) SetOwner(slot int, addr string) {
	t.mu.Lock()
	t.owners[slot] = addr
	delete(t.migrating, slot)
	t.mu.Unlock()
}

// SetMigrating 标记槽位正在迁往 target，取消时 target 传空串
func (t *ClusterTopology) SetMigrating(slot int, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target == "" {
		delete(t.migrating, slot)
		return
	}
	t.migrating[slot] = target
}

// Migrating 槽位的迁移目标
func (t *ClusterTopology) Migrating(slot int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	target, ok := t.migrating[slot]
	return target, ok
}

// SlotRange CLUSTER SLOTS 中的一段连续槽位
type SlotRange struct {
	Start, End int
	Addr       string
}

// Ranges 合并连续且属于同一节点的槽位
func (t *ClusterTopology) Ranges() []SlotRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ranges []SlotRange
	for slot := 0; slot < crc16.SlotCount; slot++ {
		addr := t.owners[slot]
		if addr == "" {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1].Addr == addr && ranges[n-1].End == slot-1 {
			ranges[n-1].End = slot
			continue
		}
		ranges = append(ranges, SlotRange{Start: slot, End: slot, Addr: addr})
	}
	return ranges
}

// Nodes 拥有至少一个槽位的节点，按地址排序
func (t *ClusterTopology) Nodes() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Ranges() {
		seen[r.Addr] = struct{}{}
	}
	nodes := make([]string, 0, len(seen))
	for addr := range seen {
		nodes = append(nodes, addr)
	}
	sort.Strings(nodes)
	return nodes
}

// SentinelState 哨兵记录的主从信息，测试中可以修改它来模拟故障转移
type SentinelState struct {
	mu      sync.RWMutex
	masters map[string]*monitored
}

type monitored struct {
	master   string
	replicas []string
}

func NewSentinelState() *SentinelState {
	return &SentinelState{masters: make(map[string]*monitored)}
}

// Monitor 设置某个服务当前的主节点和副本
func (s *SentinelState) Monitor(service, master string, replicas ...string) {
	s.mu.Lock()
	s.masters[service] = &monitored{master: master, replicas: append([]string(nil), replicas...)}
	s.mu.Unlock()
}

// Master 服务当前的主节点地址
func (s *SentinelState) Master(service string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.masters[service]
	if !ok {
		return "", false
	}
	return m.master, true
}

// Replicas 服务当前的副本地址
func (s *SentinelState) Replicas(service string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.masters[service]
	if !ok {
		return nil, false
	}
	return append([]string(nil), m.replicas...), true
}
