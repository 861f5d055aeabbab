package dict

import (
	"sort"
	"sync"
)

// SyncDict 加读写锁的 map，Keys 按字典序返回，SCAN 的游标依赖这个顺序
type SyncDict struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// MakeSyncDict 创建一个新的 SyncDict 实例
func MakeSyncDict() *SyncDict {
	return &SyncDict{m: make(map[string]interface{})}
}

func (dict *SyncDict) Get(key string) (val interface{}, exists bool) {
	dict.mu.RLock()
	defer dict.mu.RUnlock()
	val, exists = dict.m[key]
	return
}

func (dict *SyncDict) Len() int {
	dict.mu.RLock()
	defer dict.mu.RUnlock()
	return len(dict.m)
}

// Put 新增返回 1，覆盖返回 0
func (dict *SyncDict) Put(key string, val interface{}) (result int) {
	dict.mu.Lock()
	defer dict.mu.Unlock()
	_, existed := dict.m[key]
	dict.m[key] = val
	if existed {
		return 0
	}
	return 1
}

func (dict *SyncDict) PutIfAbsent(key string, val interface{}) (result int) {
	dict.mu.Lock()
	defer dict.mu.Unlock()
	if _, existed := dict.m[key]; existed {
		return 0
	}
	dict.m[key] = val
	return 1
}

func (dict *SyncDict) Remove(key string) (result int) {
	dict.mu.Lock()
	defer dict.mu.Unlock()
	if _, existed := dict.m[key]; existed {
		delete(dict.m, key)
		return 1
	}
	return 0
}

func (dict *SyncDict) Keys() []string {
	dict.mu.RLock()
	result := make([]string, 0, len(dict.m))
	for k := range dict.m {
		result = append(result, k)
	}
	dict.mu.RUnlock()
	sort.Strings(result)
	return result
}

func (dict *SyncDict) Clear() {
	dict.mu.Lock()
	dict.m = make(map[string]interface{})
	dict.mu.Unlock()
}
