package dict

// Dict 是数据库的键空间，值统一为 interface{}
// Put 系列返回新增的键数，Remove 返回删除的键数
type Dict interface {
	Get(key string) (val interface{}, exists bool)
	Len() int
	Put(key string, val interface{}) (result int)
	PutIfAbsent(key string, val interface{}) (result int)
	Remove(key string) (result int)
	// Keys 按字典序返回快照
	Keys() []string
	Clear()
}
