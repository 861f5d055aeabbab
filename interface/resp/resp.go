package resp

// Reply 是 RESP 协议中的一条回复（或一条命令，命令本身就是多条批量回复）
type Reply interface {
	ToBytes() []byte
}

// Connection 服务端视角下的一个客户端连接
type Connection interface {
	Write([]byte) error
	GetDBIndex() int
	SelectDB(int)
	RemoteAddr() string

	// 认证状态
	Authenticated() bool
	SetAuthenticated(bool)

	// 事务状态，MULTI 之后的命令先入队，EXEC 时统一执行
	InMultiState() bool
	SetMultiState(bool)
	EnqueueCmd([][]byte)
	GetQueuedCmdLine() [][][]byte
	ClearQueuedCmds()

	// 集群 ASKING 标记，只对下一条命令有效
	Asking() bool
	SetAsking(bool)
}
