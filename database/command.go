package database

import "strings"

var cmdTable = make(map[string]*cmdEntry) // 命令表

const (
	flagWrite    = 1 << iota // 修改数据，副本拒绝执行并需要同步给副本
	flagReadOnly             // 只读
)

type cmdEntry struct {
	exector ExecFunc
	arity   int
	flags   int
}

// RegisterCommand 注册命令
// arity 为正数时参数个数（含命令名）必须相等，为负数时至少为 -arity
func RegisterCommand(name string, exector ExecFunc, arity int, flags int) {
	name = strings.ToLower(name) // 命令转换为小写
	cmdTable[name] = &cmdEntry{
		exector: exector,
		arity:   arity,
		flags:   flags,
	}
}

// isWriteCommand 未注册的命令按只读处理，由 Exec 返回未知命令错误
func isWriteCommand(name string) bool {
	cmd, ok := cmdTable[strings.ToLower(name)]
	return ok && cmd.flags&flagWrite != 0
}
