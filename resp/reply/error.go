package reply

// 内嵌服务端固定文本的错误回复，按 redis 的前缀约定：ERR、WRONGTYPE、READONLY、NOAUTH
// 客户端据前缀对错误分类，文本需与真实 redis 一致

var (
	UnknownErr   = fixedErr("ERR unknown")
	SyntaxErr    = fixedErr("ERR syntax error")
	WrongTypeErr = fixedErr("WRONGTYPE Operation against a key holding the wrong kind of value")
	ReadOnlyErr  = fixedErr("READONLY You can't write against a read only replica.")
	NoAuthErr    = fixedErr("NOAUTH Authentication required.")
)

func fixedErr(msg string) *StandardErrReply {
	return &StandardErrReply{Status: msg}
}

func MakeArgNumErrReply(cmd string) *StandardErrReply {
	return MakeErrReply("ERR wrong number of arguments for '" + cmd + "' command")
}

func MakeSyntaxErrReply() *StandardErrReply {
	return SyntaxErr
}
