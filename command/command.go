package command

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
)

// Command 一次调用对应的命令，创建后不再修改
type Command struct {
	Name string   // 大写的命令名
	Args [][]byte // 完整的命令行，Args[0] 为命令名
	info *Info
}

// New 由命令名和任意参数构造命令
// 切片参数会被展开一层，所以 SADD k a b 和 SADD k []string{a, b} 等价
func New(name string, args ...interface{}) (*Command, error) {
	line, err := utils.ToCmdLine3(name, args...)
	if err != nil {
		return nil, errs.New(errs.KindUsage, strings.ToUpper(name), "%v", err)
	}
	return FromLine(line), nil
}

// FromLine 由已经编码好的命令行构造命令
func FromLine(line [][]byte) *Command {
	name := strings.ToUpper(string(line[0]))
	return &Command{Name: name, Args: line, info: Lookup(name)}
}

// Info 命令表中的属性，未注册时返回 nil
func (c *Command) Info() *Info {
	return c.info
}

// ReadOnly 是否可以发往副本
func (c *Command) ReadOnly() bool {
	return c.info != nil && c.info.has(FlagReadOnly)
}

// Retryable 连接失败后是否可以重连重试
func (c *Command) Retryable() bool {
	return c.info != nil && (c.info.has(FlagReadOnly) || c.info.has(FlagRetryable))
}

// Blocking 是否为阻塞命令
func (c *Command) Blocking() bool {
	return c.info != nil && c.info.has(FlagBlocking)
}

// Fanout 没有键、默认发往所有主节点的命令
func (c *Command) Fanout() bool {
	return c.info != nil && c.info.has(FlagFanout)
}

// Decode 回复的解码方式，有序集合范围只有带 WITHSCORES 时才解码为分数映射
func (c *Command) Decode() Decode {
	if c.info == nil {
		return Plain
	}
	// 有序集合范围命令的选项从 key 和两个边界之后开始，键名恰好是 withscores 时不算
	if c.info.Decode == ScoreMap && !c.HasOption("WITHSCORES", 4) {
		return Plain
	}
	return c.info.Decode
}

// HasOption Args[from:] 中是否出现了某个选项，不区分大小写
func (c *Command) HasOption(opt string, from int) bool {
	if from < 1 {
		from = 1
	}
	if from >= len(c.Args) {
		return false
	}
	for _, arg := range c.Args[from:] {
		if bytes.EqualFold(arg, []byte(opt)) {
			return true
		}
	}
	return false
}

// Keys 返回命令涉及的所有键
func (c *Command) Keys() []string {
	info := c.info
	if info == nil || info.FirstKey <= 0 {
		return nil
	}
	if c.Name == "EVAL" || c.Name == "EVALSHA" {
		return c.scriptKeys()
	}
	if info.FirstKey >= len(c.Args) {
		return nil
	}
	last := info.LastKey
	if last < 0 {
		last = len(c.Args) + last
	}
	if last >= len(c.Args) {
		last = len(c.Args) - 1
	}
	step := info.KeyStep
	if step <= 0 {
		step = 1
	}
	var keys []string
	for i := info.FirstKey; i <= last; i += step {
		keys = append(keys, string(c.Args[i]))
	}
	return keys
}

// Key 返回第一个键，用于路由
func (c *Command) Key() (string, bool) {
	keys := c.Keys()
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

// EVAL script numkeys key [key ...] arg [arg ...]
func (c *Command) scriptKeys() []string {
	if len(c.Args) < 3 {
		return nil
	}
	n, err := strconv.Atoi(string(c.Args[2]))
	if err != nil || n <= 0 || 3+n > len(c.Args) {
		return nil
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = string(c.Args[3+i])
	}
	return keys
}

func (c *Command) String() string {
	var b strings.Builder
	for i, arg := range c.Args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i > 0 && len(arg) > 32 {
			b.Write(arg[:32])
			b.WriteString("...")
			continue
		}
		b.Write(arg)
	}
	return b.String()
}
