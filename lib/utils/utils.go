package utils

import (
	"fmt"
	"strconv"
)

// ToCmdLine 把字符串参数转换为命令行
func ToCmdLine(cmd ...string) [][]byte {
	args := make([][]byte, len(cmd))
	for i, s := range cmd {
		args[i] = []byte(s)
	}
	return args
}

// ToCmdLine2 命令名 + 已经是字节形式的参数
func ToCmdLine2(commandName string, args ...[]byte) [][]byte {
	result := make([][]byte, len(args)+1)
	result[0] = []byte(commandName)
	for i, s := range args {
		result[i+1] = s
	}
	return result
}

// ToCmdLine3 命令名 + 任意类型参数，切片参数会被展开
// 因此 SADD key a b c 与 SADD key []string{a, b, c} 生成相同的命令行
func ToCmdLine3(commandName string, args ...interface{}) ([][]byte, error) {
	flat := Flatten(args...)
	result := make([][]byte, 0, len(flat)+1)
	result = append(result, []byte(commandName))
	for _, a := range flat {
		b, err := FormatArg(a)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, nil
}

// Flatten 展开一层切片参数
func Flatten(args ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case []string:
			for _, s := range v {
				out = append(out, s)
			}
		case []interface{}:
			out = append(out, v...)
		case [][]byte:
			for _, b := range v {
				out = append(out, b)
			}
		case []int:
			for _, n := range v {
				out = append(out, n)
			}
		case []int64:
			for _, n := range v {
				out = append(out, n)
			}
		case []float64:
			for _, f := range v {
				out = append(out, f)
			}
		default:
			out = append(out, a)
		}
	}
	return out
}

// FormatArg 把单个参数转换为二进制安全的字节串
func FormatArg(arg interface{}) ([]byte, error) {
	switch v := arg.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), nil
	case float64:
		return FormatFloat(v), nil
	case bool:
		if v {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case nil:
		return []byte{}, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	return nil, fmt.Errorf("unsupported argument type %T", arg)
}

// FormatFloat 格式化分数，无穷大使用 Redis 的 +inf/-inf 写法
func FormatFloat(f float64) []byte {
	switch {
	case f > 1.7976931348623157e308:
		return []byte("+inf")
	case f < -1.7976931348623157e308:
		return []byte("-inf")
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64)
}
