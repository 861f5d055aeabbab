// Package wildcard 实现 KEYS / SCAN MATCH 使用的 glob 匹配
package wildcard

import (
	"regexp"
	"strings"
)

// Pattern 编译后的 glob 模式
type Pattern struct {
	re *regexp.Regexp
}

// CompilePattern 支持 * ? [abc] [^a] [a-z] 和反斜杠转义
func CompilePattern(src string) (*Pattern, error) {
	var b strings.Builder
	b.WriteString("^")
	inClass := false
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case ch == '\\' && i+1 < len(src):
			i++
			b.WriteString(regexp.QuoteMeta(string(src[i])))
		case inClass:
			if ch == ']' {
				inClass = false
			}
			b.WriteByte(ch)
		case ch == '*':
			b.WriteString("(?s:.*)")
		case ch == '?':
			b.WriteString("(?s:.)")
		case ch == '[':
			inClass = true
			b.WriteByte('[')
			if i+1 < len(src) && src[i+1] == '^' {
				b.WriteByte('^')
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	if inClass {
		b.WriteByte(']')
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re}, nil
}

// IsMatch 判断字符串是否匹配
func (p *Pattern) IsMatch(s string) bool {
	return p.re.MatchString(s)
}
