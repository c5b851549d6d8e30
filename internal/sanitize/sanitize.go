// Package sanitize turns generated text into the printable ASCII form that
// is safe to embed in a transaction argument.
package sanitize

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

var punctuation = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"…", "...",
	"–", "-",
	"—", "-",
)

// Text 依次进行音译、NFKD 规范化、换行统一与标点替换，最后只保留可打印 ASCII
// 以及换行和制表符。对已经清洗过的文本再次调用结果不变。
func Text(s string) string {
	if isClean(s) {
		return s
	}
	s = punctuation.Replace(s)
	s = unidecode.Unidecode(s)
	s = norm.NFKD.String(s)
	s = punctuation.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keep(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return true
	case r < 0x20 || r >= 0x7f:
		return false
	default:
		return true
	}
}

func isClean(s string) bool {
	for i := 0; i < len(s); i++ {
		c := rune(s[i])
		if !keep(c) {
			return false
		}
	}
	return true
}
