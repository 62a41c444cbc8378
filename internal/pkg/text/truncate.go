package text

// Truncate 按 rune 截断到 max 个字符并追加省略号；max <= 0 表示不截断。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
