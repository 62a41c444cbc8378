package jsonutil

import "strings"

const codeFence = "```"

// ExtractJSON 从模型输出中截取第一段 JSON：优先代码块，其次是首个平衡的对象或数组。
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		raw = block
	}
	objStart := strings.IndexByte(raw, '{')
	arrStart := strings.IndexByte(raw, '[')
	switch {
	case objStart == -1 && arrStart == -1:
		return "", false
	case arrStart == -1 || (objStart != -1 && objStart < arrStart):
		return balanced(raw[objStart:], '{', '}')
	default:
		return balanced(raw[arrStart:], '[', ']')
	}
}

func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 跳过 ```json 这类语言标记行
	if idx := strings.IndexByte(block, '\n'); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

// balanced 假定 s 以 open 开头，返回与之匹配的闭合片段；字符串内的括号不计数。
func balanced(s string, open, close byte) (string, bool) {
	depth := 0
	inString := false
	escape := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[:i+1]), true
			}
		}
	}
	return "", false
}
