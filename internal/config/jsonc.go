package config

// StripJSONComments removes // line and /* */ block comments from
// agentmux.jsonc content so it can be parsed as plain JSON. Markers inside
// string literals, including escaped quotes, are left untouched.
func StripJSONComments(data []byte) []byte {
	const (
		scanning = iota
		inString
		inEscape
		inLineComment
		inBlockComment
	)

	out := make([]byte, 0, len(data))
	state := scanning
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch state {
		case scanning:
			switch {
			case c == '"':
				state = inString
				out = append(out, c)
			case c == '/' && i+1 < len(data) && data[i+1] == '/':
				state = inLineComment
				i++
			case c == '/' && i+1 < len(data) && data[i+1] == '*':
				state = inBlockComment
				i++
			default:
				out = append(out, c)
			}
		case inString:
			out = append(out, c)
			if c == '\\' {
				state = inEscape
			} else if c == '"' {
				state = scanning
			}
		case inEscape:
			out = append(out, c)
			state = inString
		case inLineComment:
			if c == '\n' {
				state = scanning
				out = append(out, c)
			}
		case inBlockComment:
			if c == '*' && i+1 < len(data) && data[i+1] == '/' {
				state = scanning
				i++
			}
		}
	}
	return out
}
