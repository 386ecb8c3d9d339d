package vault

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// SplitFrontMatter decodes a leading YAML front-matter block.
//
// The returned offset is the byte index of the first body character: the
// byte after the newline that ends the closing delimiter line, or len(text)
// when the delimiter is the last line. Without front-matter the offset is 0
// and fields is empty. An unterminated block is not front-matter.
func SplitFrontMatter(text string) (map[string]any, int, error) {
	fields := map[string]any{}

	first, rest, more := cutLine(text)
	if !more || !isDelimiter(first) {
		return fields, 0, nil
	}

	start := len(text) - len(rest)
	pos := start
	for {
		line, next, more := cutLine(text[pos:])
		if isDelimiter(line) {
			offset := len(text) - len(next)
			if err := yaml.Unmarshal([]byte(text[start:pos]), &fields); err != nil {
				return map[string]any{}, offset, fmt.Errorf("parse front-matter: %w", err)
			}
			if fields == nil {
				fields = map[string]any{}
			}
			return fields, offset, nil
		}
		if !more {
			return fields, 0, nil
		}
		pos = len(text) - len(next)
	}
}

func isDelimiter(line string) bool {
	return strings.TrimRight(line, "\r") == frontMatterDelimiter
}

// cutLine splits off the first line. more is false when s has no newline.
func cutLine(s string) (line, rest string, more bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
