// Package answer turns the model's terminal message into the segments sent
// to the client.
package answer

import (
	"regexp"
	"strings"
)

var (
	anyTag      = regexp.MustCompile(`<(text|sql|chart)>`)
	textThenSQL = regexp.MustCompile(`(?s)<text>(.*?)</text>\s*<sql>(.*?)</sql>`)
	textBlock   = regexp.MustCompile(`(?s)<text>(.*?)</text>`)
	chartBlock  = regexp.MustCompile(`(?s)<chart>.*?</chart>`)
)

// Resolve normalises tag nesting in a final answer:
//
//   - a string without tags is wrapped in <text>
//   - <text>X</text><sql>Y</sql> becomes <text>X<sql>Y</sql></text>
//   - <chart> blocks inside <text> are moved right after it
func Resolve(s string) string {
	if !anyTag.MatchString(s) {
		return "<text>" + s + "</text>"
	}
	s = textThenSQL.ReplaceAllString(s, "<text>$1<sql>$2</sql></text>")
	return textBlock.ReplaceAllStringFunc(s, func(block string) string {
		inner := textBlock.FindStringSubmatch(block)[1]
		charts := chartBlock.FindAllString(inner, -1)
		if len(charts) == 0 {
			return block
		}
		return "<text>" + chartBlock.ReplaceAllString(inner, "") + "</text>" + strings.Join(charts, "")
	})
}
