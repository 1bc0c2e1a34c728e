package service

import (
	"html"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// commentPolicy 去除全部 HTML 标签
var commentPolicy = bluemonday.StrictPolicy()

// angleEscaper 实体还原后残留的尖括号重新转义，结果中不出现原始 < >
var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// sanitizeComment 去标签、统一换行、去首尾空白并按字符数截断
// 返回空串表示不写入意见
func sanitizeComment(raw string, maxRunes int) string {
	s := commentPolicy.Sanitize(raw)
	s = angleEscaper.Replace(html.UnescapeString(s))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSpace(s)
	return truncateRunes(s, maxRunes)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}

const maxFilenameLength = 200

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename 去路径、替换非法字符、去掉 ..，超长时保留扩展名截断
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, "..", "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		name = "document"
	}

	if utf8.RuneCountInString(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if utf8.RuneCountInString(ext) >= maxFilenameLength {
			ext = ""
		}
		base := []rune(strings.TrimSuffix(name, ext))
		keep := maxFilenameLength - utf8.RuneCountInString(ext)
		name = string(base[:keep]) + ext
	}
	return name
}
