package offline

import "strings"

// separatorReplacer 把 URL 与 Windows 路径分隔符统一替换为下划线。
var separatorReplacer = strings.NewReplacer("/", "_", "\\", "_")

// SanitizeKey 将远端 asset 路径转换为单层文件名，例如
// "course/lesson1.mp4" → "course_lesson1.mp4"。纯函数，不访问文件系统。
//
// 不同 key 仍可能映射到同一文件名（"a/b" 与 "a_b"），这里不做冲突处理。
func SanitizeKey(key string) string {
	return separatorReplacer.Replace(key)
}

// fileNameFor 在 SanitizeKey 基础上拒绝无法作为文件名使用的结果。
func fileNameFor(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	name := SanitizeKey(key)
	switch name {
	case "", ".", "..":
		return "", ErrInvalidKey
	}
	return name, nil
}
