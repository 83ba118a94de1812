package util

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// ValidateMimeType 深度校验文件 MIME 类型
// allowedTypes: 允许的 MIME 前缀或完整类型，如 "image/", "application/pdf"
func ValidateMimeType(reader io.Reader, allowedTypes []string) (string, error) {
	buffer := make([]byte, 512)
	n, err := reader.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	mimeType := http.DetectContentType(buffer[:n])

	for _, allowed := range allowedTypes {
		if strings.HasPrefix(mimeType, allowed) || mimeType == allowed {
			return mimeType, nil
		}
	}

	return mimeType, errors.New("invalid file type: " + mimeType)
}

// IsImage 检测是否为图片
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// 空白串或字面 "%20"（手机相册常见）连成一段时只折叠成一个下划线
var unsafeRuns = regexp.MustCompile(`(?:\s|%20)+`)

// SanitizeFilename 清洗上传文件名，避免字面百分号编码造成存储路径冲突。
// 幂等：SanitizeFilename(SanitizeFilename(x)) == SanitizeFilename(x)。
func SanitizeFilename(name string) string {
	return unsafeRuns.ReplaceAllString(name, "_")
}
