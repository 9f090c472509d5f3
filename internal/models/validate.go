package models

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// ValidateURL 要求 http/https 绝对地址
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URL格式无效: %w", err)
	}
	switch {
	case parsed.Scheme == "":
		return fmt.Errorf("URL缺少协议(http/https): %q", rawURL)
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return fmt.Errorf("URL协议必须是http或https: %q", rawURL)
	case parsed.Host == "":
		return fmt.Errorf("URL缺少主机名: %q", rawURL)
	}
	return nil
}

// newRunID 每次运行的唯一标识
func newRunID() string {
	return uuid.NewString()
}
