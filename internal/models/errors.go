package models

import "fmt"

// ValidationError 头部校验失败
type ValidationError struct {
	Field      string // "name" 或 "value"
	HeaderName string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("头部 [%s] 无效: %s", e.HeaderName, e.Reason)
	}
	return fmt.Sprintf("头部 [%s] 无效: %s (建议: %s)", e.HeaderName, e.Reason, e.Suggestion)
}

// ConfigError 配置文件 (config.yaml, headers.yaml, URL改写表) 读取或解析失败
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	if e.FilePath == "" {
		return fmt.Sprintf("配置错误: %v", e.Cause)
	}
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}
