package models

import (
	"encoding/json"
	"time"
)

// ArchiveReport 归档运行报告
type ArchiveReport struct {
	// 运行信息
	RunID        string   `json:"run_id"`
	Repositories []string `json:"repositories"`
	ProjectPath  string   `json:"project_path"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	// 统计信息
	Stats           CrawlStats            `json:"stats"`
	RepositoryStats map[string]CrawlStats `json:"repository_stats"`
	RewriteStats    RewriteStats          `json:"rewrite_stats"`
	CommentStats    CommentStats          `json:"comment_stats"`
	FailedNodes     []FailedNodeInfo      `json:"failed_nodes"`
	SkippedStages   []string              `json:"skipped_stages,omitempty"`

	// 输出路径
	RawArchiveDir string `json:"raw_archive_dir"`
	SiteDir       string `json:"site_dir"`

	// 配置快照
	Config CrawlConfig `json:"config"`
}

// FailedNodeInfo 失败节点信息
type FailedNodeInfo struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	ErrorType  string `json:"error_type"` // access_denied, not_found, http_error, network_error, write_error
	ErrorMsg   string `json:"error_msg"`
}

// ToJSON 序列化为JSON
func (r *ArchiveReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *ArchiveReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
