package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CrawlStats 单个仓库的爬取统计
type CrawlStats struct {
	Downloaded        int     `json:"downloaded"`         // 新下载的文件数(含附件)
	AlreadyDownloaded int     `json:"already_downloaded"` // 磁盘缓存命中数
	DuplicatesSkipped int     `json:"duplicates_skipped"` // 本次会话中跳过的重复URL
	Assets            int     `json:"assets"`             // 新下载的附件数
	NonJSON           int     `json:"non_json"`           // 丢弃的非JSON响应
	Ignored           int     `json:"ignored"`            // 被忽略规则剪除的引用
	Failed            int     `json:"failed"`             // 失败节点数
	BytesWritten      int64   `json:"bytes_written"`      // 写入字节数
	Duration          float64 `json:"duration"`           // 耗时(秒)
}

// Add 累加统计
func (s *CrawlStats) Add(other CrawlStats) {
	s.Downloaded += other.Downloaded
	s.AlreadyDownloaded += other.AlreadyDownloaded
	s.DuplicatesSkipped += other.DuplicatesSkipped
	s.Assets += other.Assets
	s.NonJSON += other.NonJSON
	s.Ignored += other.Ignored
	s.Failed += other.Failed
	s.BytesWritten += other.BytesWritten
	s.Duration += other.Duration
}

// RewriteStats 链接改写统计
type RewriteStats struct {
	Rewritten       int `json:"rewritten"`        // 改写的JSON文件
	Copied          int `json:"copied"`           // 原样复制的附件
	SkippedExisting int `json:"skipped_existing"` // 输出已存在而跳过
	MissingSource   int `json:"missing_source"`   // 原始文件缺失
}

// CommentStats 评论重排统计
type CommentStats struct {
	Threads    int `json:"threads"`    // 处理的评论串
	Comments   int `json:"comments"`   // 评论总数
	Orphans    int `json:"orphans"`    // 父评论不可达的评论
	Mismatches int `json:"mismatches"` // 数量与size不一致的评论串
	Failed     int `json:"failed"`     // 处理失败的评论串
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	APIBaseURL         string        `json:"api_base_url"`         // API根地址,以 / 结尾
	WebURL             string        `json:"web_url"`              // 网站公开地址
	Timeout            time.Duration `json:"timeout"`              // 单次请求超时
	RetryDelay         time.Duration `json:"retry_delay"`          // 瞬时错误的固定重试间隔
	RateLimit          float64       `json:"rate_limit"`           // 每秒请求数, 0 表示不限
	InsecureSkipVerify bool          `json:"insecure_skip_verify"` // 跳过TLS证书验证
	ProgressInterval   time.Duration `json:"progress_interval"`    // 进度输出节流间隔
	ExtraIgnoreRules   []IgnoreRule  `json:"extra_ignore_rules"`   // 额外的忽略规则
	Backup             BackupFlags   `json:"backup"`               // 备份开关
	MinFreeDiskMB      int           `json:"min_free_disk_mb"`     // 磁盘剩余空间告警阈值
	DiskCheckEvery     int           `json:"disk_check_every"`     // 每写入N个文件检查一次磁盘
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if err := ValidateURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("API地址无效: %w", err)
	}
	if !strings.HasSuffix(c.APIBaseURL, "/") {
		return fmt.Errorf("API地址必须以 / 结尾: %s", c.APIBaseURL)
	}
	if err := ValidateURL(c.WebURL); err != nil {
		return fmt.Errorf("网站地址无效: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("请求超时必须大于0")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("重试间隔必须大于0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("请求速率不能为负数")
	}
	for i, rule := range c.ExtraIgnoreRules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("第%d条忽略规则: %w", i+1, err)
		}
	}
	return nil
}

// APIRoot 返回API主机根地址(协议+主机),如 https://api.bitbucket.org
func (c *CrawlConfig) APIRoot() string {
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return strings.TrimSuffix(c.APIBaseURL, "/")
	}
	return parsed.Scheme + "://" + parsed.Host
}
