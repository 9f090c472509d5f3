package crawlers

import (
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	"golang.org/x/time/rate"
)

// ProgressFunc 接收进度输出
type ProgressFunc func(repository string, stats models.CrawlStats)

// ProgressReporter 节流的爬取进度输出
type ProgressReporter struct {
	repository string
	sometimes  *rate.Sometimes
	output     ProgressFunc
}

// NewProgressReporter 创建进度输出器, interval 为两次输出的最小间隔
func NewProgressReporter(repository string, interval time.Duration, output ProgressFunc) *ProgressReporter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if output == nil {
		output = logProgress
	}
	return &ProgressReporter{
		repository: repository,
		sometimes:  &rate.Sometimes{First: 1, Interval: interval},
		output:     output,
	}
}

// Update 计数变化时调用,间隔内的调用会被丢弃
func (p *ProgressReporter) Update(stats models.CrawlStats) {
	p.sometimes.Do(func() {
		p.output(p.repository, stats)
	})
}

// Finish 无条件输出最终进度
func (p *ProgressReporter) Finish(stats models.CrawlStats) {
	p.output(p.repository, stats)
}

// logProgress 默认输出到日志
func logProgress(repository string, stats models.CrawlStats) {
	utils.Infof("📥 %s: 已下载 %d 个文件 (%d 个已存在, 跳过 %d 个重复URL)",
		repository, stats.Downloaded, stats.AlreadyDownloaded, stats.DuplicatesSkipped)
}
