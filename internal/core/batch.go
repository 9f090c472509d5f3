package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
)

// RepositoryJob 处理单个仓库的任务
type RepositoryJob func(ctx context.Context, repo models.Repository) (models.CrawlStats, error)

// BatchRunner 逐个处理仓库列表
type BatchRunner struct {
	batchDelay    time.Duration
	continueOnErr bool
}

// BatchResult 单个仓库的处理结果
type BatchResult struct {
	Repository  models.Repository
	Success     bool
	Error       error
	Stats       models.CrawlStats
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量处理摘要
type BatchSummary struct {
	Total         int
	SuccessCount  int
	FailCount     int
	Stats         models.CrawlStats
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchRunner 创建批量处理器, batchDelay 单位为秒
func NewBatchRunner(batchDelay int, continueOnErr bool) *BatchRunner {
	return &BatchRunner{
		batchDelay:    time.Duration(batchDelay) * time.Second,
		continueOnErr: continueOnErr,
	}
}

// Run 依次处理仓库
// 单个仓库失败时, 未设置 continueOnErr 则停止并返回错误; 上下文取消总是停止
func (br *BatchRunner) Run(ctx context.Context, repos []models.Repository, job RepositoryJob) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量处理: %d 个仓库", len(repos))

	summary := &BatchSummary{
		Total:   len(repos),
		Results: make([]BatchResult, 0, len(repos)),
	}
	startTime := time.Now()
	var runErr error

	for i, repo := range repos {
		utils.Infof("==================== [%d/%d] %s ====================", i+1, len(repos), repo.FullName)

		result := BatchResult{Repository: repo, ProcessedAt: time.Now()}
		stats, err := job(ctx, repo)
		result.Stats = stats
		result.Duration = time.Since(result.ProcessedAt).Seconds()
		summary.Stats.Add(stats)

		if err != nil {
			result.Error = err
			summary.FailCount++
			summary.Results = append(summary.Results, result)
			repoLog := utils.RepoLogger(repo.FullName)
			repoLog.Error().Err(err).Msg("❌ 仓库处理失败")

			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			if !br.continueOnErr {
				utils.Warn("批量处理中止 (--continue-on-error=false)")
				runErr = fmt.Errorf("仓库 %s 处理失败: %w", repo.FullName, err)
				break
			}
			continue
		}

		result.Success = true
		summary.SuccessCount++
		summary.Results = append(summary.Results, result)

		if i < len(repos)-1 && br.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个仓库...", br.batchDelay.Seconds())
			if err := sleepContext(ctx, br.batchDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	summary.TotalDuration = time.Since(startTime).Seconds()
	br.printSummary(summary)

	return summary, runErr
}

// sleepContext 可被取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// printSummary 打印批量处理摘要
func (br *BatchRunner) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量处理摘要")
	utils.Infof("仓库数: %d, ✅ 成功: %d, ❌ 失败: %d", summary.Total, summary.SuccessCount, summary.FailCount)
	utils.Infof("📦 下载: %d, 已存在: %d, 附件: %d, 失败节点: %d",
		summary.Stats.Downloaded, summary.Stats.AlreadyDownloaded, summary.Stats.Assets, summary.Stats.Failed)
	utils.Infof("📦 写入: %.2f MB", float64(summary.Stats.BytesWritten)/(1024*1024))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	for _, result := range summary.Results {
		if !result.Success {
			utils.Warnf("  - %s: %v", result.Repository.FullName, result.Error)
		}
	}
}
