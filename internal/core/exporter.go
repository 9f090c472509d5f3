package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/comments"
	"github.com/RecoveryAshes/bbarchive/internal/config"
	"github.com/RecoveryAshes/bbarchive/internal/crawlers"
	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/rewriter"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// IndexFilename 站点目录下的仓库索引
const IndexFilename = "repos.json"

// ExportOptions 一次导出运行的选项
type ExportOptions struct {
	Repositories    []models.Repository
	Force           bool // 清除阶段标记, 重新执行全部阶段
	ContinueOnError bool
	BatchDelay      int  // 仓库之间的等待秒数
	SkipForks       bool // 本次运行不发现也不导出fork
	ShowProgress    bool // 改写阶段显示进度条
}

// Exporter 归档导出协调器
// 阶段: fork发现 → 下载 → 链接改写 → 仓库索引 → 评论重排 → 报告
type Exporter struct {
	config  *Config
	fetcher crawlers.Fetcher
	state   *models.ProjectState
	report  *models.ArchiveReport
}

// NewExporter 创建导出器, 使用基于Colly的HTTP获取器
func NewExporter(cfg *Config, headers models.HeaderProvider) (*Exporter, error) {
	crawl := cfg.CrawlConfig()
	fetcher, err := crawlers.NewHTTPFetcher(crawlers.FetcherConfig{
		APIBaseURL:         crawl.APIBaseURL,
		Timeout:            crawl.Timeout,
		RetryDelay:         crawl.RetryDelay,
		RateLimit:          crawl.RateLimit,
		InsecureSkipVerify: crawl.InsecureSkipVerify,
	}, headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP获取器失败: %w", err)
	}
	return NewExporterWithFetcher(cfg, fetcher)
}

// NewExporterWithFetcher 使用指定获取器创建导出器
func NewExporterWithFetcher(cfg *Config, fetcher crawlers.Fetcher) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return &Exporter{config: cfg, fetcher: fetcher}, nil
}

// State 当前项目状态
func (e *Exporter) State() *models.ProjectState {
	return e.state
}

// Export 执行导出, 已完成的阶段会被跳过
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*models.ArchiveReport, error) {
	if err := e.loadState(opts); err != nil {
		return nil, err
	}
	if len(e.state.Repositories) == 0 {
		return nil, fmt.Errorf("没有需要归档的仓库")
	}

	e.report = &models.ArchiveReport{
		RunID:           e.state.RunID,
		ProjectPath:     e.config.Project.Path,
		StartTime:       time.Now(),
		RepositoryStats: make(map[string]models.CrawlStats),
		RawArchiveDir:   e.config.RawRoot(),
		SiteDir:         e.config.SiteRoot(),
		Config:          e.config.CrawlConfig(),
	}

	utils.Infof("📁 项目目录: %s (运行ID: %s)", e.config.Project.Path, e.state.RunID)

	err := e.runStages(ctx, opts)

	e.report.EndTime = time.Now()
	e.report.Duration = e.report.EndTime.Sub(e.report.StartTime).Seconds()
	for _, repo := range e.repositories(opts) {
		e.report.Repositories = append(e.report.Repositories, repo.FullName)
	}
	if e.report.Stats != (models.CrawlStats{}) {
		e.state.Stats = e.report.Stats
	}

	if saveErr := e.saveState(); saveErr != nil {
		err = errors.Join(err, saveErr)
	}
	if reportErr := utils.NewReporter(e.config.Project.Path).GenerateReport(e.report); reportErr != nil {
		utils.Warnf("⚠️  生成报告失败: %v", reportErr)
	}

	return e.report, err
}

func (e *Exporter) runStages(ctx context.Context, opts ExportOptions) error {
	if err := e.discoverForks(ctx, opts); err != nil {
		return err
	}

	repos := e.repositories(opts)
	needTree := !e.state.DownloadComplete || !e.state.RewriteComplete

	var tree *models.CrawlTree
	if needTree {
		var err error
		if tree, err = e.download(ctx, repos, opts); err != nil {
			return err
		}
	} else {
		e.skip("download")
	}

	if !e.state.RewriteComplete {
		if !e.state.DownloadComplete {
			utils.Warn("⚠️  下载未完成, 跳过链接改写 (重新运行以继续)")
			return nil
		}
		if err := e.rewrite(tree, repos, opts.ShowProgress); err != nil {
			return err
		}
	} else {
		e.skip("rewrite")
	}

	if err := e.writeIndex(repos); err != nil {
		return err
	}

	if !e.state.CommentsReordered {
		if err := e.reorderComments(ctx, repos); err != nil {
			return err
		}
	} else {
		e.skip("comments")
	}

	return nil
}

// loadState 读取或创建项目状态, 并合并本次的仓库列表
func (e *Exporter) loadState(opts ExportOptions) error {
	state, err := models.LoadProjectState(e.config.StatePath())
	switch {
	case err == nil:
		utils.Infof("📂 载入项目状态: %d 个仓库", len(state.Repositories))
	case errors.Is(err, os.ErrNotExist):
		state = models.NewProjectState(nil)
	default:
		return fmt.Errorf("读取项目状态失败: %w", err)
	}

	state.RunID = uuid.New().String()
	if opts.Force {
		utils.Info("🔄 --force: 清除所有阶段标记")
		state.Reset()
	}
	if added := state.MergeRepositories(opts.Repositories); added > 0 && len(state.Repositories) > added {
		utils.Infof("➕ 新增 %d 个仓库, 下载与改写阶段将重新执行", added)
	}

	e.state = state
	return e.saveState()
}

func (e *Exporter) saveState() error {
	if err := e.state.SaveToFile(e.config.StatePath()); err != nil {
		return fmt.Errorf("保存项目状态失败: %w", err)
	}
	return nil
}

func (e *Exporter) skip(stage string) {
	utils.Infof("⏭️  阶段已完成, 跳过: %s", stage)
	e.report.SkippedStages = append(e.report.SkippedStages, stage)
}

// forksEnabled 本次运行是否处理fork
func (e *Exporter) forksEnabled(opts ExportOptions) bool {
	return e.config.Backup.Forks && !opts.SkipForks
}

// repositories 本次运行处理的仓库
func (e *Exporter) repositories(opts ExportOptions) []models.Repository {
	if e.forksEnabled(opts) {
		return e.state.Repositories
	}
	repos := make([]models.Repository, 0, len(e.state.Repositories))
	for _, repo := range e.state.Repositories {
		if !repo.IsFork {
			repos = append(repos, repo)
		}
	}
	return repos
}

// discoverForks 递归发现fork, 任何请求失败都会中止运行
func (e *Exporter) discoverForks(ctx context.Context, opts ExportOptions) error {
	if !e.forksEnabled(opts) {
		utils.Debugf("fork导出已关闭")
		return nil
	}
	if e.state.ForksDiscovered {
		e.skip("forks")
		return nil
	}

	utils.Info("🍴 发现fork...")
	discoverer := crawlers.NewForkDiscoverer(e.fetcher, e.config.API.BaseURL)
	all, err := discoverer.Discover(ctx, e.state.Repositories)
	if err != nil {
		return fmt.Errorf("fork发现失败: %w", err)
	}

	if added := e.state.MergeRepositories(all); added > 0 {
		utils.Infof("🍴 发现 %d 个fork", added)
	}
	e.state.ForksDiscovered = true
	return e.saveState()
}

// download 逐个仓库爬取, 所有仓库共享同一个会话缓存和爬取树
func (e *Exporter) download(ctx context.Context, repos []models.Repository, opts ExportOptions) (*models.CrawlTree, error) {
	if e.state.DownloadComplete {
		utils.Info("🌲 下载已完成, 从磁盘缓存重建爬取树")
	}

	crawl := e.config.CrawlConfig()
	rawRoot := e.config.RawRoot()
	if err := os.MkdirAll(rawRoot, 0755); err != nil {
		return nil, fmt.Errorf("创建原始归档目录失败: %w", err)
	}

	disk := crawlers.NewDiskMonitor(crawlers.DiskMonitorConfig{
		Path:         rawRoot,
		MinFreeBytes: uint64(crawl.MinFreeDiskMB) * 1024 * 1024,
		CheckEvery:   crawl.DiskCheckEvery,
	})
	if crawl.MinFreeDiskMB > 0 {
		if status, err := disk.Check(); err != nil {
			utils.Warnf("⚠️  %v", err)
		} else {
			utils.Infof("💾 磁盘剩余空间: %.2f GB", float64(status.Free)/(1024*1024*1024))
		}
	}

	session := crawlers.NewSessionCache()
	tree := models.NewCrawlTree()

	job := func(ctx context.Context, repo models.Repository) (models.CrawlStats, error) {
		crawler := crawlers.NewCrawler(crawlers.NewCrawlerConfig(repo, rawRoot, crawl), e.fetcher, session, disk)
		err := crawler.Crawl(ctx, crawler.RootURL(), tree)

		stats := crawler.Stats()
		e.report.RepositoryStats[repo.FullName] = stats
		e.report.Stats.Add(stats)
		e.report.FailedNodes = append(e.report.FailedNodes, crawler.Failures()...)
		return stats, err
	}

	summary, err := NewBatchRunner(opts.BatchDelay, opts.ContinueOnError).Run(ctx, repos, job)
	if err != nil {
		return nil, err
	}
	if summary.FailCount == 0 {
		e.state.DownloadComplete = true
	}
	if err := e.saveState(); err != nil {
		return nil, err
	}
	return tree, nil
}

// rewrite 生成相对归档
func (e *Exporter) rewrite(tree *models.CrawlTree, repos []models.Repository, showProgress bool) error {
	external, err := config.LoadURLRewrites(e.config.Rewrite.URLRewriteFile)
	if err != nil {
		return err
	}

	archived := make([]string, 0, len(repos))
	for _, repo := range repos {
		archived = append(archived, repo.FullName)
	}

	opts := rewriter.Options{
		RawRoot:              e.config.RawRoot(),
		OutputRoot:           e.config.DataRoot(),
		LinkPrefix:           e.config.Project.DataDir,
		APIBaseURL:           e.config.API.BaseURL,
		WebURL:               e.config.API.WebURL,
		ArchivedRepositories: archived,
		ExternalRewrites:     external,
	}
	if showProgress {
		bar := utils.NewPercentBar("🔗 改写链接")
		opts.Progress = func(percent float64) {
			_ = bar.Set(int(percent))
		}
		defer bar.Finish()
	}

	rw, err := rewriter.New(opts)
	if err != nil {
		return err
	}

	utils.Infof("🔗 开始改写链接: %d 个节点", tree.Count())
	stats, err := rw.Rewrite(tree)
	e.report.RewriteStats = stats
	if err != nil {
		return fmt.Errorf("链接改写失败: %w", err)
	}

	e.state.RewriteComplete = true
	return e.saveState()
}

// repositoryLink 仓库根文档在站点中的相对链接
func repositoryLink(cfg *Config, repo models.Repository) string {
	return cfg.Project.DataDir + "/" + crawlers.Fingerprint("repositories/"+repo.FullName, nil)
}

// writeIndex 写出 repos.json, 键的顺序与仓库列表一致
func (e *Exporter) writeIndex(repos []models.Repository) error {
	index := orderedmap.New[string, models.RepositoryIndexEntry]()
	for _, repo := range repos {
		index.Set(repo.FullName, models.RepositoryIndexEntry{
			ProjectFile: repositoryLink(e.config, repo),
			ProjectPath: e.config.Project.DataDir + "/repositories/" + repo.FullName + "/",
			IsFork:      repo.IsFork,
		})
	}

	data, err := json.MarshalIndent(index, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化仓库索引失败: %w", err)
	}
	path := filepath.Join(e.config.SiteRoot(), IndexFilename)
	if err := utils.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("写入仓库索引失败: %w", err)
	}
	utils.Infof("📇 仓库索引已写入: %s", path)
	return nil
}

// reorderComments 重排全部仓库的评论串
func (e *Exporter) reorderComments(ctx context.Context, repos []models.Repository) error {
	stats, err := ReorderComments(ctx, e.config, repos)
	e.report.CommentStats = stats
	if err != nil {
		return err
	}
	e.state.CommentsReordered = true
	return e.saveState()
}

// ReorderComments 重排仓库的拉取请求与提交评论
// 仓库根文档不存在时跳过该仓库
func ReorderComments(ctx context.Context, cfg *Config, repos []models.Repository) (models.CommentStats, error) {
	var total models.CommentStats
	siteRoot := cfg.SiteRoot()

	utils.Info("💬 重排评论...")
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		repoFile, ok := comments.ResolveLink(siteRoot, repositoryLink(cfg, repo))
		if !ok || !utils.FileExists(repoFile) {
			utils.Warnf("⚠️  仓库文档不存在, 跳过评论重排: %s", repo.FullName)
			continue
		}

		stats, err := comments.ReorderRepository(siteRoot, repoFile)
		if err != nil {
			return total, fmt.Errorf("仓库 %s 评论重排失败: %w", repo.FullName, err)
		}
		total.Threads += stats.Threads
		total.Comments += stats.Comments
		total.Orphans += stats.Orphans
		total.Mismatches += stats.Mismatches
		total.Failed += stats.Failed
	}

	utils.Infof("✅ 评论重排完成: %d 个评论串, %d 条评论, 孤立 %d, 数量不一致 %d, 失败 %d",
		total.Threads, total.Comments, total.Orphans, total.Mismatches, total.Failed)
	return total, nil
}
