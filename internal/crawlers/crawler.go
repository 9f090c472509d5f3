package crawlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
)

// CrawlerConfig 单个仓库的爬取配置
type CrawlerConfig struct {
	Repository   models.Repository
	RawRoot      string // 原始归档根目录
	APIBaseURL   string // 以 / 结尾
	RewriteRules []models.RewriteRule
	IgnoreRules  []models.IgnoreRule

	// IssueChanges 为每个问题补充 /changes 端点(接口中没有任何地方链接到它)
	IssueChanges bool

	ProgressInterval time.Duration
	Progress         ProgressFunc
}

// NewCrawlerConfig 按仓库和全局配置生成爬取配置
func NewCrawlerConfig(repo models.Repository, rawRoot string, config models.CrawlConfig) CrawlerConfig {
	owner, slug := repo.Owner(), repo.Slug()
	ignore := DefaultIgnoreRules(owner, slug, config.Backup)
	ignore = append(ignore, ExpandIgnoreRules(config.ExtraIgnoreRules, owner, slug)...)

	return CrawlerConfig{
		Repository:       repo,
		RawRoot:          rawRoot,
		APIBaseURL:       config.APIBaseURL,
		RewriteRules:     DefaultRewriteRules(owner, slug),
		IgnoreRules:      ignore,
		IssueChanges:     config.Backup.Issues,
		ProgressInterval: config.ProgressInterval,
	}
}

// referenceHandler 处理一类引用; node 为引用所在的资源, level 为该资源所在的层级
type referenceHandler func(ctx context.Context, ref Reference, node *models.CrawlNode, level *[]*models.CrawlNode) error

// Crawler 递归爬取器
// 单线程深度优先: 每个节点在发起请求前登记到调用方传入的层级中
type Crawler struct {
	config     CrawlerConfig
	fetcher    Fetcher
	session    *SessionCache
	discoverer *LinkDiscoverer
	progress   *ProgressReporter
	disk       *DiskMonitor

	handlers     map[Capability]referenceHandler
	issuePattern *regexp.Regexp

	stats    models.CrawlStats
	failures []models.FailedNodeInfo
}

// NewCrawler 创建爬取器
// session 由调用方持有,同一次运行的多个爬取器共享它以识别重复URL
func NewCrawler(config CrawlerConfig, fetcher Fetcher, session *SessionCache, disk *DiskMonitor) *Crawler {
	if session == nil {
		session = NewSessionCache()
	}
	owner, slug := config.Repository.Owner(), config.Repository.Slug()

	c := &Crawler{
		config:     config,
		fetcher:    fetcher,
		session:    session,
		discoverer: NewLinkDiscoverer(config.APIBaseURL, owner, slug),
		progress:   NewProgressReporter(config.Repository.FullName, config.ProgressInterval, config.Progress),
		disk:       disk,
		issuePattern: regexp.MustCompile(
			`^` + regexp.QuoteMeta(fmt.Sprintf("repositories/%s/%s/issues/", owner, slug)) + `\d+$`),
		failures: make([]models.FailedNodeInfo, 0),
	}
	c.handlers = map[Capability]referenceHandler{
		CapabilityPagination: c.handlePagination,
		CapabilityAsset:      c.handleAsset,
		CapabilityEndpoint:   c.handleEndpoint,
	}
	return c
}

// Discoverer 返回引用发现器,可用于注册额外的引用模式
func (c *Crawler) Discoverer() *LinkDiscoverer {
	return c.discoverer
}

// RootURL 仓库根资源的URL
func (c *Crawler) RootURL() string {
	return c.config.APIBaseURL + "repositories/" + c.config.Repository.FullName
}

// Crawl 从根URL开始爬取,发现的节点追加到 tree.Roots
// 单个节点的失败不会中断爬取,只有上下文取消会返回错误
func (c *Crawler) Crawl(ctx context.Context, rootURL string, tree *models.CrawlTree) error {
	startTime := time.Now()
	utils.Infof("🔍 开始爬取仓库: %s", c.config.Repository.FullName)

	_, err := c.crawlResource(ctx, rootURL, &tree.Roots)

	c.stats.Duration = time.Since(startTime).Seconds()
	c.progress.Finish(c.stats)

	if err != nil {
		return fmt.Errorf("爬取仓库 %s 中断: %w", c.config.Repository.FullName, err)
	}

	utils.Infof("✅ 仓库 %s 爬取完成: 下载 %d, 已存在 %d, 重复 %d, 附件 %d, 失败 %d, 耗时 %.2f秒",
		c.config.Repository.FullName, c.stats.Downloaded, c.stats.AlreadyDownloaded,
		c.stats.DuplicatesSkipped, c.stats.Assets, c.stats.Failed, c.stats.Duration)
	return nil
}

// Stats 返回爬取统计
func (c *Crawler) Stats() models.CrawlStats {
	return c.stats
}

// Failures 返回失败节点列表
func (c *Crawler) Failures() []models.FailedNodeInfo {
	return c.failures
}

// crawlResource 登记并处理一个API资源
func (c *Crawler) crawlResource(ctx context.Context, rawURL string, level *[]*models.CrawlNode) (*models.CrawlNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	endpoint, params, err := c.splitURL(rawURL)
	if err != nil {
		c.recordFailure(rawURL, 0, "invalid_url", err)
		return nil, nil
	}

	endpoint, params = Normalize(endpoint, params, c.config.RewriteRules)
	rewrittenURL := c.config.APIBaseURL + endpoint
	if encoded := params.Encode(); encoded != "" {
		rewrittenURL += "?" + encoded
	}

	storagePath, err := ResolveStoragePath(c.config.RawRoot, endpoint, params)
	if err != nil {
		c.recordFailure(rawURL, 0, "invalid_path", err)
		return nil, nil
	}

	node := models.NewResourceNode(rawURL, rewrittenURL, storagePath)
	*level = append(*level, node)

	if !c.session.Claim(storagePath) {
		node.AlreadyProcessed = true
		node.Duplicate = true
		c.stats.DuplicatesSkipped++
		c.progress.Update(c.stats)
		return node, nil
	}

	body, cached := c.readCached(storagePath)
	if cached {
		node.AlreadyProcessed = true
		c.stats.AlreadyDownloaded++
		c.progress.Update(c.stats)
	} else {
		body, err = c.download(ctx, rewrittenURL, endpoint, storagePath, false)
		if err != nil {
			c.session.Release(storagePath)
			return node, err
		}
		if body == nil {
			// 只有已落盘的节点保持认领
			c.session.Release(storagePath)
			return node, nil
		}
	}

	return node, c.discover(ctx, node, level, body)
}

// readCached 读取已存在且完整的JSON文件
func (c *Crawler) readCached(storagePath string) ([]byte, bool) {
	data, err := os.ReadFile(storagePath)
	if err != nil {
		return nil, false
	}
	if !json.Valid(data) {
		utils.Warnf("缓存文件不完整,重新下载: %s", storagePath)
		return nil, false
	}
	return data, true
}

// download 请求URL并原子写入存储路径
// 返回nil正文表示该分支已放弃(失败或非JSON),错误只在上下文取消时返回
func (c *Crawler) download(ctx context.Context, rawURL, label, storagePath string, asset bool) ([]byte, error) {
	result, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, err
		}
		c.recordFailure(rawURL, 0, "network_error", err)
		return nil, nil
	}

	switch result.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		utils.Errorf("❌ 访问被拒绝: %s (未保存任何数据,请检查凭据和访问权限)", label)
		c.recordFailure(rawURL, result.StatusCode, "access_denied", &HTTPStatusError{StatusCode: result.StatusCode, URL: rawURL})
		return nil, nil
	case http.StatusNotFound:
		utils.Errorf("❌ API端点不存在: %s", label)
		c.recordFailure(rawURL, result.StatusCode, "not_found", &HTTPStatusError{StatusCode: result.StatusCode, URL: rawURL})
		return nil, nil
	default:
		utils.Errorf("❌ 意外的响应状态码 %d: %s", result.StatusCode, label)
		c.recordFailure(rawURL, result.StatusCode, "http_error", &HTTPStatusError{StatusCode: result.StatusCode, URL: rawURL})
		return nil, nil
	}

	if !asset && !json.Valid(result.Body) {
		utils.Debugf("非JSON响应,已忽略: %s", rawURL)
		c.stats.NonJSON++
		c.progress.Update(c.stats)
		return nil, nil
	}

	if err := utils.WriteFileAtomic(storagePath, result.Body); err != nil {
		c.recordFailure(rawURL, result.StatusCode, "write_error", err)
		return nil, nil
	}

	c.stats.Downloaded++
	if asset {
		c.stats.Assets++
	}
	c.stats.BytesWritten += int64(len(result.Body))
	c.disk.RecordWrite()
	c.progress.Update(c.stats)

	return result.Body, nil
}

// discover 按 分页, 附件, 嵌套端点 的顺序处理正文中的引用
func (c *Crawler) discover(ctx context.Context, node *models.CrawlNode, level *[]*models.CrawlNode, body []byte) error {
	refs, err := c.discoverer.Discover(body)
	if err != nil {
		utils.Warnf("解析引用失败 [%s]: %v", node.OriginalURL, err)
		return nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler, ok := c.handlers[ref.Capability]
		if !ok {
			utils.Debugf("没有处理器的引用类型: %s", ref.Capability)
			continue
		}
		if err := handler(ctx, ref, node, level); err != nil {
			return err
		}
	}
	return nil
}

// handlePagination 下一页作为同级节点登记,并通过 Continuation 链接
func (c *Crawler) handlePagination(ctx context.Context, ref Reference, node *models.CrawlNode, level *[]*models.CrawlNode) error {
	next, err := c.crawlResource(ctx, ref.URL, level)
	if next != nil {
		node.Continuation = next
	}
	return err
}

// handleAsset 下载二进制附件,附件不再继续发现引用
func (c *Crawler) handleAsset(ctx context.Context, ref Reference, node *models.CrawlNode, _ *[]*models.CrawlNode) error {
	storagePath, err := ResolveAssetPath(c.config.RawRoot, ref.URL, c.config.APIBaseURL)
	if err != nil {
		c.recordFailure(ref.URL, 0, "invalid_path", err)
		return nil
	}

	asset := models.NewAssetNode(ref.URL, storagePath)
	node.Children = append(node.Children, asset)

	if !c.session.Claim(storagePath) {
		asset.AlreadyProcessed = true
		asset.Duplicate = true
		c.stats.DuplicatesSkipped++
		c.progress.Update(c.stats)
		return nil
	}

	if utils.FileExists(storagePath) {
		asset.AlreadyProcessed = true
		c.stats.AlreadyDownloaded++
		c.progress.Update(c.stats)
		return nil
	}

	_, err = c.download(ctx, ref.URL, ref.URL, storagePath, true)
	return err
}

// handleEndpoint 处理嵌套的API端点引用
func (c *Crawler) handleEndpoint(ctx context.Context, ref Reference, node *models.CrawlNode, _ *[]*models.CrawlNode) error {
	endpoint := strings.TrimPrefix(ref.URL, c.config.APIBaseURL)

	if c.config.IssueChanges && c.issuePattern.MatchString(endpoint) {
		if _, err := c.crawlResource(ctx, ref.URL+"/changes", &node.Children); err != nil {
			return err
		}
	}

	if ShouldIgnore(endpoint, c.config.IgnoreRules) {
		c.stats.Ignored++
		return nil
	}

	_, err := c.crawlResource(ctx, ref.URL, &node.Children)
	return err
}

// splitURL 拆分为端点和查询参数
func (c *Crawler) splitURL(rawURL string) (string, url.Values, error) {
	base, rawQuery, _ := strings.Cut(rawURL, "?")
	if !strings.HasPrefix(base, c.config.APIBaseURL) {
		return "", nil, fmt.Errorf("不是API地址: %s", rawURL)
	}
	endpoint := strings.TrimPrefix(base, c.config.APIBaseURL)

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, fmt.Errorf("解析查询参数失败: %w", err)
	}
	return endpoint, params, nil
}

// recordFailure 记录失败节点
func (c *Crawler) recordFailure(rawURL string, statusCode int, errorType string, err error) {
	c.stats.Failed++
	c.failures = append(c.failures, models.FailedNodeInfo{
		URL:        rawURL,
		StatusCode: statusCode,
		ErrorType:  errorType,
		ErrorMsg:   err.Error(),
	})
	if errorType == "network_error" || errorType == "write_error" || errorType == "invalid_path" || errorType == "invalid_url" {
		utils.Warnf("节点失败 [%s]: %v", rawURL, err)
	}
	c.progress.Update(c.stats)
}
