// Package rewriter 把原始归档中的绝对引用改写为相对链接,生成可静态托管的归档
package rewriter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/net/html"
)

// mailtoEntities 被HTML实体混淆的 "mailto:"
const mailtoEntities = "&#109;&#97;&#105;&#108;&#116;&#111;&#58;"

// Options 改写配置
type Options struct {
	RawRoot    string // 原始归档根目录
	OutputRoot string // 相对归档根目录(如 gh-pages/data)
	LinkPrefix string // 写入JSON的相对链接前缀,默认 "data"

	APIBaseURL string // 如 https://api.bitbucket.org/2.0/
	WebURL     string // 如 https://bitbucket.org

	// ArchivedRepositories 本次归档的仓库全名(owner/slug)
	ArchivedRepositories []string

	// Anchors 仓库全名 -> 归档内锚点, 为空时使用 "#!/<全名>"
	Anchors map[string]string

	// ExternalRewrites 旧基础URL -> [新归档地址, 新平台地址], 按表中顺序替换
	ExternalRewrites *orderedmap.OrderedMap[string, models.URLRewrite]

	// Progress 接收 0-100 的进度百分比
	Progress func(percent float64)
}

// Rewriter 链接改写器
type Rewriter struct {
	opts     Options
	apiRoot  string
	archived map[string]bool
	anchors  []anchor // 按名称长度降序

	bareRepoLink  *regexp.Regexp
	malformedLink *regexp.Regexp
	emailLink     *regexp.Regexp

	stats models.RewriteStats
}

type anchor struct {
	name   string
	target string
}

// New 创建链接改写器
func New(opts Options) (*Rewriter, error) {
	if opts.RawRoot == "" || opts.OutputRoot == "" {
		return nil, fmt.Errorf("原始归档目录和输出目录不能为空")
	}
	if !strings.HasSuffix(opts.APIBaseURL, "/") {
		return nil, fmt.Errorf("API地址必须以 / 结尾: %s", opts.APIBaseURL)
	}
	if opts.LinkPrefix == "" {
		opts.LinkPrefix = "data"
	}
	opts.WebURL = strings.TrimSuffix(opts.WebURL, "/")

	config := models.CrawlConfig{APIBaseURL: opts.APIBaseURL}
	apiRoot := config.APIRoot()

	r := &Rewriter{
		opts:     opts,
		apiRoot:  apiRoot,
		archived: make(map[string]bool, len(opts.ArchivedRepositories)),
		bareRepoLink: regexp.MustCompile(`(\\?)"` + regexp.QuoteMeta(opts.APIBaseURL) +
			`repositories/([^/"\\?#]+)/([^/"\\?#]+)(\\?)"`),
		malformedLink: regexp.MustCompile(`\\"(` + regexp.QuoteMeta(apiRoot) +
			`/([^"/]*?)/([^"/]*?)((\\")|(/([^"]*?))\\"))`),
		emailLink: regexp.MustCompile(`(\\"/[^"]*?(` + regexp.QuoteMeta(mailtoEntities) + `)([^"]*?)\\")`),
	}

	for _, name := range opts.ArchivedRepositories {
		r.archived[name] = true
		target := "#!/" + name
		if custom, ok := opts.Anchors[name]; ok {
			target = custom
		}
		r.anchors = append(r.anchors, anchor{name: name, target: target})
	}
	for name, target := range opts.Anchors {
		if !r.archived[name] {
			r.anchors = append(r.anchors, anchor{name: name, target: target})
		}
	}
	sort.SliceStable(r.anchors, func(i, j int) bool {
		if len(r.anchors[i].name) != len(r.anchors[j].name) {
			return len(r.anchors[i].name) > len(r.anchors[j].name)
		}
		return r.anchors[i].name < r.anchors[j].name
	})

	return r, nil
}

// Rewrite 深度优先遍历爬取树,把每个节点写入相对归档
// 输出已存在或原始文件缺失的节点会被跳过,但仍会进入其子节点
func (r *Rewriter) Rewrite(tree *models.CrawlTree) (models.RewriteStats, error) {
	r.stats = models.RewriteStats{}
	r.report(0)

	if err := r.rewriteLevel(tree.Roots, 0, 100); err != nil {
		return r.stats, err
	}

	r.report(100)
	utils.Infof("✅ 链接改写完成: 改写 %d, 复制 %d, 已存在 %d, 缺失 %d",
		r.stats.Rewritten, r.stats.Copied, r.stats.SkippedExisting, r.stats.MissingSource)
	return r.stats, nil
}

// rewriteLevel 处理同一层级的节点, share 为该层级占用的进度份额
func (r *Rewriter) rewriteLevel(nodes []*models.CrawlNode, start, share float64) error {
	if len(nodes) == 0 {
		return nil
	}
	each := share / float64(len(nodes))
	percent := start

	for _, node := range nodes {
		if err := r.rewriteNode(node); err != nil {
			return err
		}
		if err := r.rewriteLevel(node.Children, percent, each); err != nil {
			return err
		}
		percent += each
		r.report(percent)
	}
	return nil
}

// rewriteNode 改写或复制单个节点
func (r *Rewriter) rewriteNode(node *models.CrawlNode) error {
	// 重复节点的文件由首次出现的节点负责
	if node.Duplicate {
		return nil
	}

	outPath, err := r.OutputPath(node.StoragePath)
	if err != nil {
		return err
	}

	if !utils.FileExists(node.StoragePath) {
		r.stats.MissingSource++
		return nil
	}
	if utils.FileExists(outPath) {
		r.stats.SkippedExisting++
		return nil
	}

	data, err := os.ReadFile(node.StoragePath)
	if err != nil {
		return fmt.Errorf("读取原始文件失败: %w", err)
	}

	if node.Kind == models.NodeKindAsset {
		if err := utils.WriteFileAtomic(outPath, data); err != nil {
			return fmt.Errorf("复制附件失败: %w", err)
		}
		r.stats.Copied++
		return nil
	}

	rewritten, err := r.Transform(string(data), node)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(outPath, []byte(rewritten)); err != nil {
		return fmt.Errorf("写入改写文件失败: %w", err)
	}
	r.stats.Rewritten++
	return nil
}

// OutputPath 原始归档路径对应的相对归档路径
func (r *Rewriter) OutputPath(storagePath string) (string, error) {
	rel, err := filepath.Rel(r.opts.RawRoot, storagePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("文件不在原始归档目录中: %s", storagePath)
	}
	return filepath.Join(r.opts.OutputRoot, rel), nil
}

// Link 原始归档路径对应的相对链接(使用 / 分隔)
func (r *Rewriter) Link(storagePath string) (string, error) {
	rel, err := filepath.Rel(r.opts.RawRoot, storagePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("文件不在原始归档目录中: %s", storagePath)
	}
	return r.opts.LinkPrefix + "/" + filepath.ToSlash(rel), nil
}

// Transform 改写一个JSON文件的文本
func (r *Rewriter) Transform(data string, node *models.CrawlNode) (string, error) {
	for _, ref := range node.References() {
		link, err := r.Link(ref.StoragePath)
		if err != nil {
			return "", err
		}
		// JSON值, JSON中HTML的属性, markdown图片
		data = strings.ReplaceAll(data, `"`+ref.OriginalURL+`"`, `"`+link+`"`)
		data = strings.ReplaceAll(data, `\"`+ref.OriginalURL+`\"`, `\"`+link+`\"`)
		data = strings.ReplaceAll(data, `![](`+ref.OriginalURL+`)`, `![](`+link+`)`)
	}

	data = r.bareRepoLink.ReplaceAllStringFunc(data, r.fixBareRepoLink)
	data = r.malformedLink.ReplaceAllStringFunc(data, r.fixMalformedLink)
	data = r.emailLink.ReplaceAllStringFunc(data, r.fixEmailLink)

	for _, a := range r.anchors {
		data = strings.ReplaceAll(data, r.opts.WebURL+"/"+a.name, a.target)
	}

	if r.opts.ExternalRewrites != nil {
		for pair := r.opts.ExternalRewrites.Oldest(); pair != nil; pair = pair.Next() {
			data = strings.ReplaceAll(data, pair.Key, pair.Value.ArchiveBase())
		}
	}

	return data, nil
}

// fixBareRepoLink 仓库API地址: 已归档的仓库指向归档内锚点,其他仓库指向网站
func (r *Rewriter) fixBareRepoLink(match string) string {
	groups := r.bareRepoLink.FindStringSubmatch(match)
	if groups == nil || groups[1] != groups[4] {
		return match
	}
	quote := groups[1] + `"`
	name := groups[2] + "/" + groups[3]
	if r.archived[name] {
		return quote + r.anchorFor(name) + quote
	}
	return quote + r.opts.WebURL + "/" + name + quote
}

// fixMalformedLink 修正正文HTML中指向API主机的非API链接
func (r *Rewriter) fixMalformedLink(match string) string {
	groups := r.malformedLink.FindStringSubmatch(match)
	if groups == nil {
		return match
	}
	name := groups[2] + "/" + groups[3]
	if r.archived[name] {
		return `\"` + r.anchorFor(name) + groups[4]
	}
	// /2.0/ 和 /1.0/ 下的是用户有意写入的API地址,保持不变
	if !strings.Contains(match, r.apiRoot+"/2.0/") && !strings.Contains(match, r.apiRoot+"/1.0/") {
		return strings.ReplaceAll(match, r.apiRoot, r.opts.WebURL)
	}
	return match
}

// fixEmailLink 解码被实体混淆的邮件链接
func (r *Rewriter) fixEmailLink(match string) string {
	groups := r.emailLink.FindStringSubmatch(match)
	if groups == nil {
		return match
	}
	return `\"mailto:` + html.UnescapeString(groups[3]) + `\"`
}

// anchorFor 仓库的归档内锚点
func (r *Rewriter) anchorFor(name string) string {
	for _, a := range r.anchors {
		if a.name == name {
			return a.target
		}
	}
	return "#!/" + name
}

// report 输出进度
func (r *Rewriter) report(percent float64) {
	if r.opts.Progress != nil {
		r.opts.Progress(percent)
	}
}
