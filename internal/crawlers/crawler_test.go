package crawlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIBase = "https://api.example.org/2.0/"

type fakeResponse struct {
	status int
	body   string
}

// fakeFetcher 按URL返回预设响应,未登记的URL返回404
type fakeFetcher struct {
	responses map[string]fakeResponse
	failFirst map[string]int
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]fakeResponse),
		failFirst: make(map[string]int),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) on(rawURL string, status int, body string) {
	f.responses[rawURL] = fakeResponse{status: status, body: body}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, rawURL)
	if err := f.errs[rawURL]; err != nil {
		return nil, err
	}
	if f.failFirst[rawURL] > 0 {
		f.failFirst[rawURL]--
		return &FetchResult{StatusCode: http.StatusInternalServerError}, nil
	}
	resp, ok := f.responses[rawURL]
	if !ok {
		return &FetchResult{StatusCode: http.StatusNotFound}, nil
	}
	return &FetchResult{StatusCode: resp.status, Body: []byte(resp.body)}, nil
}

// api 把占位符 API/ 替换为测试API根地址
func api(s string) string {
	return strings.ReplaceAll(s, "API/", testAPIBase)
}

func newTestCrawler(t *testing.T, fetcher Fetcher) (*Crawler, string) {
	t.Helper()
	rawRoot := t.TempDir()
	repo := models.Repository{FullName: "acme/widget"}
	config := models.CrawlConfig{
		APIBaseURL: testAPIBase,
		Backup:     models.BackupFlags{Issues: true, PullRequests: true, CommitComments: true},
	}
	return NewCrawler(NewCrawlerConfig(repo, rawRoot, config), fetcher, NewSessionCache(), nil), rawRoot
}

func TestCrawler_CachedFileMakesNoNetworkCall(t *testing.T) {
	fetcher := newFakeFetcher()
	crawler, rawRoot := newTestCrawler(t, fetcher)

	cached := filepath.Join(rawRoot, "repositories", "acme", "widget.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0755))
	require.NoError(t, os.WriteFile(cached, []byte(`{"name":"widget"}`), 0644))

	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	assert.Empty(t, fetcher.calls)
	assert.Equal(t, 1, crawler.Stats().AlreadyDownloaded)
	assert.Equal(t, 0, crawler.Stats().Downloaded)
	require.Len(t, tree.Roots, 1)
	assert.True(t, tree.Roots[0].AlreadyProcessed)
	assert.False(t, tree.Roots[0].Duplicate)
}

func TestCrawler_RecursionPaginationAndIgnoreRules(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"links": {
			"issues": {"href": "API/repositories/acme/widget/issues"},
			"hooks": {"href": "API/repositories/acme/widget/hooks"},
			"owner": {"href": "API/repositories/someone/else"}
		}
	}`))
	fetcher.on(api("API/repositories/acme/widget/issues?page=1&pagelen=100&sort=created_on"), 200, api(`{
		"values": [{"links": {"self": {"href": "API/repositories/acme/widget/issues/1"}}}],
		"next": "API/repositories/acme/widget/issues?page=2&pagelen=100"
	}`))
	fetcher.on(api("API/repositories/acme/widget/issues?page=2&pagelen=100&sort=created_on"), 200, `{"values": []}`)
	fetcher.on(api("API/repositories/acme/widget/issues/1/changes?pagelen=100&sort=created_on"), 200, `{"values": []}`)
	fetcher.on(api("API/repositories/acme/widget/issues/1"), 200, `{"id": 1}`)

	crawler, rawRoot := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	stats := crawler.Stats()
	assert.Equal(t, 5, stats.Downloaded)
	assert.Equal(t, 2, stats.Ignored)
	assert.Equal(t, 0, stats.Failed)

	require.Len(t, tree.Roots, 1)
	root := tree.Roots[0]
	require.Len(t, root.Children, 2, "下一页应与第一页同级")

	first, second := root.Children[0], root.Children[1]
	assert.Same(t, second, first.Continuation)
	assert.Equal(t, api("API/repositories/acme/widget/issues"), first.OriginalURL)
	assert.Equal(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "issues_page=1.json"), first.StoragePath)
	assert.Equal(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "issues_page=2.json"), second.StoragePath)

	require.Len(t, first.Children, 2)
	assert.True(t, strings.HasSuffix(first.Children[0].OriginalURL, "/issues/1/changes"), "changes端点应在问题之前")
	assert.Equal(t, api("API/repositories/acme/widget/issues/1"), first.Children[1].OriginalURL)

	assert.FileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "issues", "1", "changes.json"))
	assert.FileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "issues", "1.json"))
	assert.Equal(t, 5, tree.Count())
}

func TestCrawler_DuplicateReferenceFetchedOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"a": "API/repositories/acme/widget/watchers",
		"b": "API/repositories/acme/widget/watchers?pagelen=10"
	}`))
	fetcher.on(api("API/repositories/acme/widget/watchers?page=1&pagelen=100"), 200, `{"values": []}`)
	fetcher.on(api("API/repositories/acme/widget/watchers?page=1&pagelen=10"), 200, `{"values": []}`)

	crawler, _ := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	// pagelen 不影响存储路径,第二个引用是重复的
	assert.Len(t, fetcher.calls, 2)
	assert.Equal(t, 1, crawler.Stats().DuplicatesSkipped)

	children := tree.Roots[0].Children
	require.Len(t, children, 2)
	assert.False(t, children[0].Duplicate)
	assert.True(t, children[1].Duplicate)
	assert.True(t, children[1].AlreadyProcessed)
	assert.Equal(t, children[0].StoragePath, children[1].StoragePath)
}

func TestCrawler_FailuresAreIsolated(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"missing": "API/repositories/acme/widget/missing",
		"denied": "API/repositories/acme/widget/private",
		"text": "API/repositories/acme/widget/readme",
		"ok": "API/repositories/acme/widget/components"
	}`))
	fetcher.on(api("API/repositories/acme/widget/private"), 401, `{"error": "denied"}`)
	fetcher.on(api("API/repositories/acme/widget/readme"), 200, "plain text")
	fetcher.on(api("API/repositories/acme/widget/components?page=1&pagelen=100"), 200, `{"values": []}`)

	crawler, rawRoot := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	stats := crawler.Stats()
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.NonJSON)
	assert.Equal(t, 2, stats.Downloaded)

	failures := crawler.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "not_found", failures[0].ErrorType)
	assert.Equal(t, 404, failures[0].StatusCode)
	assert.Equal(t, "access_denied", failures[1].ErrorType)

	// 失败节点仍然登记在树中,但没有文件
	assert.Len(t, tree.Roots[0].Children, 4)
	assert.NoFileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "missing.json"))
	assert.NoFileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "readme.json"))
	assert.FileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "components_page=1.json"))
}

func TestCrawler_FailedNodeDoesNotBlockLaterReference(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"first": "API/repositories/acme/widget/settings",
		"second": "API/repositories/acme/widget/settings"
	}`))
	fetcher.on(api("API/repositories/acme/widget/settings"), 200, `{"private": true}`)
	fetcher.failFirst[api("API/repositories/acme/widget/settings")] = 1

	crawler, rawRoot := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	stats := crawler.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Downloaded)
	assert.Equal(t, 0, stats.DuplicatesSkipped)
	assert.Len(t, fetcher.calls, 3)

	children := tree.Roots[0].Children
	require.Len(t, children, 2)
	assert.False(t, children[1].Duplicate, "失败节点不应占用存储路径")
	assert.FileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "settings.json"))
}

func TestCrawler_PermanentNetworkErrorIsRecorded(t *testing.T) {
	avatar := "https://secure.gravatar.com/avatar/gone"
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"avatar": "`+avatar+`",
		"ok": "API/repositories/acme/widget/settings"
	}`))
	fetcher.on(api("API/repositories/acme/widget/settings"), 200, `{}`)
	fetcher.errs[avatar] = errors.New("dial tcp: lookup secure.gravatar.com: no such host")

	crawler, _ := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	failures := crawler.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "network_error", failures[0].ErrorType)
	assert.Equal(t, avatar, failures[0].URL)
	assert.Equal(t, 2, crawler.Stats().Downloaded, "失败的附件不影响后续引用")
}

func TestCrawler_EscapedHTMLLinkResolvesToCleanEndpoint(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{
		"content": {"html": "<a href=\"API/repositories/acme/widget/issues/1\">#1</a>"},
		"issue": {"href": "API/repositories/acme/widget/issues/1"}
	}`))
	fetcher.on(api("API/repositories/acme/widget/issues/1/changes?pagelen=100&sort=created_on"), 200, `{"values": []}`)
	fetcher.on(api("API/repositories/acme/widget/issues/1"), 200, `{"id": 1}`)

	crawler, rawRoot := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	for _, call := range fetcher.calls {
		assert.NotContains(t, call, `\`)
	}
	assert.Equal(t, 0, crawler.Stats().Failed)
	assert.FileExists(t, filepath.Join(rawRoot, "repositories", "acme", "widget", "issues", "1.json"))
}

func TestCrawler_Assets(t *testing.T) {
	avatar := "https://secure.gravatar.com/avatar/abc?d=identicon"
	attachment := api("API/repositories/acme/widget/issues/1/attachments/shot.png")

	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, `{
		"avatar": "`+avatar+`",
		"again": "`+avatar+`",
		"file": "`+attachment+`"
	}`)
	fetcher.on(avatar, 200, "PNGDATA")
	fetcher.on(attachment, 200, "ATTACHMENT")

	crawler, rawRoot := newTestCrawler(t, fetcher)
	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	children := tree.Roots[0].Children
	require.Len(t, children, 3, "附件地址不应再作为端点爬取")
	for _, child := range children {
		assert.Equal(t, models.NodeKindAsset, child.Kind)
	}
	assert.True(t, children[1].Duplicate)

	avatarPath := filepath.Join(rawRoot, "secure.gravatar.com", "avatar", "abcd=identicon")
	assert.Equal(t, avatarPath, children[0].StoragePath)
	data, err := os.ReadFile(avatarPath)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	attachmentPath := filepath.Join(rawRoot, "repositories", "acme", "widget", "issues", "1", "attachments", "shot.png")
	assert.FileExists(t, attachmentPath)

	assert.Equal(t, 2, crawler.Stats().Assets)
	assert.Equal(t, 3, crawler.Stats().Downloaded)
}

func TestCrawler_BrokenCacheIsRefetched(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, `{"name": "widget"}`)

	crawler, rawRoot := newTestCrawler(t, fetcher)
	cached := filepath.Join(rawRoot, "repositories", "acme", "widget.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0755))
	require.NoError(t, os.WriteFile(cached, []byte(`{"name": "wid`), 0644))

	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	assert.Len(t, fetcher.calls, 1)
	data, err := os.ReadFile(cached)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "widget"}`, string(data))
}

func TestCrawler_CachedContentIsRediscovered(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget/versions?page=1&pagelen=100"), 200, `{"values": []}`)

	crawler, rawRoot := newTestCrawler(t, fetcher)
	cached := filepath.Join(rawRoot, "repositories", "acme", "widget.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0755))
	require.NoError(t, os.WriteFile(cached, []byte(api(`{"v": "API/repositories/acme/widget/versions"}`)), 0644))

	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	assert.Equal(t, []string{api("API/repositories/acme/widget/versions?page=1&pagelen=100")}, fetcher.calls)
	require.Len(t, tree.Roots[0].Children, 1)
}

func TestCrawler_IssueChangesDisabledWithoutIssueBackup(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on(api("API/repositories/acme/widget"), 200, api(`{"i": "API/repositories/acme/widget/issues/7"}`))

	rawRoot := t.TempDir()
	config := models.CrawlConfig{
		APIBaseURL: testAPIBase,
		Backup:     models.BackupFlags{Issues: false, PullRequests: true},
	}
	crawler := NewCrawler(NewCrawlerConfig(models.Repository{FullName: "acme/widget"}, rawRoot, config),
		fetcher, nil, nil)

	tree := models.NewCrawlTree()
	require.NoError(t, crawler.Crawl(context.Background(), crawler.RootURL(), tree))

	assert.Len(t, fetcher.calls, 1)
	assert.Empty(t, tree.Roots[0].Children)
	assert.Equal(t, 1, crawler.Stats().Ignored)
}

func TestCrawler_CancelledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	crawler, _ := newTestCrawler(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := crawler.Crawl(ctx, crawler.RootURL(), models.NewCrawlTree())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, fetcher.calls)
}
