package comments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ResolveLink 把归档内的相对链接解析为站点目录下的文件路径
// 绝对URL、锚点以及越出站点目录的链接返回 false
func ResolveLink(siteRoot, link string) (string, bool) {
	if link == "" || strings.Contains(link, "://") || strings.HasPrefix(link, "#") ||
		strings.HasPrefix(link, "/") || strings.HasPrefix(link, "mailto:") {
		return "", false
	}
	path := filepath.Join(siteRoot, filepath.FromSlash(link))
	rel, err := filepath.Rel(siteRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// LoadThread 从第一页开始沿 next 链接读取整个评论串
func LoadThread(siteRoot, firstLink string) ([]Page, error) {
	var pages []Page
	visited := make(map[string]bool)

	for link := firstLink; link != ""; {
		path, ok := ResolveLink(siteRoot, link)
		if !ok {
			return nil, fmt.Errorf("评论页链接不在归档内: %s", link)
		}
		if visited[path] {
			utils.Warnf("⚠️  评论页 next 链接成环, 停止于: %s", link)
			break
		}
		visited[path] = true

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取评论页失败: %w", err)
		}
		page, err := ParsePage(path, data)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		link = page.Next()
	}

	return pages, nil
}

// SaveThread 原子地写回每一页
func SaveThread(pages []Page) error {
	for _, page := range pages {
		data, err := json.Marshal(page.Fields)
		if err != nil {
			return fmt.Errorf("序列化评论页失败 %s: %w", page.Path, err)
		}
		if err := utils.WriteFileAtomic(page.Path, data); err != nil {
			return fmt.Errorf("写入评论页失败: %w", err)
		}
	}
	return nil
}

// ReorderThread 读取、重建并写回一个评论串
func ReorderThread(siteRoot, firstLink string) (*Result, error) {
	pages, err := LoadThread(siteRoot, firstLink)
	if err != nil {
		return nil, err
	}
	result, err := Reconstruct(pages)
	if err != nil {
		return nil, err
	}
	if err := SaveThread(result.Pages); err != nil {
		return nil, err
	}
	return result, nil
}

// listing 拉取请求/提交列表页中我们关心的字段
type listing struct {
	Values []struct {
		Links struct {
			Comments struct {
				Href string `json:"href"`
			} `json:"comments"`
		} `json:"links"`
	} `json:"values"`
	Next string `json:"next"`
}

// FindThreads 从仓库文档出发, 找出拉取请求与提交的评论串首页链接
// 结果保持发现顺序并去重
func FindThreads(siteRoot, repoFile string) ([]string, error) {
	data, err := os.ReadFile(repoFile)
	if err != nil {
		return nil, fmt.Errorf("读取仓库文档失败: %w", err)
	}

	var repo struct {
		Links struct {
			PullRequests struct {
				Href string `json:"href"`
			} `json:"pullrequests"`
			Commits struct {
				Href string `json:"href"`
			} `json:"commits"`
		} `json:"links"`
	}
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("解析仓库文档失败 %s: %w", repoFile, err)
	}

	threads := orderedmap.New[string, struct{}]()
	for _, first := range []string{repo.Links.PullRequests.Href, repo.Links.Commits.Href} {
		if err := collectThreads(siteRoot, first, threads); err != nil {
			return nil, err
		}
	}

	links := make([]string, 0, threads.Len())
	for pair := threads.Oldest(); pair != nil; pair = pair.Next() {
		links = append(links, pair.Key)
	}
	return links, nil
}

// collectThreads 遍历一个列表的全部分页
func collectThreads(siteRoot, first string, threads *orderedmap.OrderedMap[string, struct{}]) error {
	visited := make(map[string]bool)

	for link := first; link != ""; {
		path, ok := ResolveLink(siteRoot, link)
		if !ok || visited[path] {
			return nil
		}
		visited[path] = true

		if !utils.FileExists(path) {
			utils.Debugf("列表页未归档, 跳过: %s", link)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取列表页失败: %w", err)
		}

		var page listing
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("解析列表页失败 %s: %w", path, err)
		}
		for _, value := range page.Values {
			href := value.Links.Comments.Href
			if _, local := ResolveLink(siteRoot, href); local {
				threads.Set(href, struct{}{})
			}
		}
		link = page.Next
	}
	return nil
}

// ReorderRepository 重排一个仓库的全部评论串
// 单个评论串失败只记录, 不影响其他评论串
func ReorderRepository(siteRoot, repoFile string) (models.CommentStats, error) {
	var stats models.CommentStats

	threads, err := FindThreads(siteRoot, repoFile)
	if err != nil {
		return stats, err
	}

	for _, link := range threads {
		if path, _ := ResolveLink(siteRoot, link); !utils.FileExists(path) {
			utils.Debugf("评论串未归档, 跳过: %s", link)
			continue
		}
		result, err := ReorderThread(siteRoot, link)
		if err != nil {
			stats.Failed++
			utils.Errorf("❌ 评论串重排失败 %s: %v", link, err)
			continue
		}
		stats.Threads++
		stats.Comments += result.Comments
		stats.Orphans += result.Orphans
		if result.Mismatched {
			stats.Mismatches++
		}
	}

	return stats, nil
}
