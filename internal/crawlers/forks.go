package crawlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
)

// forkPage forks 列表的一页
type forkPage struct {
	Values []forkValue `json:"values"`
	Next   string      `json:"next"`
}

type forkValue struct {
	FullName string `json:"full_name"`
	Links    struct {
		Forks struct {
			Href string `json:"href"`
		} `json:"forks"`
	} `json:"links"`
}

// ForkDiscoverer 递归发现仓库的所有fork
type ForkDiscoverer struct {
	fetcher Fetcher
	apiBase string
}

// NewForkDiscoverer 创建fork发现器
func NewForkDiscoverer(fetcher Fetcher, apiBase string) *ForkDiscoverer {
	return &ForkDiscoverer{fetcher: fetcher, apiBase: apiBase}
}

// Discover 返回追加了所有(递归)fork的仓库列表,已在列表中的仓库不会重复添加
// 任意一次查询失败都会返回错误
func (d *ForkDiscoverer) Discover(ctx context.Context, repositories []models.Repository) ([]models.Repository, error) {
	result := append([]models.Repository(nil), repositories...)
	known := make(map[string]bool, len(repositories))
	for _, repo := range repositories {
		known[repo.FullName] = true
	}

	var walk func(fullName, forksURL string) error
	walk = func(fullName, forksURL string) error {
		utils.Infof("🍴 查找 %s 的所有fork", fullName)

		pageURL, err := withPagelen(forksURL, "100")
		if err != nil {
			return err
		}

		for pageURL != "" {
			page, err := d.fetchPage(ctx, pageURL)
			if err != nil {
				return fmt.Errorf("查询 %s 的fork失败: %w", fullName, err)
			}

			for _, value := range page.Values {
				if value.FullName == "" || known[value.FullName] {
					continue
				}
				known[value.FullName] = true
				result = append(result, models.Repository{FullName: value.FullName, IsFork: true})

				next := value.Links.Forks.Href
				if next == "" {
					next = d.forksURL(value.FullName)
				}
				if err := walk(value.FullName, next); err != nil {
					return err
				}
			}

			pageURL = page.Next
		}
		return nil
	}

	for _, repo := range repositories {
		if err := walk(repo.FullName, d.forksURL(repo.FullName)); err != nil {
			return nil, err
		}
	}

	if added := len(result) - len(repositories); added > 0 {
		utils.Infof("🍴 共发现 %d 个fork", added)
	}
	return result, nil
}

// forksURL 仓库的forks端点
func (d *ForkDiscoverer) forksURL(fullName string) string {
	return d.apiBase + "repositories/" + fullName + "/forks"
}

// fetchPage 获取并解析一页fork列表
func (d *ForkDiscoverer) fetchPage(ctx context.Context, pageURL string) (*forkPage, error) {
	result, err := d.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if result.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: result.StatusCode, URL: pageURL}
	}

	var page forkPage
	if err := json.Unmarshal(result.Body, &page); err != nil {
		return nil, fmt.Errorf("解析fork列表失败: %w", err)
	}
	return &page, nil
}

// withPagelen 设置 pagelen 参数
func withPagelen(rawURL, pagelen string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("解析URL失败: %w", err)
	}
	query := parsed.Query()
	query.Set("pagelen", pagelen)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
