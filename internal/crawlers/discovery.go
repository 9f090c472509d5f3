package crawlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Capability 引用类型,决定爬取器用哪个处理器处理引用
type Capability int

const (
	CapabilityPagination Capability = iota // 分页的下一页
	CapabilityAsset                        // 二进制附件
	CapabilityEndpoint                     // 嵌套的API端点
)

// String 返回引用类型名称
func (c Capability) String() string {
	switch c {
	case CapabilityPagination:
		return "pagination"
	case CapabilityAsset:
		return "asset"
	case CapabilityEndpoint:
		return "endpoint"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Reference 从响应正文中发现的引用
type Reference struct {
	Capability Capability
	Pattern    string // 命中的模式名
	URL        string // 完整URL(端点引用也已补全API根地址)
}

// Pattern 带类型标记的引用模式,第一个捕获组为引用URL
type Pattern struct {
	Name       string
	Capability Capability
	Regexp     *regexp.Regexp
}

// LinkDiscoverer 在JSON正文文本中发现引用
type LinkDiscoverer struct {
	apiBase  string
	patterns []Pattern
}

// NewLinkDiscoverer 创建引用发现器
// 附件模式按声明顺序扫描: 仓库图片, emoji CDN, 头像, bytebucket, 问题附件
func NewLinkDiscoverer(apiBase, owner, repo string) *LinkDiscoverer {
	quotedBase := regexp.QuoteMeta(apiBase)
	attachments := quotedBase + regexp.QuoteMeta(fmt.Sprintf("repositories/%s/%s/issues/", owner, repo))

	return &LinkDiscoverer{
		apiBase: apiBase,
		patterns: []Pattern{
			{Name: "repository_image", Capability: CapabilityAsset,
				Regexp: regexp.MustCompile(`"(https://bitbucket\.org/repo/[a-zA-Z0-9]+/images/.+?)\\"`)},
			{Name: "emoji", Capability: CapabilityAsset,
				Regexp: regexp.MustCompile(`"(https://pf-emoji-service--cdn\.[a-zA-Z0-9\-]+\.prod\.public\.atl-paas\.net/.+?)\\"`)},
			{Name: "avatar", Capability: CapabilityAsset,
				Regexp: regexp.MustCompile(`"(https://secure\.gravatar\.com/avatar/.+?)"`)},
			{Name: "bytebucket", Capability: CapabilityAsset,
				Regexp: regexp.MustCompile(`"(https://bytebucket\.org/.+?)"`)},
			{Name: "issue_attachment", Capability: CapabilityAsset,
				Regexp: regexp.MustCompile(`"(` + attachments + `\d+/attachments/.+?)"`)},
			{Name: "endpoint", Capability: CapabilityEndpoint,
				Regexp: regexp.MustCompile(`"` + quotedBase + `(.*?)"`)},
		},
	}
}

// Patterns 返回已注册的模式
func (d *LinkDiscoverer) Patterns() []Pattern {
	return d.patterns
}

// AddPattern 追加新的引用模式
func (d *LinkDiscoverer) AddPattern(p Pattern) {
	d.patterns = append(d.patterns, p)
}

// Discover 按处理顺序返回正文中的引用: 分页, 附件, 嵌套端点
// 与附件或分页URL相同的端点引用会被去掉
func (d *LinkDiscoverer) Discover(body []byte) ([]Reference, error) {
	refs := make([]Reference, 0)
	claimed := make(map[string]bool)

	next, err := nextPage(body)
	if err != nil {
		return nil, err
	}
	if next != "" {
		refs = append(refs, Reference{Capability: CapabilityPagination, Pattern: "next", URL: next})
		claimed[next] = true
	}

	text := string(body)
	for _, capability := range []Capability{CapabilityAsset, CapabilityEndpoint} {
		for _, pattern := range d.patterns {
			if pattern.Capability != capability {
				continue
			}
			for _, match := range pattern.Regexp.FindAllStringSubmatch(text, -1) {
				if len(match) < 2 {
					continue
				}
				ref := match[1]
				if capability == CapabilityEndpoint {
					// HTML转义的JSON中引号前带有反斜杠
					ref = d.apiBase + strings.TrimRight(ref, `\`)
					if claimed[ref] {
						continue
					}
				} else {
					claimed[ref] = true
				}
				refs = append(refs, Reference{Capability: capability, Pattern: pattern.Name, URL: ref})
			}
		}
	}

	return refs, nil
}

// nextPage 读取分页响应中的 next 字段
func nextPage(body []byte) (string, error) {
	var page struct {
		Next json.RawMessage `json:"next"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		// 顶层不是对象(如数组)时没有分页
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return "", fmt.Errorf("解析分页信息失败: %w", err)
		}
		return "", nil
	}
	if len(page.Next) == 0 {
		return "", nil
	}
	var next string
	if err := json.Unmarshal(page.Next, &next); err != nil {
		return "", nil
	}
	return next, nil
}
