package models

// NodeKind 爬取节点类型
type NodeKind string

const (
	NodeKindResource NodeKind = "resource" // API JSON资源
	NodeKindAsset    NodeKind = "asset"    // 二进制附件(图片/头像/附件等)
)

// CrawlNode 爬取树节点
// 每个被引用的资源或附件对应一个节点,在网络请求之前即已登记
type CrawlNode struct {
	OriginalURL      string   `json:"original_url"`      // 父节点中出现的原始URL
	RewrittenURL     string   `json:"rewritten_url"`     // 规则归一化后实际请求的URL
	StoragePath      string   `json:"storage_path"`      // 指纹路径(原始归档中的文件)
	AlreadyProcessed bool     `json:"already_processed"` // 命中磁盘缓存或本次会话中已处理
	Duplicate        bool     `json:"duplicate"`         // 本次会话中重复出现的指纹
	Kind             NodeKind `json:"kind"`

	// Continuation 分页的下一页,同时作为同级兄弟节点登记
	Continuation *CrawlNode `json:"-"`

	// Children 按发现顺序: 附件, 然后是嵌套的API引用
	Children []*CrawlNode `json:"children,omitempty"`
}

// NewResourceNode 创建API资源节点
func NewResourceNode(originalURL, rewrittenURL, storagePath string) *CrawlNode {
	return &CrawlNode{
		OriginalURL:  originalURL,
		RewrittenURL: rewrittenURL,
		StoragePath:  storagePath,
		Kind:         NodeKindResource,
	}
}

// NewAssetNode 创建附件节点,附件不做URL改写
func NewAssetNode(assetURL, storagePath string) *CrawlNode {
	return &CrawlNode{
		OriginalURL:  assetURL,
		RewrittenURL: assetURL,
		StoragePath:  storagePath,
		Kind:         NodeKindAsset,
	}
}

// References 返回出现在本节点内容中、需要改写为相对路径的节点
// 子节点在前,分页的下一页在最后
func (n *CrawlNode) References() []*CrawlNode {
	if n.Continuation == nil {
		return n.Children
	}
	refs := make([]*CrawlNode, 0, len(n.Children)+1)
	refs = append(refs, n.Children...)
	return append(refs, n.Continuation)
}

// CrawlTree 一次爬取会话的发现顺序森林
type CrawlTree struct {
	Roots []*CrawlNode `json:"roots"`
}

// NewCrawlTree 创建空的爬取树
func NewCrawlTree() *CrawlTree {
	return &CrawlTree{Roots: make([]*CrawlNode, 0)}
}

// Walk 深度优先先序遍历,fn返回false时不再进入该节点的子节点
func (t *CrawlTree) Walk(fn func(node *CrawlNode, depth int) bool) {
	var walk func(nodes []*CrawlNode, depth int)
	walk = func(nodes []*CrawlNode, depth int) {
		for _, node := range nodes {
			if fn(node, depth) {
				walk(node.Children, depth+1)
			}
		}
	}
	walk(t.Roots, 0)
}

// Count 节点总数
func (t *CrawlTree) Count() int {
	count := 0
	t.Walk(func(*CrawlNode, int) bool {
		count++
		return true
	})
	return count
}
