// Package comments 重建评论串的父子层级,并按深度优先顺序重新分页写回
package comments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/RecoveryAshes/bbarchive/internal/utils"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PageSize 重新分页时每页的评论数
const PageSize = 100

// Page 评论串中的一页,字段保持原始顺序
type Page struct {
	Path   string
	Fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// ParsePage 解析一页评论JSON
func ParsePage(path string, data []byte) (Page, error) {
	fields := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, fields); err != nil {
		return Page{}, fmt.Errorf("解析评论页失败 %s: %w", path, err)
	}
	return Page{Path: path, Fields: fields}, nil
}

// Values 本页的评论列表
func (p Page) Values() ([]json.RawMessage, error) {
	raw, ok := p.Fields.Get("values")
	if !ok {
		return nil, nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("评论页 values 格式错误 %s: %w", p.Path, err)
	}
	return values, nil
}

// Next 下一页的相对链接, 没有时返回空串
func (p Page) Next() string {
	raw, ok := p.Fields.Get("next")
	if !ok {
		return ""
	}
	var next string
	if err := json.Unmarshal(raw, &next); err != nil {
		return ""
	}
	return next
}

// Size 本页声明的评论总数
func (p Page) Size() (int, bool) {
	raw, ok := p.Fields.Get("size")
	if !ok {
		return 0, false
	}
	var size int
	if err := json.Unmarshal(raw, &size); err != nil {
		return 0, false
	}
	return size, true
}

// Result 重建结果
type Result struct {
	Pages      []Page
	Comments   int  // 评论总数
	Orphans    int  // 父评论不可达、被提升为根的评论
	Mismatched bool // 写回数量与声明的size不一致
}

// comment 单条评论
type comment struct {
	index     int
	id        string
	parentID  string
	hasParent bool
	fields    *orderedmap.OrderedMap[string, json.RawMessage]
}

// node 层级中的节点, children 以评论下标为键并保持插入顺序
type node struct {
	comment  *comment
	children *orderedmap.OrderedMap[int, *node]
}

func newNode(c *comment) *node {
	return &node{comment: c, children: orderedmap.New[int, *node]()}
}

// Reconstruct 重建一个评论串的层级并重新分页
// pages 必须按 next 链接顺序排列
func Reconstruct(pages []Page) (*Result, error) {
	all, err := collect(pages)
	if err != nil {
		return nil, err
	}

	roots, orphans := place(all)
	if orphans > 0 {
		utils.Warnf("⚠️  %d 条评论的父评论不存在或成环, 已作为顶层评论: %s", orphans, firstPath(pages))
	}

	flat := make([]*comment, 0, len(all))
	if err := flatten(roots, 0, &flat); err != nil {
		return nil, err
	}

	result := &Result{Pages: pages, Comments: len(flat), Orphans: orphans}
	for i, page := range pages {
		start := min(i*PageSize, len(flat))
		end := min((i+1)*PageSize, len(flat))

		chunk := make([]json.RawMessage, 0, end-start)
		for _, c := range flat[start:end] {
			raw, err := json.Marshal(c.fields)
			if err != nil {
				return nil, fmt.Errorf("序列化评论失败: %w", err)
			}
			chunk = append(chunk, raw)
		}
		values, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("序列化评论页失败: %w", err)
		}
		page.Fields.Set("values", values)

		if size, ok := page.Size(); ok && size != len(flat) {
			result.Mismatched = true
			utils.Warnf("⚠️  评论数量不一致 %s: 原有 %d 条, 重排后 %d 条", page.Path, size, len(flat))
		}
	}

	return result, nil
}

// collect 按页顺序读出全部评论
func collect(pages []Page) ([]*comment, error) {
	var all []*comment
	for _, page := range pages {
		values, err := page.Values()
		if err != nil {
			return nil, err
		}
		for _, raw := range values {
			c, err := parseComment(len(all), raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", page.Path, err)
			}
			all = append(all, c)
		}
	}
	return all, nil
}

func parseComment(index int, raw json.RawMessage) (*comment, error) {
	fields := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(raw, fields); err != nil {
		return nil, fmt.Errorf("第%d条评论格式错误: %w", index+1, err)
	}

	c := &comment{index: index, fields: fields}
	if id, ok := fields.Get("id"); ok {
		c.id = string(bytes.TrimSpace(id))
	}

	parentRaw, ok := fields.Get("parent")
	if !ok || string(bytes.TrimSpace(parentRaw)) == "null" {
		return c, nil
	}
	var parent struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(parentRaw, &parent); err != nil {
		return nil, fmt.Errorf("第%d条评论的 parent 格式错误: %w", index+1, err)
	}
	if len(parent.ID) > 0 {
		c.hasParent = true
		c.parentID = string(bytes.TrimSpace(parent.ID))
	}
	return c, nil
}

// place 反复扫描未放置的评论,父评论已放置(或没有父评论)时放置
// 一轮扫描没有任何进展时,剩余评论按原顺序提升为根
// 同级评论按放置的先后排列,不是按在列表中出现的顺序
func place(all []*comment) (*orderedmap.OrderedMap[int, *node], int) {
	roots := orderedmap.New[int, *node]()
	placed := make(map[string]*node, len(all))
	done := make([]bool, len(all))
	remaining := len(all)
	orphans := 0

	for remaining > 0 {
		progress := false
		for _, c := range all {
			if done[c.index] {
				continue
			}

			siblings := roots
			if c.hasParent {
				parent, ok := placed[c.parentID]
				if !ok {
					continue
				}
				siblings = parent.children
			}

			n := newNode(c)
			siblings.Set(c.index, n)
			placed[c.id] = n
			done[c.index] = true
			remaining--
			progress = true
		}

		if progress {
			continue
		}
		for _, c := range all {
			if done[c.index] {
				continue
			}
			n := newNode(c)
			roots.Set(c.index, n)
			placed[c.id] = n
			done[c.index] = true
			remaining--
			orphans++
		}
	}

	return roots, orphans
}

// flatten 深度优先先序展开,并记录缩进深度
func flatten(level *orderedmap.OrderedMap[int, *node], depth int, out *[]*comment) error {
	for pair := level.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value.comment
		if err := setDepth(c, depth); err != nil {
			return err
		}
		*out = append(*out, c)
		if err := flatten(pair.Value.children, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// setDepth 写入 depth, 有父评论时同时写入 parent.depth
func setDepth(c *comment, depth int) error {
	value := json.RawMessage(strconv.Itoa(depth))
	c.fields.Set("depth", value)

	parentRaw, ok := c.fields.Get("parent")
	if !ok || !c.hasParent {
		return nil
	}
	parent := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(parentRaw, parent); err != nil {
		return fmt.Errorf("评论 %s 的 parent 格式错误: %w", c.id, err)
	}
	parent.Set("depth", value)
	updated, err := json.Marshal(parent)
	if err != nil {
		return fmt.Errorf("序列化评论 %s 的 parent 失败: %w", c.id, err)
	}
	c.fields.Set("parent", updated)
	return nil
}

func firstPath(pages []Page) string {
	if len(pages) == 0 {
		return ""
	}
	return pages[0].Path
}
