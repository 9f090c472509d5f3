package comments

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	ID     int `json:"id"`
	Depth  int `json:"depth"`
	Parent *struct {
		ID    int `json:"id"`
		Depth int `json:"depth"`
	} `json:"parent"`
}

func mustPage(t *testing.T, path, data string) Page {
	t.Helper()
	page, err := ParsePage(path, []byte(data))
	require.NoError(t, err)
	return page
}

func pageComments(t *testing.T, page Page) []decoded {
	t.Helper()
	raw, ok := page.Fields.Get("values")
	require.True(t, ok)
	var values []decoded
	require.NoError(t, json.Unmarshal(raw, &values))
	return values
}

func ids(values []decoded) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		out = append(out, v.ID)
	}
	return out
}

// thread 生成一页评论JSON, parents 中 0 表示没有父评论
func thread(size int, next string, idList []int, parents map[int]int) string {
	items := make([]string, 0, len(idList))
	for _, id := range idList {
		if parent, ok := parents[id]; ok {
			items = append(items, fmt.Sprintf(`{"id": %d, "parent": {"id": %d}}`, id, parent))
		} else {
			items = append(items, fmt.Sprintf(`{"id": %d}`, id))
		}
	}
	doc := fmt.Sprintf(`{"size": %d, "values": [%s]`, size, strings.Join(items, ", "))
	if next != "" {
		doc += fmt.Sprintf(`, "next": %q`, next)
	}
	return doc + "}"
}

func TestReconstruct_ParentBeforeChild(t *testing.T) {
	page := mustPage(t, "p1.json",
		`{"pagelen": 100, "size": 2, "values": [{"id": 1, "content": "a"}, {"id": 2, "parent": {"id": 1}, "content": "b"}]}`)

	result, err := Reconstruct([]Page{page})
	require.NoError(t, err)

	values := pageComments(t, page)
	assert.Equal(t, []int{1, 2}, ids(values))
	assert.Equal(t, 0, values[0].Depth)
	assert.Equal(t, 1, values[1].Depth)
	require.NotNil(t, values[1].Parent)
	assert.Equal(t, 1, values[1].Parent.Depth)

	assert.Equal(t, 2, result.Comments)
	assert.Zero(t, result.Orphans)
	assert.False(t, result.Mismatched)

	// 字段顺序保持不变
	data, err := json.Marshal(page.Fields)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"pagelen":100,"size":2,"values":[{"id":1,"content":"a","depth":0}`), string(data))
}

func TestReconstruct_SiblingOrderAndDepth(t *testing.T) {
	page := mustPage(t, "p1.json", thread(4, "", []int{3, 2, 1, 4}, map[int]int{3: 2, 2: 1, 4: 1}))

	_, err := Reconstruct([]Page{page})
	require.NoError(t, err)

	values := pageComments(t, page)
	assert.Equal(t, []int{1, 4, 2, 3}, ids(values))
	depths := []int{values[0].Depth, values[1].Depth, values[2].Depth, values[3].Depth}
	assert.Equal(t, []int{0, 1, 1, 2}, depths)
}

func TestReconstruct_RepaginatesAcrossPages(t *testing.T) {
	first := make([]int, 0, 101)
	for id := 1; id <= 101; id++ {
		first = append(first, id)
	}
	second := make([]int, 0, 49)
	for id := 102; id <= 150; id++ {
		second = append(second, id)
	}

	pages := []Page{
		mustPage(t, "p1.json", thread(150, "p2.json", first, nil)),
		mustPage(t, "p2.json", thread(150, "", second, map[int]int{150: 1})),
	}

	result, err := Reconstruct(pages)
	require.NoError(t, err)
	assert.Equal(t, 150, result.Comments)
	assert.False(t, result.Mismatched)

	page1 := pageComments(t, pages[0])
	page2 := pageComments(t, pages[1])
	require.Len(t, page1, PageSize)
	require.Len(t, page2, 50)

	assert.Equal(t, []int{1, 150, 2}, ids(page1[:3]))
	assert.Equal(t, 1, page1[1].Depth)
	assert.Equal(t, 99, page1[99].ID)
	assert.Equal(t, 100, page2[0].ID)
	assert.Equal(t, 149, page2[49].ID)
	assert.Equal(t, "p2.json", pages[0].Next(), "next 链接不变")
}

func TestReconstruct_OrphansBecomeRoots(t *testing.T) {
	page := mustPage(t, "p1.json", thread(4, "", []int{1, 2, 3, 4}, map[int]int{1: 99, 2: 3, 3: 2}))

	result, err := Reconstruct([]Page{page})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Orphans)
	assert.Equal(t, 4, result.Comments)
	values := pageComments(t, page)
	assert.Equal(t, []int{4, 1, 2, 3}, ids(values))
	for _, v := range values {
		assert.Zero(t, v.Depth, "顶层评论深度为0")
	}
}

func TestReconstruct_SizeMismatchStillWritten(t *testing.T) {
	page := mustPage(t, "p1.json", thread(5, "", []int{1, 2}, nil))

	result, err := Reconstruct([]Page{page})
	require.NoError(t, err)

	assert.True(t, result.Mismatched)
	assert.Equal(t, []int{1, 2}, ids(pageComments(t, page)))
}

func TestReconstruct_EmptyAndInvalid(t *testing.T) {
	page := mustPage(t, "p1.json", `{"size": 0}`)
	result, err := Reconstruct([]Page{page})
	require.NoError(t, err)
	assert.Zero(t, result.Comments)
	assert.Empty(t, pageComments(t, page))

	_, err = Reconstruct([]Page{mustPage(t, "bad.json", `{"values": {"id": 1}}`)})
	assert.Error(t, err)

	_, err = ParsePage("broken.json", []byte(`{"values": [`))
	assert.Error(t, err)
}
