package crawlers

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		params   url.Values
		expected string
	}{
		{
			name:     "无参数",
			endpoint: "repositories/acme/widget",
			expected: "repositories/acme/widget.json",
		},
		{
			name:     "去掉排序和分页大小",
			endpoint: "repositories/acme/widget/issues",
			params:   url.Values{"sort": {"created_on"}, "pagelen": {"100"}, "page": {"2"}},
			expected: "repositories/acme/widget/issues_page=2.json",
		},
		{
			name:     "有页码时去掉ctx",
			endpoint: "repositories/acme/widget/pullrequests/1/activity",
			params:   url.Values{"ctx": {"xyz"}, "page": {"3"}},
			expected: "repositories/acme/widget/pullrequests/1/activity_page=3.json",
		},
		{
			name:     "没有页码时保留ctx",
			endpoint: "repositories/acme/widget/pullrequests/1/activity",
			params:   url.Values{"ctx": {"xyz"}, "pagelen": {"50"}},
			expected: "repositories/acme/widget/pullrequests/1/activity_ctx=xyz.json",
		},
		{
			name:     "多值参数按名称排序",
			endpoint: "repositories/acme/widget/pullrequests",
			params:   url.Values{"state": {"MERGED", "OPEN"}, "page": {"1"}},
			expected: "repositories/acme/widget/pullrequests_page=1&state=MERGED&state=OPEN.json",
		},
		{
			name:     "解码路径段并去掉非法字符",
			endpoint: "repositories/acme/widget/src/a%3Ab%2Fc",
			expected: "repositories/acme/widget/src/ab_c.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fingerprint(tt.endpoint, tt.params))
		})
	}
}

func TestFingerprint_StableAcrossCosmeticParams(t *testing.T) {
	a := Fingerprint("repositories/acme/widget/commits", url.Values{
		"page": {"4"}, "sort": {"created_on"}, "pagelen": {"100"},
	})
	b := Fingerprint("repositories/acme/widget/commits", url.Values{
		"pagelen": {"30"}, "page": {"4"},
	})
	assert.Equal(t, a, b)
}

func TestFingerprint_NFC(t *testing.T) {
	// e + 组合重音符 与 预组合的 é 得到同一路径
	decomposed := Fingerprint("repositories/acme/cafe\u0301", nil)
	composed := Fingerprint("repositories/acme/caf\u00e9", nil)
	assert.Equal(t, composed, decomposed)
}

func TestResolveStoragePath(t *testing.T) {
	root := t.TempDir()

	path, err := ResolveStoragePath(root, "repositories/acme/widget/issues", url.Values{"page": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "repositories", "acme", "widget", "issues_page=1.json"), path)

	path, err = ResolveStoragePath(root, "../../etc/passwd", nil)
	require.NoError(t, err, "路径段 .. 被丢弃,不会越出根目录")
	assert.Equal(t, filepath.Join(root, "etc", "passwd.json"), path)
}

func TestResolveAssetPath(t *testing.T) {
	root := t.TempDir()
	apiBase := "https://api.bitbucket.org/2.0/"

	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{
			name:     "头像",
			rawURL:   "https://secure.gravatar.com/avatar/abc?d=https%3A%2F%2Favatar-management.example%2Fdefault.png",
			expected: filepath.Join(root, "secure.gravatar.com", "avatar", "abcd=httpsavatar-management.exampledefault.png"),
		},
		{
			name:     "问题附件去掉API根地址",
			rawURL:   "https://api.bitbucket.org/2.0/repositories/acme/widget/issues/1/attachments/my%20file.png",
			expected: filepath.Join(root, "repositories", "acme", "widget", "issues", "1", "attachments", "my file.png"),
		},
		{
			name:     "编码的斜杠被删除",
			rawURL:   "https://bytebucket.org/ravatar/%7Babc%7D%2Fsize",
			expected: filepath.Join(root, "bytebucket.org", "ravatar", "{abc}size"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := ResolveAssetPath(root, tt.rawURL, apiBase)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, path)
		})
	}

	_, err := ResolveAssetPath(root, "https://", apiBase)
	assert.Error(t, err)
}
