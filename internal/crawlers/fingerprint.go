package crawlers

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// illegalPathChars 不能出现在存储路径中的字符
var illegalPathChars = strings.NewReplacer(
	"?", "", ":", "", "\\", "", "*", "", "<", "", ">", "", "\"", "", "|", "",
)

// SimplifyParams 去掉不影响资源身份的参数
// sort 和 pagelen 只影响排序和分页大小; 有 page 时 ctx 是多余的分页令牌
func SimplifyParams(params url.Values) url.Values {
	simplified := cloneValues(params)
	simplified.Del("sort")
	simplified.Del("pagelen")
	if simplified.Has("page") {
		simplified.Del("ctx")
	}
	return simplified
}

// Fingerprint 返回相对于归档根目录的存储路径(使用 / 分隔)
// 形如 <endpoint>_<参数>.json, 参数按名称排序编码,与原始顺序无关
func Fingerprint(endpoint string, params url.Values) string {
	segments := strings.Split(strings.Trim(endpoint, "/"), "/")
	cleaned := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment = sanitizeSegment(segment); segment != "" {
			cleaned = append(cleaned, segment)
		}
	}

	fingerprint := strings.Join(cleaned, "/")
	if encoded := SimplifyParams(params).Encode(); encoded != "" {
		fingerprint += "_" + illegalPathChars.Replace(encoded)
	}
	return fingerprint + ".json"
}

// sanitizeSegment 解码单个路径段,解码出的 / 替换为 _,并去掉非法字符
func sanitizeSegment(segment string) string {
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = strings.ReplaceAll(decoded, "/", "_")
	}
	segment = illegalPathChars.Replace(segment)
	if segment == "." || segment == ".." {
		return ""
	}
	return norm.NFC.String(segment)
}

// ResolveStoragePath 计算API资源在归档根目录下的存储路径
func ResolveStoragePath(root, endpoint string, params url.Values) (string, error) {
	return joinUnderRoot(root, Fingerprint(endpoint, params))
}

// ResolveAssetPath 计算附件在归档根目录下的存储路径
// 原始URL中编码的 / (%2F) 直接删除,真实的路径分隔符保留
func ResolveAssetPath(root, rawURL, apiBase string) (string, error) {
	corrected := strings.ReplaceAll(rawURL, "%2F", "")
	if decoded, err := url.PathUnescape(corrected); err == nil {
		corrected = decoded
	}
	if apiBase != "" {
		corrected = strings.ReplaceAll(corrected, apiBase, "")
	}
	corrected = strings.ReplaceAll(corrected, "https://", "")
	corrected = strings.ReplaceAll(corrected, "http://", "")
	corrected = illegalPathChars.Replace(corrected)

	segments := strings.Split(corrected, "/")
	cleaned := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		cleaned = append(cleaned, norm.NFC.String(segment))
	}
	if len(cleaned) == 0 {
		return "", fmt.Errorf("附件URL无法映射为存储路径: %s", rawURL)
	}

	return joinUnderRoot(root, strings.Join(cleaned, "/"))
}

// joinUnderRoot 拼接路径并确认结果位于根目录之内
func joinUnderRoot(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	path := filepath.Join(cleanRoot, filepath.FromSlash(rel))

	inside, err := filepath.Rel(cleanRoot, path)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("存储路径越出归档根目录: %s", rel)
	}
	return path, nil
}
