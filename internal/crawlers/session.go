package crawlers

import "sync"

// SessionCache 单次爬取会话内已认领的存储路径
// 由调用方创建并传入爬取器,多个仓库的爬取可共享同一会话
type SessionCache struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewSessionCache 创建会话缓存
func NewSessionCache() *SessionCache {
	return &SessionCache{
		claimed: make(map[string]struct{}),
	}
}

// Claim 认领存储路径,第一次认领返回true
func (s *SessionCache) Claim(storagePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claimed[storagePath]; exists {
		return false
	}
	s.claimed[storagePath] = struct{}{}
	return true
}

// Release 释放认领,用于下载失败的节点
// 之后同一路径的引用可以重新请求
func (s *SessionCache) Release(storagePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claimed, storagePath)
}

// Claimed 判断存储路径是否已被认领
func (s *SessionCache) Claimed(storagePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.claimed[storagePath]
	return exists
}

// Len 已认领的路径数量
func (s *SessionCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.claimed)
}
