package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StateFilename 项目状态文件名
const StateFilename = "project_state.json"

// ProjectState 项目状态检查点
// 记录已完成的阶段,重复运行时跳过已完成的阶段
type ProjectState struct {
	RunID        string       `json:"run_id"`       // 最近一次运行ID
	Repositories []Repository `json:"repositories"` // 仓库列表(含发现的fork)

	// 阶段标记
	ForksDiscovered   bool `json:"forks_discovered"`
	DownloadComplete  bool `json:"download_complete"`
	RewriteComplete   bool `json:"rewrite_complete"`
	CommentsReordered bool `json:"comments_reordered"`

	// 统计信息
	Stats CrawlStats `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProjectState 创建新的项目状态
func NewProjectState(repositories []Repository) *ProjectState {
	now := time.Now()
	return &ProjectState{
		RunID:        newRunID(),
		Repositories: repositories,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasRepository 检查仓库是否已在列表中
func (s *ProjectState) HasRepository(fullName string) bool {
	for _, repo := range s.Repositories {
		if repo.FullName == fullName {
			return true
		}
	}
	return false
}

// MergeRepositories 合并仓库列表,返回新增数量
// 新增仓库会使下载和改写阶段失效
func (s *ProjectState) MergeRepositories(repositories []Repository) int {
	added := 0
	for _, repo := range repositories {
		if !s.HasRepository(repo.FullName) {
			s.Repositories = append(s.Repositories, repo)
			added++
		}
	}
	if added > 0 {
		s.DownloadComplete = false
		s.RewriteComplete = false
		s.CommentsReordered = false
	}
	return added
}

// Reset 清除所有阶段标记
func (s *ProjectState) Reset() {
	s.ForksDiscovered = false
	s.DownloadComplete = false
	s.RewriteComplete = false
	s.CommentsReordered = false
}

// ToJSON 序列化为JSON
func (s *ProjectState) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON 从JSON反序列化
func (s *ProjectState) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}

// SaveToFile 保存到文件(先写临时文件再重命名)
func (s *ProjectState) SaveToFile(path string) error {
	s.UpdatedAt = time.Now()
	data, err := s.ToJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadProjectState 从文件加载项目状态
func LoadProjectState(path string) (*ProjectState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state ProjectState
	if err := state.FromJSON(data); err != nil {
		return nil, err
	}

	return &state, nil
}
