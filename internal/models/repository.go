package models

import (
	"fmt"
	"strings"
)

// Repository 待归档的仓库
type Repository struct {
	FullName string `json:"full_name"` // owner/slug
	IsFork   bool   `json:"is_fork"`
}

// ParseRepository 解析 "owner/slug" 形式的仓库名
func ParseRepository(fullName string) (Repository, error) {
	fullName = strings.Trim(strings.TrimSpace(fullName), "/")
	owner, slug, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || slug == "" || strings.Contains(slug, "/") {
		return Repository{}, fmt.Errorf("仓库名格式错误: %q (应为 owner/slug)", fullName)
	}
	return Repository{FullName: owner + "/" + slug}, nil
}

// Owner 仓库所有者
func (r Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Slug 仓库短名
func (r Repository) Slug() string {
	_, slug, _ := strings.Cut(r.FullName, "/")
	return slug
}

// RepositoryIndexEntry repos.json 中的单个条目
type RepositoryIndexEntry struct {
	ProjectFile string `json:"project_file"`
	ProjectPath string `json:"project_path"`
	IsFork      bool   `json:"is_fork"`
}

// BackupFlags 按功能开关备份内容
type BackupFlags struct {
	Issues         bool `mapstructure:"issues" json:"issues"`
	PullRequests   bool `mapstructure:"pull_requests" json:"pull_requests"`
	CommitComments bool `mapstructure:"commit_comments" json:"commit_comments"`
	Forks          bool `mapstructure:"forks" json:"forks"`
}

// URLRewrite 外部URL改写表中的一项: [新归档地址, 新平台地址]
type URLRewrite [2]string

// ArchiveBase 新归档基础URL
func (u URLRewrite) ArchiveBase() string { return u[0] }

// PlatformBase 新平台基础URL
func (u URLRewrite) PlatformBase() string { return u[1] }
