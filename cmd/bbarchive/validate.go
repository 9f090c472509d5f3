package main

import (
	"fmt"

	"github.com/RecoveryAshes/bbarchive/internal/core"
	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(batchDelay int) error {
	if batchDelay < 0 || batchDelay > 3600 {
		return fmt.Errorf("仓库间等待时间必须在0-3600秒之间, 当前值: %d", batchDelay)
	}
	return nil
}

// collectRepositories 合并 -r、-f 与配置文件中的仓库, 保持顺序并去重
func collectRepositories(flagRepos []string, file string, configRepos []string) ([]models.Repository, error) {
	names := make([]string, 0, len(flagRepos)+len(configRepos))
	names = append(names, flagRepos...)

	if file != "" {
		fromFile, err := utils.ReadRepositoriesFromFile(file)
		if err != nil {
			return nil, err
		}
		names = append(names, fromFile...)
	}
	names = append(names, configRepos...)

	seen := make(map[string]bool, len(names))
	repos := make([]models.Repository, 0, len(names))
	for _, name := range names {
		repo, err := models.ParseRepository(name)
		if err != nil {
			return nil, err
		}
		if seen[repo.FullName] {
			continue
		}
		seen[repo.FullName] = true
		repos = append(repos, repo)
	}
	return repos, nil
}

// stateRepositories 从项目状态读取仓库列表
func stateRepositories(config *core.Config) ([]models.Repository, error) {
	state, err := models.LoadProjectState(config.StatePath())
	if err != nil {
		return nil, fmt.Errorf("读取项目状态失败 (请先运行导出或使用 -r 指定仓库): %w", err)
	}
	return state.Repositories, nil
}
