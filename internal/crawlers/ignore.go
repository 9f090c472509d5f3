package crawlers

import (
	"fmt"

	"github.com/RecoveryAshes/bbarchive/internal/models"
)

// DefaultIgnoreRules 返回仓库的默认忽略规则
// 不属于当前仓库的引用、写操作端点以及体积巨大的源码类端点都会被剪除
func DefaultIgnoreRules(owner, repo string, flags models.BackupFlags) []models.IgnoreRule {
	base := fmt.Sprintf("repositories/%s/%s", owner, repo)

	rules := []models.IgnoreRule{
		{Type: models.IgnoreContains, Value: base + "/patch"},
		{Type: models.IgnoreContains, Value: base + "/diff"},
		{Type: models.IgnoreContains, Value: base + "/src"},
		{Type: models.IgnoreContains, Value: base + "/filehistory"},
		{Type: models.IgnoreContains, Value: base + "/downloads"},
		{Type: models.IgnoreStartsWith, Not: true, Value: base},
		{Type: models.IgnoreStartsWith, Value: base + "/issues/import"},
		{Type: models.IgnoreStartsWith, Value: base + "/issues/export"},
		{Type: models.IgnoreStartsWith, Value: base + "/hooks"},
		{Type: models.IgnoreEndsWith, Value: "/approve"},
		{Type: models.IgnoreEndsWith, Value: "/decline"},
		{Type: models.IgnoreEndsWith, Value: "/merge"},
		{Type: models.IgnoreEndsWith, Value: "/vote"},
		{Type: models.IgnoreEndsWith, Value: "/watch"},
	}

	if !flags.Issues {
		rules = append(rules, models.IgnoreRule{Type: models.IgnoreStartsWith, Value: base + "/issues"})
	}
	if !flags.PullRequests {
		rules = append(rules, models.IgnoreRule{Type: models.IgnoreStartsWith, Value: base + "/pullrequests"})
	}
	if !flags.CommitComments {
		rules = append(rules, models.IgnoreRule{Type: models.IgnoreStartsWith, Value: base + "/commit/"})
	}

	return rules
}

// ExpandIgnoreRules 展开配置中额外规则的 {owner}/{repo} 占位符
func ExpandIgnoreRules(rules []models.IgnoreRule, owner, repo string) []models.IgnoreRule {
	expanded := make([]models.IgnoreRule, 0, len(rules))
	for _, rule := range rules {
		expanded = append(expanded, rule.Expand(owner, repo))
	}
	return expanded
}

// ShouldIgnore 判断引用是否被任一规则命中
// 规则按顺序求值,第一条命中的规则即决定跳过
func ShouldIgnore(ref string, rules []models.IgnoreRule) bool {
	for _, rule := range rules {
		if rule.Matches(ref) {
			return true
		}
	}
	return false
}
