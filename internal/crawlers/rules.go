package crawlers

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/RecoveryAshes/bbarchive/internal/models"
)

// Normalize 按改写规则归一化 (端点, 查询参数)
// 纯函数: 在参数副本上操作,未匹配任何规则时原样返回
func Normalize(endpoint string, params url.Values, rules []models.RewriteRule) (string, url.Values) {
	result := cloneValues(params)

	for _, rule := range rules {
		if !rule.MatchesEndpoint(endpoint) {
			continue
		}
		for _, group := range rule.Groups {
			if !groupHolds(group, result) {
				continue
			}
			for name, mutation := range group.Mutations {
				if mutation.Delete {
					result.Del(name)
					continue
				}
				result[name] = append([]string(nil), mutation.Values...)
			}
		}
	}

	return endpoint, result
}

// groupHolds 判断一组谓词是否全部成立
func groupHolds(group models.RewriteGroup, params url.Values) bool {
	for name, predicate := range group.Predicates {
		values, present := params[name]
		if !predicate.Holds(values, present) {
			return false
		}
	}
	return true
}

// cloneValues 深拷贝查询参数
func cloneValues(params url.Values) url.Values {
	result := make(url.Values, len(params))
	for name, values := range params {
		result[name] = append([]string(nil), values...)
	}
	return result
}

// DefaultRewriteRules 返回仓库的默认改写规则
// 尽量使用接口允许的最大分页,并固定排序以保证分页稳定
func DefaultRewriteRules(owner, repo string) []models.RewriteRule {
	base := fmt.Sprintf("repositories/%s/%s", owner, repo)
	quoted := regexp.QuoteMeta(base)

	pagelen := func(n string) models.RewriteGroup {
		return models.RewriteGroup{
			Predicates: map[string]models.ParamPredicate{"pagelen": models.Absent()},
			Mutations:  map[string]models.ParamMutation{"pagelen": models.Set(n)},
		}
	}
	firstPage := models.RewriteGroup{
		Predicates: map[string]models.ParamPredicate{"page": models.Absent()},
		Mutations:  map[string]models.ParamMutation{"page": models.Set("1")},
	}
	sortCreated := models.RewriteGroup{
		Predicates: map[string]models.ParamPredicate{"sort": models.AnyValue()},
		Mutations:  map[string]models.ParamMutation{"sort": models.Set("created_on")},
	}

	return []models.RewriteRule{
		// 拉取请求列表: 默认只返回OPEN状态,这里要求所有状态
		{
			Matchers: []models.EndpointMatcher{models.ExactEndpoint(base + "/pullrequests")},
			Groups: []models.RewriteGroup{
				{
					Predicates: map[string]models.ParamPredicate{"state": models.Absent()},
					Mutations: map[string]models.ParamMutation{
						"state": models.Set("MERGED", "OPEN", "SUPERSEDED", "DECLINED"),
					},
				},
				pagelen("50"),
				firstPage,
				sortCreated,
			},
		},
		// 最大分页50
		{
			Matchers: []models.EndpointMatcher{
				models.PatternEndpoint(`^` + quoted + `/pullrequests/\d+/activity$`),
				models.ExactEndpoint(base + "/pullrequests/activity"),
			},
			Groups: []models.RewriteGroup{pagelen("50"), sortCreated},
		},
		// 最大分页100,带排序
		{
			Matchers: []models.EndpointMatcher{
				models.PatternEndpoint(`^` + quoted + `/issues/\d+/changes$`),
				models.PatternEndpoint(`^` + quoted + `/pullrequests/\d+/commits$`),
				models.ExactEndpoint(base + "/refs/tags"),
			},
			Groups: []models.RewriteGroup{pagelen("100"), sortCreated},
		},
		// 最大分页100,不支持排序
		{
			Matchers: []models.EndpointMatcher{
				models.PatternEndpoint(`^` + quoted + `/issues/\d+/attachments$`),
				models.ExactEndpoint(base + "/components"),
				models.ExactEndpoint(base + "/milestones"),
				models.ExactEndpoint(base + "/refs"),
				models.ExactEndpoint(base + "/refs/branches"),
				models.ExactEndpoint(base + "/versions"),
				models.ExactEndpoint(base + "/watchers"),
			},
			Groups: []models.RewriteGroup{pagelen("100"), firstPage},
		},
		// 最大分页100,带排序和页码
		{
			Matchers: []models.EndpointMatcher{
				models.PatternEndpoint(`^` + quoted + `/pullrequests/\d+/(comments|statuses)$`),
				models.PatternEndpoint(`^` + quoted + `/issues/\d+/comments$`),
				models.PatternEndpoint(`^` + quoted + `/commit/[^/]+/(comments|statuses)$`),
				models.PatternEndpoint(`^` + quoted + `/commits/.*`),
				models.ExactEndpoint(base + "/commits"),
				models.ExactEndpoint(base + "/forks"),
				models.ExactEndpoint(base + "/issues"),
			},
			Groups: []models.RewriteGroup{pagelen("100"), firstPage, sortCreated},
		},
		// diffstat 最大分页5000
		{
			Matchers: []models.EndpointMatcher{
				models.PatternEndpoint(`^` + quoted + `/diffstat/.*`),
			},
			Groups: []models.RewriteGroup{pagelen("5000"), firstPage},
		},
	}
}
