package models

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// PredicateKind 参数谓词类型
type PredicateKind int

const (
	PredicateAny    PredicateKind = iota // 任意值(总是成立)
	PredicateAbsent                      // 参数不存在
	PredicateEquals                      // 参数存在且值相等
)

// ParamPredicate 查询参数谓词
type ParamPredicate struct {
	Kind   PredicateKind
	Values []string
}

// AnyValue 总是成立的谓词
func AnyValue() ParamPredicate { return ParamPredicate{Kind: PredicateAny} }

// Absent 参数不存在时成立
func Absent() ParamPredicate { return ParamPredicate{Kind: PredicateAbsent} }

// Equals 参数存在且值列表完全相同时成立
func Equals(values ...string) ParamPredicate {
	return ParamPredicate{Kind: PredicateEquals, Values: values}
}

// Holds 判断谓词对给定参数值是否成立
func (p ParamPredicate) Holds(values []string, present bool) bool {
	switch p.Kind {
	case PredicateAny:
		return true
	case PredicateAbsent:
		return !present
	default:
		return present && slices.Equal(values, p.Values)
	}
}

// ParamMutation 查询参数变更
type ParamMutation struct {
	Delete bool
	Values []string
}

// Set 设置(覆盖)参数
func Set(values ...string) ParamMutation { return ParamMutation{Values: values} }

// Delete 删除参数
func Delete() ParamMutation { return ParamMutation{Delete: true} }

// EndpointMatcher 端点匹配器,精确字符串或正则
type EndpointMatcher struct {
	Exact   string
	Pattern *regexp.Regexp
}

// ExactEndpoint 精确匹配
func ExactEndpoint(endpoint string) EndpointMatcher {
	return EndpointMatcher{Exact: endpoint}
}

// PatternEndpoint 正则匹配
func PatternEndpoint(pattern string) EndpointMatcher {
	return EndpointMatcher{Pattern: regexp.MustCompile(pattern)}
}

// Match 判断端点是否匹配
func (m EndpointMatcher) Match(endpoint string) bool {
	if m.Pattern != nil {
		return m.Pattern.MatchString(endpoint)
	}
	return m.Exact == endpoint
}

// RewriteGroup 一组谓词与变更,所有谓词成立时整组变更生效
type RewriteGroup struct {
	Predicates map[string]ParamPredicate
	Mutations  map[string]ParamMutation
}

// RewriteRule URL改写规则
// 规则按声明顺序求值,所有匹配规则的变更依次累加
type RewriteRule struct {
	Matchers []EndpointMatcher
	Groups   []RewriteGroup
}

// MatchesEndpoint 判断规则是否适用于端点
func (r RewriteRule) MatchesEndpoint(endpoint string) bool {
	for _, m := range r.Matchers {
		if m.Match(endpoint) {
			return true
		}
	}
	return false
}

// IgnoreType 忽略规则类型
type IgnoreType string

const (
	IgnoreContains   IgnoreType = "in"
	IgnoreStartsWith IgnoreType = "startswith"
	IgnoreEndsWith   IgnoreType = "endswith"
)

// IgnoreRule 忽略规则,用于剪除发现的API引用
type IgnoreRule struct {
	Type  IgnoreType `mapstructure:"type" json:"type"`
	Not   bool       `mapstructure:"not" json:"not"`
	Value string     `mapstructure:"value" json:"value"`
}

// Matches 判断引用是否命中该规则(命中即跳过)
func (r IgnoreRule) Matches(ref string) bool {
	var hit bool
	switch r.Type {
	case IgnoreContains:
		hit = strings.Contains(ref, r.Value)
	case IgnoreStartsWith:
		hit = strings.HasPrefix(ref, r.Value)
	case IgnoreEndsWith:
		hit = strings.HasSuffix(ref, r.Value)
	default:
		return false
	}
	if r.Not {
		return !hit
	}
	return hit
}

// Validate 验证规则类型
func (r IgnoreRule) Validate() error {
	switch r.Type {
	case IgnoreContains, IgnoreStartsWith, IgnoreEndsWith:
	default:
		return fmt.Errorf("无效的忽略规则类型: %q (有效值: in, startswith, endswith)", r.Type)
	}
	if r.Value == "" {
		return fmt.Errorf("忽略规则的值不能为空")
	}
	return nil
}

// Expand 替换规则值中的 {owner} 与 {repo} 占位符
func (r IgnoreRule) Expand(owner, repo string) IgnoreRule {
	r.Value = strings.NewReplacer("{owner}", owner, "{repo}", repo).Replace(r.Value)
	return r
}
