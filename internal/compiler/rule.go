package compiler

import (
	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
)

// translateRoute resolves every rule before looking at mode, so a broken
// reference fails the run in global and direct mode too.
func (c *compiler) translateRoute() (model.Route, error) {
	route := model.Route{AutoDetectInterface: true}
	src := c.doc.Rules

	// Validate: at most one MATCH, and it must be the last rule.
	for i, r := range src {
		if r.Type == model.RuleMatch && i != len(src)-1 {
			return route, compileErr("RULE_ORDER_ERROR", r.Line, r.Raw, "MATCH 规则必须唯一且位于最后")
		}
	}

	var rules []model.RouteRule
	hasFinal := false
	for _, r := range src {
		entity := diag.RuleEntity(r.Raw)
		tag, ok, err := c.ruleTarget(r)
		if err != nil {
			return route, err
		}
		if !ok {
			continue
		}

		if r.Type == model.RuleMatch {
			rules = append(rules, model.RouteRule{Outbound: tag, CatchAll: true, Raw: r.Raw, Line: r.Line})
			hasFinal = true
			continue
		}

		m, skip, merr := translateMatcher(r, c)
		if merr != nil {
			return route, compileErr(merr.code, r.Line, r.Raw, "%s", merr.msg)
		}
		if skip != "" {
			c.dc.Warn(stageRule, entity, r.Line, "%s，已跳过", skip)
			continue
		}
		rules = append(rules, model.RouteRule{Rule: m.routeRule(routeAction(tag)), Outbound: tag, Raw: r.Raw, Line: r.Line})
	}

	switch c.doc.Mode {
	case "", "rule":
	case "global":
		final := c.globalOutbound()
		c.dc.Warn(stageRule, "", 0, "mode: global，规则已忽略，全部流量走 %q", final)
		route.Rules = []model.RouteRule{{Outbound: final, CatchAll: true, Raw: "MATCH," + final}}
		return route, nil
	case "direct":
		c.dc.Warn(stageRule, "", 0, "mode: direct，规则已忽略，全部流量直连")
		route.Rules = []model.RouteRule{{Outbound: model.TagDirect, CatchAll: true, Raw: "MATCH,DIRECT"}}
		return route, nil
	default:
		c.dc.Warn(stageRule, "", 0, "未知的 mode %q，按 rule 处理", c.doc.Mode)
	}

	route.Rules = rules
	if !hasFinal {
		c.dc.Warn(stageRule, "", 0, "缺少 MATCH 规则，已补充 MATCH,DIRECT")
		route.Rules = append(route.Rules, model.RouteRule{Outbound: model.TagDirect, CatchAll: true, Raw: "MATCH,DIRECT"})
	}
	return route, nil
}

// ruleTarget resolves the policy of a rule. ok is false when the rule must
// be dropped (a warning has been recorded).
func (c *compiler) ruleTarget(r model.Rule) (string, bool, error) {
	entity := diag.RuleEntity(r.Raw)
	tag, kind := c.lookup(r.Target)
	switch kind {
	case refMissing:
		return "", false, compileErr("DANGLING_REFERENCE", r.Line, r.Raw, "规则引用了不存在的策略 %q", r.Target)
	case refSkipped:
		c.dc.Warn(stageRule, entity, r.Line, "目标节点 %q 已被跳过，规则已移除", r.Target)
		return "", false, nil
	case refUnsupported:
		c.dc.Warn(stageRule, entity, r.Line, "目标 %q 在 sing-box 中没有对应项，规则已移除", r.Target)
		return "", false, nil
	}
	return tag, true, nil
}

// globalOutbound picks what "mode: global" routes to: a group named GLOBAL,
// else the first group, else the first proxy, else DIRECT.
func (c *compiler) globalOutbound() string {
	if _, ok := c.groups["GLOBAL"]; ok {
		return "GLOBAL"
	}
	if len(c.doc.Groups) > 0 {
		return c.doc.Groups[0].Name
	}
	if len(c.proxies) > 0 {
		return c.proxies[0].tag()
	}
	return model.TagDirect
}
