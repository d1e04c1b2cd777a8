package compiler

import (
	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
)

// CompileRuleSet converts rule-provider entries into a sing-box source
// rule-set. Entries are merged per match family so the result matches when
// any entry matches.
func CompileRuleSet(entries []model.Rule, dc *diag.Collector) *model.RuleSetDocument {
	ms := make([]matcher, 0, len(entries))
	for _, r := range entries {
		m, skip, _ := translateMatcher(r, nil)
		if skip != "" {
			dc.Warn(stageRuleSet, diag.RuleEntity(r.Raw), r.Line, "%s，已跳过", skip)
			continue
		}
		ms = append(ms, m)
	}

	merged := mergeFamilies(ms)
	out := make([]option.HeadlessRule, 0, len(merged))
	for _, m := range merged {
		out = append(out, m.headlessRule())
	}
	return &model.RuleSetDocument{Version: C.RuleSetVersion1, Rules: out}
}
