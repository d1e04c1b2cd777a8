package render

import (
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/sagernet/sing-box/option"
)

// RuleSet renders a sing-box source rule-set: {"version": N, "rules": [...]}.
func RuleSet(doc *model.RuleSetDocument) ([]byte, error) {
	if doc == nil {
		return nil, renderErr("INVALID_ARGUMENT", "render input 不能为空", nil)
	}
	return encode(option.PlainRuleSetCompat{
		Version: doc.Version,
		Options: option.PlainRuleSet{Rules: doc.Rules},
	})
}
