package render

import (
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/sagernet/sing-box/option"
)

// SingBox renders a sing-box configuration. Top-level order is
// log, dns, inbounds, outbounds, route, experimental.
func SingBox(doc *model.TargetDocument) ([]byte, error) {
	opts, err := Options(doc)
	if err != nil {
		return nil, err
	}
	return encode(opts)
}

// Options folds doc into the sing-box root options. The catch-all rule
// becomes route.final and must be the last rule.
func Options(doc *model.TargetDocument) (*option.Options, error) {
	if doc == nil {
		return nil, renderErr("INVALID_ARGUMENT", "render input 不能为空", nil)
	}

	outbounds := make([]option.Outbound, 0, len(doc.Outbounds))
	for _, ob := range doc.Outbounds {
		outbounds = append(outbounds, ob.Outbound)
	}

	route := &option.RouteOptions{
		Final:               doc.Route.Final(),
		AutoDetectInterface: doc.Route.AutoDetectInterface,
		RuleSet:             doc.Route.RuleSets,
	}
	for i, rr := range doc.Route.Rules {
		if rr.CatchAll {
			if i != len(doc.Route.Rules)-1 {
				return nil, renderErr("RULE_ORDER_ERROR", "catch-all 规则必须位于最后", nil)
			}
			continue
		}
		route.Rules = append(route.Rules, rr.Rule)
	}

	return &option.Options{
		Log:          doc.Log,
		DNS:          doc.DNS,
		Inbounds:     doc.Inbounds,
		Outbounds:    outbounds,
		Route:        route,
		Experimental: doc.Experimental,
	}, nil
}
