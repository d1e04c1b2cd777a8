package model

import "github.com/sagernet/sing-box/option"

// Built-in outbound tags of the sing-box document.
const (
	TagDirect = "DIRECT"
	TagBlock  = "BLOCK"
)

// TargetDocument is the sing-box shaped result of one conversion. Outbounds
// and route rules keep their source position for error reporting; render
// folds everything into option.Options.
type TargetDocument struct {
	Log          *option.LogOptions
	DNS          *option.DNSOptions
	Inbounds     []option.Inbound
	Outbounds    []Outbound
	Route        Route
	Experimental *option.ExperimentalOptions
}

const (
	OutboundFromProxy   = "proxy"
	OutboundFromGroup   = "group"
	OutboundFromRelay   = "relay"
	OutboundFromBuiltin = "builtin"
)

// Outbound is one sing-box outbound plus where it came from.
type Outbound struct {
	option.Outbound

	From string // OutboundFrom*
	Line int
}

type Route struct {
	// Rules keeps source order. A trailing CatchAll rule is emitted as
	// route.final.
	Rules               []RouteRule
	RuleSets            []option.RuleSet
	AutoDetectInterface bool
}

// Final returns the catch-all outbound tag, or "" when there is none.
func (r Route) Final() string {
	if n := len(r.Rules); n > 0 && r.Rules[n-1].CatchAll {
		return r.Rules[n-1].Outbound
	}
	return ""
}

// RouteRule is a route rule with its action already set to Outbound. Rule
// is empty for the catch-all.
type RouteRule struct {
	Rule     option.Rule
	Outbound string
	CatchAll bool

	Raw  string
	Line int
}

// RuleSetDocument is a sing-box source rule-set.
type RuleSetDocument struct {
	Version uint8
	Rules   []option.HeadlessRule
}
