package model

// Rule is one Clash routing rule, or one rule-provider payload entry (in which
// case Target is empty).
type Rule struct {
	Type   string // e.g. "DOMAIN-SUFFIX", "IP-CIDR", "AND", "MATCH"
	Value  string // domain/suffix/keyword/cidr/cc/port; empty for logical and MATCH
	Target string // DIRECT/REJECT/proxy/group name

	NoResolve bool // IP rules only
	Src       bool // GEOIP/IP-CIDR ",src" option

	// Sub holds the operands of AND/OR/NOT, in source order.
	Sub []Rule

	Raw  string
	Line int // 1-based line in the source document; 0 when unknown
}

const (
	RuleMatch = "MATCH"
	RuleAnd   = "AND"
	RuleOr    = "OR"
	RuleNot   = "NOT"
)

func (r Rule) IsLogical() bool {
	return r.Type == RuleAnd || r.Type == RuleOr || r.Type == RuleNot
}

// RuleProvider is one entry of the Clash "rule-providers" mapping.
type RuleProvider struct {
	Name     string
	Type     string // http | file | inline
	Behavior string // domain | ipcidr | classical
	Format   string // yaml | text | mrs
	URL      string
	Path     string

	IntervalMS int
	Payload    []string // inline providers only
	Line       int
}
