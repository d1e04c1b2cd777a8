package compiler

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/rules"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/json/badoption"
)

const (
	geoIPURL   = "https://raw.githubusercontent.com/SagerNet/sing-geoip/rule-set/%s.srs"
	geoSiteURL = "https://raw.githubusercontent.com/SagerNet/sing-geosite/rule-set/%s.srs"
)

// ruleSetRegistry collects route.rule_set entries in first-use order.
type ruleSetRegistry struct {
	entries []option.RuleSet
	tags    map[string]bool

	// providers caches the outcome per rule-provider name: the rule_set tag,
	// or "" when the provider could not be used.
	providers map[string]string
}

func newRuleSetRegistry() *ruleSetRegistry {
	return &ruleSetRegistry{tags: make(map[string]bool), providers: make(map[string]string)}
}

func (r *ruleSetRegistry) add(entry option.RuleSet) {
	if r.tags[entry.Tag] {
		return
	}
	r.tags[entry.Tag] = true
	r.entries = append(r.entries, entry)
}

func (c *compiler) geoRuleSet(kind, code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	tag := kind + "-" + code
	u := fmt.Sprintf(geoIPURL, tag)
	if kind == "geosite" {
		u = fmt.Sprintf(geoSiteURL, tag)
	}
	c.ruleSets.add(option.RuleSet{
		Type:   C.RuleSetTypeRemote,
		Tag:    tag,
		Format: C.RuleSetFormatBinary,
		RemoteOptions: option.RemoteRuleSet{
			URL:            u,
			DownloadDetour: model.TagDirect,
		},
	})
	return tag
}

// providerRuleSet turns a rule-provider into a rule_set entry on first use.
func (c *compiler) providerRuleSet(name string) (string, refKind) {
	if tag, ok := c.ruleSets.providers[name]; ok {
		if tag == "" {
			return "", refSkipped
		}
		return tag, refRuleSet
	}
	rp, ok := c.doc.RuleProvider(name)
	if !ok {
		return "", refMissing
	}

	entity := fmt.Sprintf("rule-provider %q", name)
	warn := func(format string, args ...any) {
		c.dc.Warn(stageRule, entity, rp.Line, format, args...)
	}
	unusable := func(format string, args ...any) (string, refKind) {
		warn(format, args...)
		c.ruleSets.providers[name] = ""
		return "", refSkipped
	}

	rs := option.RuleSet{Tag: name}
	switch rp.Type {
	case "http":
		if rp.Format == "mrs" {
			return unusable("mrs 格式无法转换为 sing-box rule-set，已跳过")
		}
		rs.Type = C.RuleSetTypeRemote
		rs.Format = C.RuleSetFormatSource
		rs.RemoteOptions.DownloadDetour = model.TagDirect
		if base := strings.TrimRight(c.opt.RulesetBaseURL, "/"); base != "" {
			q := url.Values{}
			q.Set("url", rp.URL)
			if rp.Behavior != "" {
				q.Set("behavior", rp.Behavior)
			}
			rs.RemoteOptions.URL = base + "/ruleset?" + q.Encode()
		} else {
			warn("未配置公开地址，rule-set 直接指向 Clash 格式的 %s，sing-box 无法直接读取", rp.URL)
			rs.RemoteOptions.URL = rp.URL
		}
		if rp.IntervalMS > 0 {
			rs.RemoteOptions.UpdateInterval = durationMS(rp.IntervalMS)
		}
	case "file":
		warn("file 类型 rule-provider 需要本地存在已转换的 %s", rp.Path)
		rs.Type = C.RuleSetTypeLocal
		rs.Format = C.RuleSetFormatSource
		rs.LocalOptions.Path = rp.Path
	case "inline":
		parsed, errs := rules.ParsePayload(rp.Payload, rp.Behavior)
		for _, err := range errs {
			warn("payload 条目无法解析：%v", err)
		}
		sub := diag.New()
		doc := CompileRuleSet(parsed, sub)
		for _, d := range sub.Items() {
			warn("%s", d.Message)
		}
		if len(doc.Rules) == 0 {
			return unusable("inline rule-provider 没有可用条目，已跳过")
		}
		rs.Type = C.RuleSetTypeInline
		rs.InlineOptions.Rules = doc.Rules
	default:
		return unusable("不支持的 rule-provider 类型 %q，已跳过", rp.Type)
	}

	c.ruleSets.providers[name] = name
	c.ruleSets.add(rs)
	return name, refRuleSet
}

// matcher is the condition part of one translated rule. Route rules, DNS
// rules and headless rule-set entries share these fields, so a rule is
// translated once and projected onto whichever option type needs it.
type matcher struct {
	logical string // C.LogicalTypeAnd / C.LogicalTypeOr, "" for a plain rule
	sub     []matcher
	invert  bool

	domain        []string
	domainSuffix  []string
	domainKeyword []string
	domainRegex   []string

	ipCIDR       []string
	sourceIPCIDR []string
	ipIsPrivate  bool

	port            []uint16
	portRange       []string
	sourcePort      []uint16
	sourcePortRange []string

	processName []string
	processPath []string
	network     []string

	ruleSet                  []string
	ruleSetIPCIDRMatchSource bool
}

// family names the single match family m uses, or "" when m mixes families
// or carries flags. Within a sing-box rule, values of one field OR together
// while different fields AND together, so only same-family rules merge.
func (m matcher) family() string {
	if m.logical != "" || m.invert || m.ipIsPrivate || m.ruleSetIPCIDRMatchSource {
		return ""
	}
	fam := ""
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"domain", len(m.domain)+len(m.domainSuffix)+len(m.domainKeyword)+len(m.domainRegex) > 0},
		{"ip_cidr", len(m.ipCIDR) > 0},
		{"source_ip_cidr", len(m.sourceIPCIDR) > 0},
		{"port", len(m.port)+len(m.portRange) > 0},
		{"source_port", len(m.sourcePort)+len(m.sourcePortRange) > 0},
		{"process_name", len(m.processName) > 0},
		{"process_path", len(m.processPath) > 0},
		{"network", len(m.network) > 0},
		{"rule_set", len(m.ruleSet) > 0},
	} {
		if !f.set {
			continue
		}
		if fam != "" {
			return ""
		}
		fam = f.name
	}
	return fam
}

func (m *matcher) merge(o matcher) {
	m.domain = append(m.domain, o.domain...)
	m.domainSuffix = append(m.domainSuffix, o.domainSuffix...)
	m.domainKeyword = append(m.domainKeyword, o.domainKeyword...)
	m.domainRegex = append(m.domainRegex, o.domainRegex...)
	m.ipCIDR = append(m.ipCIDR, o.ipCIDR...)
	m.sourceIPCIDR = append(m.sourceIPCIDR, o.sourceIPCIDR...)
	m.port = append(m.port, o.port...)
	m.portRange = append(m.portRange, o.portRange...)
	m.sourcePort = append(m.sourcePort, o.sourcePort...)
	m.sourcePortRange = append(m.sourcePortRange, o.sourcePortRange...)
	m.processName = append(m.processName, o.processName...)
	m.processPath = append(m.processPath, o.processPath...)
	m.network = append(m.network, o.network...)
	m.ruleSet = append(m.ruleSet, o.ruleSet...)
}

// mergeFamilies folds single-family matchers into one per family,
// first-appearance order. Anything else stays as is.
func mergeFamilies(ms []matcher) []matcher {
	var out []matcher
	at := make(map[string]int)
	for _, m := range ms {
		fam := m.family()
		if fam == "" {
			out = append(out, m)
			continue
		}
		i, ok := at[fam]
		if !ok {
			at[fam] = len(out)
			var fresh matcher
			fresh.merge(m)
			out = append(out, fresh)
			continue
		}
		out[i].merge(m)
	}
	return out
}

func routeAction(outbound string) option.RuleAction {
	return option.RuleAction{
		Action:       C.RuleActionTypeRoute,
		RouteOptions: option.RouteActionOptions{Outbound: outbound},
	}
}

// routeRule projects m onto a route rule. Nested rules carry an empty route
// action so they marshal as bare conditions.
func (m matcher) routeRule(action option.RuleAction) option.Rule {
	if m.logical != "" {
		subs := make([]option.Rule, 0, len(m.sub))
		for _, s := range m.sub {
			subs = append(subs, s.routeRule(routeAction("")))
		}
		return option.Rule{
			Type: C.RuleTypeLogical,
			LogicalOptions: option.LogicalRule{
				RawLogicalRule: option.RawLogicalRule{Mode: m.logical, Rules: subs, Invert: m.invert},
				RuleAction:     action,
			},
		}
	}
	return option.Rule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultRule{
			RawDefaultRule: option.RawDefaultRule{
				Network:                  m.network,
				Domain:                   m.domain,
				DomainSuffix:             m.domainSuffix,
				DomainKeyword:            m.domainKeyword,
				DomainRegex:              m.domainRegex,
				SourceIPCIDR:             m.sourceIPCIDR,
				IPCIDR:                   m.ipCIDR,
				IPIsPrivate:              m.ipIsPrivate,
				SourcePort:               m.sourcePort,
				SourcePortRange:          m.sourcePortRange,
				Port:                     m.port,
				PortRange:                m.portRange,
				ProcessName:              m.processName,
				ProcessPath:              m.processPath,
				RuleSet:                  m.ruleSet,
				RuleSetIPCIDRMatchSource: m.ruleSetIPCIDRMatchSource,
				Invert:                   m.invert,
			},
			RuleAction: action,
		},
	}
}

func dnsAction(server string) option.DNSRuleAction {
	return option.DNSRuleAction{
		Action:       C.RuleActionTypeRoute,
		RouteOptions: option.DNSRouteActionOptions{Server: server},
	}
}

// dnsRule projects m onto a DNS rule routed to server.
func (m matcher) dnsRule(action option.DNSRuleAction) option.DNSRule {
	if m.logical != "" {
		subs := make([]option.DNSRule, 0, len(m.sub))
		for _, s := range m.sub {
			subs = append(subs, s.dnsRule(dnsAction("")))
		}
		return option.DNSRule{
			Type: C.RuleTypeLogical,
			LogicalOptions: option.LogicalDNSRule{
				RawLogicalDNSRule: option.RawLogicalDNSRule{Mode: m.logical, Rules: subs, Invert: m.invert},
				DNSRuleAction:     action,
			},
		}
	}
	return option.DNSRule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultDNSRule{
			RawDefaultDNSRule: option.RawDefaultDNSRule{
				Network:                  m.network,
				Domain:                   m.domain,
				DomainSuffix:             m.domainSuffix,
				DomainKeyword:            m.domainKeyword,
				DomainRegex:              m.domainRegex,
				SourceIPCIDR:             m.sourceIPCIDR,
				IPCIDR:                   m.ipCIDR,
				IPIsPrivate:              m.ipIsPrivate,
				SourcePort:               m.sourcePort,
				SourcePortRange:          m.sourcePortRange,
				Port:                     m.port,
				PortRange:                m.portRange,
				ProcessName:              m.processName,
				ProcessPath:              m.processPath,
				RuleSet:                  m.ruleSet,
				RuleSetIPCIDRMatchSource: m.ruleSetIPCIDRMatchSource,
				Invert:                   m.invert,
			},
			DNSRuleAction: action,
		},
	}
}

// headlessRule projects m onto a rule-set entry. Headless rules have no
// ip_is_private or rule_set fields; translateMatcher never produces them
// without a compiler.
func (m matcher) headlessRule() option.HeadlessRule {
	if m.logical != "" {
		subs := make([]option.HeadlessRule, 0, len(m.sub))
		for _, s := range m.sub {
			subs = append(subs, s.headlessRule())
		}
		return option.HeadlessRule{
			Type:           C.RuleTypeLogical,
			LogicalOptions: option.LogicalHeadlessRule{Mode: m.logical, Rules: subs, Invert: m.invert},
		}
	}
	return option.HeadlessRule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultHeadlessRule{
			Network:         m.network,
			Domain:          m.domain,
			DomainSuffix:    m.domainSuffix,
			DomainKeyword:   m.domainKeyword,
			DomainRegex:     m.domainRegex,
			SourceIPCIDR:    m.sourceIPCIDR,
			IPCIDR:          m.ipCIDR,
			SourcePort:      m.sourcePort,
			SourcePortRange: m.sourcePortRange,
			Port:            m.port,
			PortRange:       m.portRange,
			ProcessName:     m.processName,
			ProcessPath:     m.processPath,
			Invert:          m.invert,
		},
	}
}

// matchError is a structural problem found while translating a matcher.
type matchError struct {
	code string
	msg  string
}

// translateMatcher maps one rule (without its target) to a matcher. skip is
// non-empty when the rule has no sing-box equivalent. c may be nil for
// headless rule-sets, where geo, private-range and RULE-SET matchers are
// skipped.
func translateMatcher(r model.Rule, c *compiler) (m matcher, skip string, merr *matchError) {
	v := r.Value
	switch r.Type {
	case "DOMAIN":
		m.domain = []string{v}
	case "DOMAIN-SUFFIX":
		m.domainSuffix = []string{v}
	case "DOMAIN-KEYWORD":
		m.domainKeyword = []string{v}
	case "DOMAIN-REGEX":
		if _, err := regexp.Compile(v); err != nil {
			return m, fmt.Sprintf("正则 %q 不合法", v), nil
		}
		m.domainRegex = []string{v}
	case "IP-CIDR", "IP-CIDR6", "SRC-IP-CIDR":
		cidr, err := rules.NormalizeCIDR(v)
		if err != nil {
			return m, fmt.Sprintf("CIDR %q 不合法", v), nil
		}
		if r.Type == "SRC-IP-CIDR" || r.Src {
			m.sourceIPCIDR = []string{cidr}
		} else {
			m.ipCIDR = []string{cidr}
		}
	case "DST-PORT", "SRC-PORT":
		ports, ranges, ok := parsePorts(v)
		if !ok {
			return m, fmt.Sprintf("端口 %q 不合法", v), nil
		}
		if r.Type == "SRC-PORT" {
			m.sourcePort, m.sourcePortRange = ports, ranges
		} else {
			m.port, m.portRange = ports, ranges
		}
	case "PROCESS-NAME":
		m.processName = []string{v}
	case "PROCESS-PATH":
		m.processPath = []string{v}
	case "NETWORK":
		n := strings.ToLower(v)
		if n != "tcp" && n != "udp" {
			return m, fmt.Sprintf("NETWORK %q 无法映射", v), nil
		}
		m.network = []string{n}
	case "GEOIP":
		if c == nil {
			return m, "rule-set 中不支持 GEOIP", nil
		}
		if strings.EqualFold(v, "lan") || strings.EqualFold(v, "private") {
			m.ipIsPrivate = true
			break
		}
		m.ruleSet = []string{c.geoRuleSet("geoip", v)}
		m.ruleSetIPCIDRMatchSource = r.Src
	case "GEOSITE":
		if c == nil {
			return m, "rule-set 中不支持 GEOSITE", nil
		}
		m.ruleSet = []string{c.geoRuleSet("geosite", v)}
	case "RULE-SET":
		if c == nil {
			return m, "rule-set 中不支持 RULE-SET", nil
		}
		tag, kind := c.providerRuleSet(v)
		switch kind {
		case refMissing:
			return m, "", &matchError{code: "DANGLING_REFERENCE", msg: fmt.Sprintf("RULE-SET 引用了未声明的 rule-provider %q", v)}
		case refSkipped:
			return m, fmt.Sprintf("rule-provider %q 不可用", v), nil
		}
		m.ruleSet = []string{tag}
	case model.RuleAnd, model.RuleOr:
		m.logical = C.LogicalTypeAnd
		if r.Type == model.RuleOr {
			m.logical = C.LogicalTypeOr
		}
		for _, s := range r.Sub {
			sm, skip, merr := translateMatcher(s, c)
			if merr != nil || skip != "" {
				return matcher{}, skip, merr
			}
			m.sub = append(m.sub, sm)
		}
	case model.RuleNot:
		if len(r.Sub) != 1 {
			return m, "NOT 必须只有一条子规则", nil
		}
		sm, skip, merr := translateMatcher(r.Sub[0], c)
		if merr != nil || skip != "" {
			return matcher{}, skip, merr
		}
		sm.invert = !sm.invert
		return sm, "", nil
	default:
		return m, fmt.Sprintf("规则类型 %s 在 sing-box 中没有对应项", r.Type), nil
	}
	return m, "", nil
}

// parsePorts reads "443", "8000-9000" and "80/443/8000-9000". Ranges use
// sing-box's "a:b" form.
func parsePorts(v string) (ports []uint16, ranges []string, ok bool) {
	for _, part := range strings.Split(v, "/") {
		part = strings.TrimSpace(part)
		if from, to, isRange := strings.Cut(part, "-"); isRange {
			a, err1 := strconv.ParseUint(strings.TrimSpace(from), 10, 16)
			b, err2 := strconv.ParseUint(strings.TrimSpace(to), 10, 16)
			if err1 != nil || err2 != nil || a > b {
				return nil, nil, false
			}
			ranges = append(ranges, fmt.Sprintf("%d:%d", a, b))
			continue
		}
		p, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, nil, false
		}
		ports = append(ports, uint16(p))
	}
	return ports, ranges, true
}

// policyRule turns a nameserver-policy key into a rule so DNS rules share
// the route matcher translation.
func policyRule(match string) (model.Rule, error) {
	switch {
	case strings.HasPrefix(match, "geosite:"):
		return model.Rule{Type: "GEOSITE", Value: strings.TrimPrefix(match, "geosite:")}, nil
	case strings.HasPrefix(match, "rule-set:"):
		return model.Rule{Type: "RULE-SET", Value: strings.TrimPrefix(match, "rule-set:")}, nil
	case strings.HasPrefix(match, "geoip:"):
		return model.Rule{Type: "GEOIP", Value: strings.TrimPrefix(match, "geoip:")}, nil
	}
	return rules.ParseDomainPattern(match)
}

// durationMS converts a Clash millisecond count to a sing-box duration.
func durationMS(ms int) badoption.Duration {
	return badoption.Duration(time.Duration(ms) * time.Millisecond)
}

// stringList keeps nil for empty input so omitempty fields stay out.
func stringList(values []string) badoption.Listable[string] {
	if len(values) == 0 {
		return nil
	}
	return badoption.Listable[string](values)
}
