package compiler

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/model"
	mDNS "github.com/miekg/dns"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/json/badoption"
)

const (
	defaultFakeIPRange  = "198.18.0.1/16"
	defaultFakeIP6Range = "fc00::/18"
)

type dnsBuilder struct {
	c   *compiler
	out *option.DNSOptions

	// byAddress reuses a server tag when the same address string appears
	// in several lists.
	byAddress map[string]string
	hasBoot   bool
	ipv6      bool
}

func (c *compiler) dnsWarn(line int, format string, args ...any) {
	c.dc.Warn(stageDNS, "dns", line, format, args...)
}

// dnsIPv6 reads dns.ipv6, falling back to the top-level ipv6 switch.
func (c *compiler) dnsIPv6() bool {
	switch {
	case c.doc.DNS.IPv6 != nil:
		return *c.doc.DNS.IPv6
	case c.doc.IPv6 != nil:
		return *c.doc.IPv6
	}
	return false
}

func (c *compiler) translateDNS() (*option.DNSOptions, error) {
	d := c.doc.DNS
	if !d.Present || !d.Enable {
		if len(d.Hosts) > 0 {
			c.dnsWarn(0, "hosts 在 sing-box 1.10 中没有对应项，已忽略")
		}
		return nil, nil
	}
	b := &dnsBuilder{c: c, out: &option.DNSOptions{}, byAddress: make(map[string]string), ipv6: c.dnsIPv6()}

	if err := b.servers("bootstrap", d.DefaultNameserver, false); err != nil {
		return nil, err
	}
	b.hasBoot = len(d.DefaultNameserver) > 0
	if len(d.Nameserver) == 0 {
		c.dnsWarn(d.Line, "未配置 nameserver，使用系统 DNS")
		b.add("dns-0", "local", "", false)
	} else if err := b.servers("dns", d.Nameserver, true); err != nil {
		return nil, err
	}
	if len(d.Fallback) > 0 {
		if err := b.servers("fallback", d.Fallback, true); err != nil {
			return nil, err
		}
		c.dnsWarn(d.Line, "fallback 服务器已转换，但 sing-box 没有 fallback 分流逻辑")
	}
	if d.HasFallbackFilter {
		c.dnsWarn(d.Line, "fallback-filter 在 sing-box 中没有对应项，已忽略")
	}
	if err := b.servers("proxy-dns", d.ProxyServerNameserver, true); err != nil {
		return nil, err
	}
	if d.Listen != "" {
		c.dnsWarn(d.Line, "dns.listen 需要单独的 dns 入站，已忽略")
	}
	if len(d.Hosts) > 0 || d.UseHosts {
		c.dnsWarn(d.Line, "hosts 在 sing-box 1.10 中没有对应项，已忽略")
	}

	// Proxy server domains resolve outside the proxies.
	switch {
	case len(d.ProxyServerNameserver) > 0:
		b.rule(anyOutboundRule(), "proxy-dns-0")
	case b.hasBoot:
		b.rule(anyOutboundRule(), "bootstrap-0")
	}

	if err := b.policies(d.NameserverPolicy); err != nil {
		return nil, err
	}

	if d.EnhancedMode == "fake-ip" {
		if err := b.fakeIP(d); err != nil {
			return nil, err
		}
	}

	b.out.Final = "dns-0"
	if !b.ipv6 {
		b.out.Strategy = domainStrategy("ipv4_only")
	}
	return b.out, nil
}

func anyOutboundRule() option.DNSRule {
	return option.DNSRule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultDNSRule{
			RawDefaultDNSRule: option.RawDefaultDNSRule{Outbound: badoption.Listable[string]{"any"}},
		},
	}
}

func queryTypeRule(types ...uint16) option.DNSRule {
	qt := make(badoption.Listable[option.DNSQueryType], 0, len(types))
	for _, t := range types {
		qt = append(qt, option.DNSQueryType(t))
	}
	return option.DNSRule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultDNSRule{
			RawDefaultDNSRule: option.RawDefaultDNSRule{QueryType: qt},
		},
	}
}

// rule appends r routed to server. r carries no action of its own.
func (b *dnsBuilder) rule(r option.DNSRule, server string) {
	if r.Type == C.RuleTypeLogical {
		r.LogicalOptions.DNSRuleAction = dnsAction(server)
	} else {
		r.DefaultOptions.DNSRuleAction = dnsAction(server)
	}
	b.out.Rules = append(b.out.Rules, r)
}

func (b *dnsBuilder) add(tag, address, detour string, resolver bool) {
	opts := &option.LegacyDNSServerOptions{Address: address, Detour: detour}
	if resolver {
		opts.AddressResolver = "bootstrap-0"
	}
	b.out.Servers = append(b.out.Servers, option.DNSServerOptions{
		Type:    C.DNSTypeLegacy,
		Tag:     tag,
		Options: opts,
	})
}

func (b *dnsBuilder) servers(prefix string, list []string, allowResolver bool) error {
	for i, raw := range list {
		if _, err := b.server(fmt.Sprintf("%s-%d", prefix, i), raw, allowResolver); err != nil {
			return err
		}
	}
	return nil
}

// server adds one server and returns its tag. Fixed lists always get their
// own tags; policy servers reuse the tag of an identical earlier address.
func (b *dnsBuilder) server(tag, raw string, allowResolver bool) (string, error) {
	line := b.c.doc.DNS.Line
	ns, err := parseNameserver(raw)
	if err != nil {
		b.c.dnsWarn(line, "nameserver %q 无法解析（%v），已改用系统 DNS", raw, err)
		ns = nameserver{address: "local"}
	}
	for _, p := range ns.params {
		b.c.dnsWarn(line, "nameserver %q 的参数 %q 没有对应项，已忽略", raw, p)
	}

	detour := ""
	if ns.proxy != "" {
		t, kind := b.c.lookup(ns.proxy)
		switch kind {
		case refMissing:
			return "", compileErr("DANGLING_REFERENCE", line, raw, "nameserver %q 引用了不存在的策略 %q", raw, ns.proxy)
		case refGroup, refProxy:
			detour = t
		case refBuiltin:
			if t != model.TagDirect {
				b.c.dnsWarn(line, "nameserver %q 的出站 %q 无意义，已忽略", raw, ns.proxy)
			}
		default:
			b.c.dnsWarn(line, "nameserver %q 的出站 %q 不可用，已忽略", raw, ns.proxy)
		}
	}

	resolver := ns.domain && allowResolver
	if resolver && !b.hasBoot {
		b.c.dnsWarn(line, "nameserver %q 使用域名，但没有 default-nameserver 可用于解析", raw)
		resolver = false
	}
	b.add(tag, ns.address, detour, resolver)
	if _, ok := b.byAddress[raw]; !ok {
		b.byAddress[raw] = tag
	}
	return tag, nil
}

func (b *dnsBuilder) policies(list []model.NameserverPolicy) error {
	n := 0
	for _, np := range list {
		entity := fmt.Sprintf("nameserver-policy %q", np.Match)
		if len(np.Servers) == 0 {
			continue
		}
		if len(np.Servers) > 1 {
			b.c.dc.Warn(stageDNS, entity, np.Line, "sing-box 每条规则只能指定一个服务器，仅使用 %q", np.Servers[0])
		}

		r, err := policyRule(np.Match)
		if err != nil {
			b.c.dc.Warn(stageDNS, entity, np.Line, "无法解析匹配条件，已跳过")
			continue
		}
		m, skip, merr := translateMatcher(r, b.c)
		if merr != nil {
			return compileErr(merr.code, np.Line, np.Match, "%s", merr.msg)
		}
		if skip != "" {
			b.c.dc.Warn(stageDNS, entity, np.Line, "%s，已跳过", skip)
			continue
		}

		tag, ok := b.byAddress[np.Servers[0]]
		if !ok {
			tag, err = b.server(fmt.Sprintf("policy-%d", n), np.Servers[0], true)
			if err != nil {
				return err
			}
			n++
		}
		b.rule(m.dnsRule(option.DNSRuleAction{}), tag)
	}
	return nil
}

func (b *dnsBuilder) fakeIP(d model.DNSPolicy) error {
	if !b.c.opt.Capabilities.FakeIP {
		b.c.dnsWarn(d.Line, "目标 sing-box 不支持 fake-ip，已改为普通解析")
		return nil
	}
	r := d.FakeIPRange
	if r == "" {
		r = defaultFakeIPRange
	}
	prefix, err := netip.ParsePrefix(r)
	if err != nil || !prefix.Addr().Is4() {
		b.c.dnsWarn(d.Line, "fake-ip-range %q 不合法，使用 %s", r, defaultFakeIPRange)
		prefix = netip.MustParsePrefix(defaultFakeIPRange)
	}
	inet4 := badoption.Prefix(prefix)
	f := &option.LegacyDNSFakeIPOptions{Enabled: true, Inet4Range: &inet4}
	if b.ipv6 {
		inet6 := badoption.Prefix(netip.MustParsePrefix(defaultFakeIP6Range))
		f.Inet6Range = &inet6
	}
	b.out.FakeIP = f
	b.out.IndependentCache = true
	b.c.fakeIP = true
	b.add("fakeip", "fakeip", "", false)

	if len(d.FakeIPFilter) > 0 {
		var matches []matcher
		for _, pattern := range d.FakeIPFilter {
			pr, err := policyRule(pattern)
			if err != nil {
				b.c.dnsWarn(d.Line, "fake-ip-filter %q 无法解析，已跳过", pattern)
				continue
			}
			m, skip, merr := translateMatcher(pr, b.c)
			if merr != nil {
				return compileErr(merr.code, d.Line, pattern, "%s", merr.msg)
			}
			if skip != "" {
				b.c.dnsWarn(d.Line, "fake-ip-filter %q：%s，已跳过", pattern, skip)
				continue
			}
			matches = append(matches, m)
		}
		for _, m := range mergeFamilies(matches) {
			b.rule(m.dnsRule(option.DNSRuleAction{}), "dns-0")
		}
	}

	b.rule(queryTypeRule(mDNS.TypeA, mDNS.TypeAAAA), "fakeip")
	return nil
}

type nameserver struct {
	address string
	proxy   string
	params  []string
	domain  bool
}

// parseNameserver reads a Clash nameserver entry. A "#name" suffix selects
// the outbound; "#k=v&..." suffixes are parameters sing-box has no use for.
func parseNameserver(raw string) (nameserver, error) {
	s := strings.TrimSpace(raw)
	var ns nameserver
	if base, frag, ok := strings.Cut(s, "#"); ok {
		s = base
		if strings.Contains(frag, "=") {
			ns.params = strings.Split(frag, "&")
		} else if frag != "" {
			ns.proxy = frag
		}
	}

	switch {
	case s == "":
		return ns, fmt.Errorf("empty address")
	case s == "system" || s == "system://":
		ns.address = "local"
		return ns, nil
	case s == "dhcp://system":
		ns.address = "dhcp://auto"
		return ns, nil
	}

	if !strings.Contains(s, "://") {
		ns.address = s
		ns.domain = !isIPHost(s)
		return ns, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return ns, err
	}
	switch u.Scheme {
	case "udp", "tcp", "tls", "https", "quic", "h3":
		ns.domain = !isIPHost(u.Host)
	case "dhcp":
	default:
		return ns, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	ns.address = s
	return ns, nil
}

func isIPHost(hostport string) bool {
	if _, err := netip.ParseAddr(hostport); err == nil {
		return true
	}
	if ap, err := netip.ParseAddrPort(hostport); err == nil && ap.Addr().IsValid() {
		return true
	}
	return false
}
