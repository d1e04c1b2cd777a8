package compiler

import (
	"net/netip"

	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/json/badoption"
)

func builtinOutbound(typ, tag string, opts any) model.Outbound {
	return model.Outbound{
		Outbound: option.Outbound{Type: typ, Tag: tag, Options: opts},
		From:     model.OutboundFromBuiltin,
	}
}

// assemble orders outbounds (proxies, groups with their relay hops, then
// DIRECT and BLOCK) and adds the scaffolding sing-box needs to start.
func (c *compiler) assemble(route model.Route, dns *option.DNSOptions) (*model.TargetDocument, error) {
	obs := make([]model.Outbound, 0, len(c.proxies)+len(c.doc.Groups)+2)
	for _, po := range c.proxies {
		obs = append(obs, po.outbound())
	}
	for _, g := range c.doc.Groups {
		obs = append(obs, c.groupOut[g.Name]...)
	}
	obs = append(obs,
		builtinOutbound(C.TypeDirect, model.TagDirect, &option.DirectOutboundOptions{}),
		builtinOutbound(C.TypeBlock, model.TagBlock, &option.StubOptions{}),
	)

	tags := make(map[string]bool, len(obs))
	for _, ob := range obs {
		if tags[ob.Tag] {
			return nil, compileErr("DUPLICATE_TAG", ob.Line, ob.Tag, "出站 tag 重复：%q", ob.Tag)
		}
		tags[ob.Tag] = true
	}
	if err := verifyReferences(obs, route, dns, tags); err != nil {
		return nil, err
	}

	route.RuleSets = c.ruleSets.entries
	return &model.TargetDocument{
		Log:          c.logOptions(),
		DNS:          dns,
		Inbounds:     c.inbounds(),
		Outbounds:    obs,
		Route:        route,
		Experimental: c.experimental(),
	}, nil
}

// outboundRefs lists the tags an outbound points at: group members and the
// dialer detour.
func outboundRefs(ob model.Outbound) []string {
	var refs []string
	switch o := ob.Options.(type) {
	case *option.SelectorOutboundOptions:
		refs = append(refs, o.Outbounds...)
	case *option.URLTestOutboundOptions:
		refs = append(refs, o.Outbounds...)
	}
	if d, ok := ob.Options.(option.DialerOptionsWrapper); ok {
		if detour := d.TakeDialerOptions().Detour; detour != "" {
			refs = append(refs, detour)
		}
	}
	return refs
}

// verifyReferences checks that every tag the document points at is emitted.
func verifyReferences(obs []model.Outbound, route model.Route, dns *option.DNSOptions, tags map[string]bool) error {
	missing := func(where, tag string) error {
		return compileErr("DANGLING_REFERENCE", 0, tag, "%s 引用了未输出的出站 %q", where, tag)
	}
	for _, ob := range obs {
		for _, ref := range outboundRefs(ob) {
			if !tags[ref] {
				return missing(ob.Tag, ref)
			}
		}
	}
	for _, r := range route.Rules {
		if !tags[r.Outbound] {
			return missing("route", r.Outbound)
		}
	}
	if dns != nil {
		for _, s := range dns.Servers {
			legacy, ok := s.Options.(*option.LegacyDNSServerOptions)
			if ok && legacy.Detour != "" && !tags[legacy.Detour] {
				return missing("dns", legacy.Detour)
			}
		}
	}
	return nil
}

func (c *compiler) logOptions() *option.LogOptions {
	switch c.doc.LogLevel {
	case "silent":
		return &option.LogOptions{Disabled: true}
	case "", "info":
		return &option.LogOptions{Level: "info", Timestamp: true}
	case "debug", "error":
		return &option.LogOptions{Level: c.doc.LogLevel, Timestamp: true}
	case "warning", "warn":
		return &option.LogOptions{Level: "warn", Timestamp: true}
	}
	c.dc.Warn(stageAssemble, "log-level", 0, "未知的 log-level %q，使用 info", c.doc.LogLevel)
	return &option.LogOptions{Level: "info", Timestamp: true}
}

func (c *compiler) inbounds() []option.Inbound {
	listen := "127.0.0.1"
	if c.doc.AllowLAN {
		listen = "::"
		if b := c.doc.BindAddress; b != "" && b != "*" {
			listen = b
		}
	}
	addr, err := netip.ParseAddr(listen)
	if err != nil {
		c.dc.Warn(stageAssemble, "bind-address", 0, "bind-address %q 不是 IP 地址，改为监听 ::", listen)
		addr = netip.IPv6Unspecified()
	}
	listenOptions := func(port int) option.ListenOptions {
		a := badoption.Addr(addr)
		return option.ListenOptions{Listen: &a, ListenPort: uint16(port)}
	}

	var out []option.Inbound
	if c.doc.MixedPort > 0 {
		out = append(out, option.Inbound{Type: C.TypeMixed, Tag: "mixed-in",
			Options: &option.HTTPMixedInboundOptions{ListenOptions: listenOptions(c.doc.MixedPort)}})
	}
	if c.doc.SocksPort > 0 {
		out = append(out, option.Inbound{Type: C.TypeSOCKS, Tag: "socks-in",
			Options: &option.SocksInboundOptions{ListenOptions: listenOptions(c.doc.SocksPort)}})
	}
	if c.doc.Port > 0 {
		out = append(out, option.Inbound{Type: C.TypeHTTP, Tag: "http-in",
			Options: &option.HTTPMixedInboundOptions{ListenOptions: listenOptions(c.doc.Port)}})
	}
	if len(out) == 0 {
		out = append(out, option.Inbound{Type: C.TypeMixed, Tag: "mixed-in",
			Options: &option.HTTPMixedInboundOptions{ListenOptions: listenOptions(7890)}})
	}
	return out
}

func (c *compiler) experimental() *option.ExperimentalOptions {
	o := &option.ExperimentalOptions{
		CacheFile: &option.CacheFileOptions{Enabled: true, StoreFakeIP: c.fakeIP},
	}
	if c.doc.ExternalController != "" {
		o.ClashAPI = &option.ClashAPIOptions{
			ExternalController: c.doc.ExternalController,
			Secret:             c.doc.Secret,
		}
	}
	return o
}
