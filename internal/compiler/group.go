package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/samber/lo"
)

const (
	defaultTestURL     = "https://www.gstatic.com/generate_204"
	defaultIntervalMS  = 300 * 1000
	defaultToleranceMS = 50
)

func (c *compiler) translateGroups() error {
	for i := range c.doc.Groups {
		g := &c.doc.Groups[i]
		members, err := c.groupMembers(g)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return compileErr("EMPTY_GROUP", g.Line, g.Name, "策略组 %q 没有可用成员", g.Name)
		}

		if g.Type == model.GroupRelay {
			obs, err := c.relay(g, members)
			if err != nil {
				return err
			}
			c.groupOut[g.Name] = obs
			continue
		}
		c.groupOut[g.Name] = []model.Outbound{c.group(g, members)}
	}
	return nil
}

// groupMembers resolves explicit members and include-all into outbound
// tags, source order. Duplicates are dropped except in relay groups, where
// a repeated hop is part of the chain.
func (c *compiler) groupMembers(g *model.Group) ([]string, error) {
	entity := diag.GroupEntity(g.Name)
	var out []string

	for _, m := range g.Members {
		tag, kind := c.lookup(m)
		switch kind {
		case refMissing:
			return nil, compileErr("DANGLING_REFERENCE", g.Line, m,
				"策略组 %q 引用了不存在的成员 %q", g.Name, m)
		case refSkipped:
			c.dc.Warn(stageGroup, entity, g.Line, "成员 %q 对应的节点已被跳过，已移除", m)
			continue
		case refUnsupported:
			c.dc.Warn(stageGroup, entity, g.Line, "内置策略 %q 在 sing-box 中没有对应项，已移除", m)
			continue
		}
		out = append(out, tag)
	}

	if len(g.Use) > 0 {
		c.dc.Warn(stageGroup, entity, g.Line, "proxy-provider 引用 %s 不会被展开", strings.Join(g.Use, ", "))
	}

	if g.IncludeAll {
		include, err := c.filterProxies(g)
		if err != nil {
			return nil, err
		}
		out = append(out, include...)
	} else if g.Filter != "" || g.ExcludeFilter != "" {
		c.dc.Warn(stageGroup, entity, g.Line, "filter 仅作用于 include-all 引入的节点，已忽略")
	}

	if g.Type == model.GroupRelay {
		return out, nil
	}
	return lo.Uniq(out), nil
}

// filterProxies applies filter / exclude-filter to every translated proxy.
// Both accept several regexps separated by '`'.
func (c *compiler) filterProxies(g *model.Group) ([]string, error) {
	include, err := compileFilter(g.Filter)
	if err != nil {
		return nil, compileErr("GROUP_FILTER_INVALID", g.Line, g.Filter, "策略组 %q 的 filter 不合法", g.Name)
	}
	exclude, err := compileFilter(g.ExcludeFilter)
	if err != nil {
		return nil, compileErr("GROUP_FILTER_INVALID", g.Line, g.ExcludeFilter, "策略组 %q 的 exclude-filter 不合法", g.Name)
	}

	var out []string
	for _, po := range c.proxies {
		tag := po.tag()
		if len(include) > 0 && !matchAny(include, tag) {
			continue
		}
		if matchAny(exclude, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out, nil
}

func compileFilter(s string) ([]*regexp.Regexp, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []*regexp.Regexp
	for _, part := range strings.Split(s, "`") {
		if part == "" {
			continue
		}
		re, err := regexp.Compile(part)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (c *compiler) group(g *model.Group, members []string) model.Outbound {
	entity := diag.GroupEntity(g.Name)
	ob := model.Outbound{
		Outbound: option.Outbound{Type: C.TypeSelector, Tag: g.Name},
		From:     model.OutboundFromGroup,
		Line:     g.Line,
	}
	selector := &option.SelectorOutboundOptions{Outbounds: members, Default: members[0]}

	switch g.Type {
	case model.GroupSelect:
		ob.Options = selector
	case model.GroupFallback, model.GroupLoadBalance:
		c.dc.Warn(stageGroup, entity, g.Line, "sing-box 没有 %s 类型，已近似为 urltest", g.Type)
		fallthrough
	case model.GroupURLTest:
		url := g.URL
		if url == "" {
			url = defaultTestURL
		}
		interval := g.IntervalMS
		if interval <= 0 {
			interval = defaultIntervalMS
		}
		tolerance := defaultToleranceMS
		if g.HasTolerance {
			tolerance = g.ToleranceMS
		}
		ob.Type = C.TypeURLTest
		ob.Options = &option.URLTestOutboundOptions{
			Outbounds: members,
			URL:       url,
			Interval:  durationMS(interval),
			Tolerance: uint16(tolerance),
		}
	default:
		c.dc.Warn(stageGroup, entity, g.Line, "不支持的策略组类型 %q，已按 select 处理", g.Type)
		ob.Options = selector
	}
	return ob
}

// relay chains members: every hop after the first becomes a copy of that
// proxy dialing through the previous hop. The last copy carries the group
// tag.
func (c *compiler) relay(g *model.Group, members []string) ([]model.Outbound, error) {
	if len(members) < 2 {
		return nil, compileErr("RELAY_MEMBER_UNSUPPORTED", g.Line, g.Name,
			"relay 策略组 %q 至少需要两个可用成员", g.Name)
	}
	for _, m := range g.Members {
		if _, kind := c.lookup(m); kind == refSkipped {
			return nil, compileErr("RELAY_MEMBER_UNSUPPORTED", g.Line, m,
				"relay 策略组 %q 的成员 %q 已被跳过，无法串联", g.Name, m)
		}
	}

	out := make([]model.Outbound, 0, len(members)-1)
	used := make(map[string]bool, len(members))
	prev := members[0]
	for i, m := range members[1:] {
		idx, ok := c.proxyIdx[m]
		if !ok {
			return nil, compileErr("RELAY_MEMBER_UNSUPPORTED", g.Line, m,
				"relay 策略组 %q 的第 %d 跳 %q 必须是节点", g.Name, i+2, m)
		}
		src := c.proxies[idx]
		if src.dialer.Detour != "" {
			c.dc.Warn(stageGroup, diag.GroupEntity(g.Name), g.Line,
				"节点 %q 的 dialer-proxy 在 relay 中被替换", m)
		}

		tag := fmt.Sprintf("%s/%s", g.Name, m)
		if used[tag] {
			tag = fmt.Sprintf("%s/%s#%d", g.Name, m, i+2)
		}
		if i == len(members)-2 {
			tag = g.Name
		}
		used[tag] = true

		out = append(out, model.Outbound{
			Outbound: option.Outbound{
				Type:    src.proto.outType,
				Tag:     tag,
				Options: src.options(prev),
			},
			From: model.OutboundFromRelay,
			Line: g.Line,
		})
		prev = tag
	}
	return out, nil
}
