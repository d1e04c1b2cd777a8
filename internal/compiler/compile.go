// Package compiler translates a parsed Clash document into a sing-box
// document. It does no I/O; every run is independent.
package compiler

import (
	"errors"
	"fmt"

	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
)

// Diagnostic stages.
const (
	stageSource   = "parse_source"
	stageProxy    = "translate_proxy"
	stageGroup    = "translate_group"
	stageRule     = "translate_rule"
	stageDNS      = "translate_dns"
	stageAssemble = "assemble"
	stageRuleSet  = "convert_ruleset"
)

// Capabilities describes optional features of the sing-box build the output
// is meant for.
type Capabilities struct {
	FakeIP bool
}

func DefaultCapabilities() Capabilities {
	return Capabilities{FakeIP: true}
}

type Options struct {
	// RulesetBaseURL is the public base URL of this service. When set, http
	// rule-providers are rewritten to <base>/ruleset?url=... so sing-box
	// downloads a converted rule-set.
	RulesetBaseURL string

	Capabilities Capabilities
}

type CompileError struct {
	AppError model.AppError
	Cause    error

	// Diagnostics holds everything collected before the failure.
	Diagnostics []model.Diagnostic
}

func (e *CompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

func compileErr(code string, line int, snippet string, format string, args ...any) *CompileError {
	return &CompileError{
		AppError: model.AppError{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
			Stage:   "compile",
			Line:    line,
			Snippet: snippet,
		},
	}
}

// Compile translates doc. Warnings go to dc; a structural problem returns a
// *CompileError and no document.
func Compile(doc *model.SourceDocument, opt Options, dc *diag.Collector) (*model.TargetDocument, error) {
	if doc == nil {
		return nil, compileErr("SOURCE_PARSE_ERROR", 0, "", "Clash 配置不能为空")
	}
	c := newCompiler(doc, opt, dc)

	out, err := c.run()
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			dc.Error("compile", "", ce.AppError.Line, "%s", ce.AppError.Message)
			ce.Diagnostics = dc.Items()
		}
		return nil, err
	}
	return out, nil
}

type compiler struct {
	doc *model.SourceDocument
	opt Options
	dc  *diag.Collector

	proxies  []proxyOut
	proxyIdx map[string]int
	skipped  map[string]string // proxy name -> reason
	groups   map[string]*model.Group

	// groupOut holds, per group, the outbounds it emits (relay hop copies
	// first, the group itself last).
	groupOut map[string][]model.Outbound

	ruleSets *ruleSetRegistry
	fakeIP   bool
}

func newCompiler(doc *model.SourceDocument, opt Options, dc *diag.Collector) *compiler {
	c := &compiler{
		doc:      doc,
		opt:      opt,
		dc:       dc,
		proxyIdx: make(map[string]int, len(doc.Proxies)),
		skipped:  make(map[string]string),
		groups:   make(map[string]*model.Group, len(doc.Groups)),
		groupOut: make(map[string][]model.Outbound, len(doc.Groups)),
		ruleSets: newRuleSetRegistry(),
	}
	for i := range doc.Groups {
		c.groups[doc.Groups[i].Name] = &doc.Groups[i]
	}
	return c
}

func (c *compiler) run() (*model.TargetDocument, error) {
	if err := c.checkNames(); err != nil {
		return nil, err
	}
	if err := c.checkCycles(); err != nil {
		return nil, err
	}

	c.translateProxies()
	if err := c.resolveDetours(); err != nil {
		return nil, err
	}
	if err := c.translateGroups(); err != nil {
		return nil, err
	}

	route, err := c.translateRoute()
	if err != nil {
		return nil, err
	}
	dns, err := c.translateDNS()
	if err != nil {
		return nil, err
	}
	return c.assemble(route, dns)
}

// checkNames enforces one namespace over proxies and groups, with the
// built-in policy names reserved.
func (c *compiler) checkNames() error {
	seen := make(map[string]int, len(c.doc.Proxies)+len(c.doc.Groups))
	check := func(name string, line int, what string) error {
		if isReservedTag(name) {
			return compileErr("DUPLICATE_TAG", line, name, "%s 名称 %q 与内置策略冲突", what, name)
		}
		if prev, ok := seen[name]; ok {
			return compileErr("DUPLICATE_TAG", line, name, "名称重复：%q（首次出现于第 %d 行）", name, prev)
		}
		seen[name] = line
		return nil
	}
	for _, p := range c.doc.Proxies {
		if err := check(p.Name, p.Line, "proxy"); err != nil {
			return err
		}
	}
	for _, g := range c.doc.Groups {
		if err := check(g.Name, g.Line, "proxy-group"); err != nil {
			return err
		}
	}
	return nil
}

func isReservedTag(name string) bool {
	switch name {
	case "DIRECT", "REJECT", "REJECT-DROP", "PASS", model.TagBlock:
		return true
	}
	return false
}

type refKind int

const (
	refMissing refKind = iota
	refBuiltin
	refProxy
	refGroup
	refSkipped
	refUnsupported
	refRuleSet
)

// lookup resolves a policy name used as a group member, rule target or
// dialer-proxy. The returned tag is the sing-box outbound tag.
func (c *compiler) lookup(name string) (string, refKind) {
	switch name {
	case "DIRECT":
		return model.TagDirect, refBuiltin
	case "REJECT", "REJECT-DROP":
		return model.TagBlock, refBuiltin
	case "PASS", "COMPATIBLE":
		return "", refUnsupported
	}
	if _, ok := c.groups[name]; ok {
		return name, refGroup
	}
	if _, ok := c.proxyIdx[name]; ok {
		return name, refProxy
	}
	if _, ok := c.skipped[name]; ok {
		return "", refSkipped
	}
	return "", refMissing
}
