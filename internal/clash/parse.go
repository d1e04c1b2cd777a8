// Package clash reads a Clash configuration document into a
// model.SourceDocument, keeping source line numbers for diagnostics.
package clash

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/rules"
	"gopkg.in/yaml.v3"
)

const stageParseSource = "parse_source"

// ParseDocument parses a Clash YAML (or JSON) document.
//
// Shape problems inside a proxy entry are not errors: the key is recorded in
// Proxy.Invalid and the translator decides. Only documents that cannot be
// read (bad YAML, wrong root, malformed rule lines, entries without a name)
// fail with *ParseError.
//
// Top-level keys sing-box has no counterpart for are reported to dc as they
// are read, so they survive a later failure. dc may be nil.
func ParseDocument(sourceURL string, text string, dc *diag.Collector) (*model.SourceDocument, error) {
	root, err := decodeRoot(text)
	if err != nil {
		app := model.AppError{
			Code:    "SOURCE_PARSE_ERROR",
			Message: "Clash 配置 YAML 解析失败",
			Stage:   stageParseSource,
			URL:     sourceURL,
			Snippet: rules.TruncateSnippet(text, 200),
		}
		if line := yamlErrorLine(err); line > 0 {
			app.Line = line
			app.Snippet = rules.TruncateSnippet(lineAt(text, line), 200)
		}
		return nil, &ParseError{AppError: app, Cause: err}
	}
	if root == nil || isNull(root) {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "SOURCE_PARSE_ERROR",
				Message: "Clash 配置为空",
				Stage:   stageParseSource,
				URL:     sourceURL,
			},
		}
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "SOURCE_PARSE_ERROR",
				Message: "Clash 配置根节点必须是 mapping",
				Stage:   stageParseSource,
				URL:     sourceURL,
				Line:    root.Line,
				Snippet: rules.TruncateSnippet(lineAt(text, root.Line), 200),
			},
		}
	}

	doc, err := parseRoot(root, dc)
	if err != nil {
		pe := toParseError(sourceURL, text, err)
		pe.Diagnostics = dc.Items()
		return nil, pe
	}
	return doc, nil
}

func decodeRoot(text string) (*yaml.Node, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	// Reject multi-document YAML to keep behavior deterministic.
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}

	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		return resolve(doc.Content[0]), nil
	}
	return resolve(&doc), nil
}

func toParseError(sourceURL, text string, err error) *ParseError {
	var fe *fieldError
	if !errors.As(err, &fe) {
		return &ParseError{
			AppError: model.AppError{
				Code:    "SOURCE_PARSE_ERROR",
				Message: "Clash 配置解析失败",
				Stage:   stageParseSource,
				URL:     sourceURL,
			},
			Cause: err,
		}
	}
	snippet := fe.Snippet
	if snippet == "" && fe.Line > 0 {
		snippet = lineAt(text, fe.Line)
	}
	return &ParseError{
		AppError: model.AppError{
			Code:    fe.Code,
			Message: fe.Message,
			Stage:   stageParseSource,
			URL:     sourceURL,
			Line:    fe.Line,
			Snippet: rules.TruncateSnippet(snippet, 200),
			Hint:    fe.Path,
		},
		Cause: fe.Cause,
	}
}

func parseRoot(root *yaml.Node, dc *diag.Collector) (*model.SourceDocument, error) {
	doc := &model.SourceDocument{}
	var hosts *yaml.Node

	err := eachField(root, "", func(key string, v *yaml.Node) error {
		var err error
		switch key {
		case "proxies":
			doc.Proxies, err = parseProxies(v)
		case "proxy-groups":
			doc.Groups, err = parseGroups(v)
		case "rules":
			doc.Rules, err = parseRules(v)
		case "rule-providers":
			doc.RuleProviders, err = parseRuleProviders(v)
		case "dns":
			doc.DNS, err = parseDNS(v)
		case "hosts":
			hosts = v
		case "port":
			err = topInt(key, v, &doc.Port)
		case "socks-port":
			err = topInt(key, v, &doc.SocksPort)
		case "mixed-port":
			err = topInt(key, v, &doc.MixedPort)
		case "allow-lan":
			err = topBool(key, v, &doc.AllowLAN)
		case "bind-address":
			err = topString(key, v, &doc.BindAddress)
		case "mode":
			err = topString(key, v, &doc.Mode)
			doc.Mode = strings.ToLower(doc.Mode)
		case "log-level":
			err = topString(key, v, &doc.LogLevel)
			doc.LogLevel = strings.ToLower(doc.LogLevel)
		case "ipv6":
			var b bool
			if err = topBool(key, v, &b); err == nil && !isNull(v) {
				doc.IPv6 = &b
			}
		case "external-controller":
			err = topString(key, v, &doc.ExternalController)
		case "secret":
			err = topString(key, v, &doc.Secret)
		default:
			line := lineOf(v)
			doc.Extra = append(doc.Extra, model.ExtraKey{Key: key, Value: decodeAny(v), Line: line})
			dc.Warn(stageParseSource, fmt.Sprintf("key %q", key), line, "顶层字段 %q 在 sing-box 中没有对应项，已忽略", key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if hosts != nil && !isNull(hosts) {
		pairs, ok := stringPairs(hosts, "hosts")
		if !ok {
			return nil, &fieldError{Code: "SOURCE_PARSE_ERROR", Message: "hosts 必须是 mapping", Path: "hosts", Line: hosts.Line}
		}
		doc.DNS.Hosts = pairs
	}
	return doc, nil
}

func topInt(key string, v *yaml.Node, dst *int) error {
	if isNull(v) {
		return nil
	}
	n, ok := scalarInt(v)
	if !ok {
		return &fieldError{Code: "SOURCE_PARSE_ERROR", Message: key + " 必须是整数", Path: key, Line: v.Line}
	}
	*dst = n
	return nil
}

func topBool(key string, v *yaml.Node, dst *bool) error {
	if isNull(v) {
		return nil
	}
	b, ok := scalarBool(v)
	if !ok {
		return &fieldError{Code: "SOURCE_PARSE_ERROR", Message: key + " 必须是布尔值", Path: key, Line: v.Line}
	}
	*dst = b
	return nil
}

func topString(key string, v *yaml.Node, dst *string) error {
	if isNull(v) {
		return nil
	}
	s, ok := scalarString(v)
	if !ok {
		return &fieldError{Code: "SOURCE_PARSE_ERROR", Message: key + " 必须是字符串", Path: key, Line: v.Line}
	}
	*dst = s
	return nil
}

func parseGroups(n *yaml.Node) ([]model.Group, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &fieldError{Code: "SOURCE_PARSE_ERROR", Message: "proxy-groups 必须是列表", Path: "proxy-groups", Line: n.Line}
	}
	out := make([]model.Group, 0, len(n.Content))
	for i, item := range n.Content {
		g, err := parseGroup(item, fmt.Sprintf("proxy-groups[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func parseGroup(n *yaml.Node, path string) (model.Group, error) {
	n = resolve(n)
	g := model.Group{Line: lineOf(n)}

	fail := func(key, msg string, v *yaml.Node) error {
		return &fieldError{Code: "SOURCE_PARSE_ERROR", Message: msg, Path: path + "." + key, Line: lineOf(v)}
	}

	err := eachField(n, path, func(key string, v *yaml.Node) error {
		g.Keys = append(g.Keys, key)
		if isNull(v) {
			return nil
		}
		var ok bool
		switch key {
		case "name":
			g.Name, ok = scalarString(v)
		case "type":
			g.Type, ok = scalarString(v)
			g.Type = strings.ToLower(g.Type)
		case "proxies":
			g.Members, ok = stringList(v)
		case "use":
			g.Use, ok = stringList(v)
		case "include-all", "include-all-proxies":
			var b bool
			b, ok = scalarBool(v)
			g.IncludeAll = g.IncludeAll || b
		case "filter":
			g.Filter, ok = scalarString(v)
		case "exclude-filter":
			g.ExcludeFilter, ok = scalarString(v)
		case "url":
			g.URL, ok = scalarString(v)
		case "interval":
			g.IntervalMS, ok = durationMS(v, time.Second)
		case "timeout":
			g.TimeoutMS, ok = durationMS(v, time.Millisecond)
		case "tolerance":
			g.ToleranceMS, ok = durationMS(v, time.Millisecond)
			g.HasTolerance = ok
		case "lazy":
			g.Lazy, ok = scalarBool(v)
		case "strategy":
			g.Strategy, ok = scalarString(v)
		default:
			ok = true
		}
		if !ok {
			return fail(key, fmt.Sprintf("proxy-group 字段 %s 格式不合法", key), v)
		}
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	if g.Name == "" {
		return model.Group{}, fail("name", "proxy-group 缺少 name", n)
	}
	if g.Type == "" {
		return model.Group{}, fail("type", fmt.Sprintf("proxy-group %q 缺少 type", g.Name), n)
	}
	return g, nil
}

func parseRules(n *yaml.Node) ([]model.Rule, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &fieldError{Code: "SOURCE_PARSE_ERROR", Message: "rules 必须是列表", Path: "rules", Line: n.Line}
	}
	out := make([]model.Rule, 0, len(n.Content))
	for i, item := range n.Content {
		path := fmt.Sprintf("rules[%d]", i)
		line, ok := scalarString(item)
		if !ok {
			return nil, &fieldError{Code: "RULE_PARSE_ERROR", Message: "rule 必须是字符串", Path: path, Line: lineOf(item)}
		}
		r, err := rules.ParseInlineRule(line)
		if err != nil {
			fe := &fieldError{
				Code:    "RULE_PARSE_ERROR",
				Message: "rule 格式不合法",
				Path:    path,
				Line:    lineOf(item),
				Snippet: line,
				Cause:   err,
			}
			var re *rules.RuleError
			if errors.As(err, &re) {
				fe.Code = re.Code
				fe.Message = re.Message
				fe.Cause = re.Cause
				if re.Hint != "" {
					fe.Path = path + ": " + re.Hint
				}
			}
			return nil, fe
		}
		r.Line = lineOf(item)
		out = append(out, r)
	}
	return out, nil
}

func parseRuleProviders(n *yaml.Node) ([]model.RuleProvider, error) {
	if isNull(n) {
		return nil, nil
	}
	var out []model.RuleProvider
	err := eachField(n, "rule-providers", func(name string, v *yaml.Node) error {
		path := "rule-providers." + name
		rp := model.RuleProvider{Name: name, Line: lineOf(v)}
		err := eachField(v, path, func(key string, fv *yaml.Node) error {
			if isNull(fv) {
				return nil
			}
			ok := true
			switch key {
			case "type":
				rp.Type, ok = scalarString(fv)
				rp.Type = strings.ToLower(rp.Type)
			case "behavior":
				rp.Behavior, ok = scalarString(fv)
				rp.Behavior = strings.ToLower(rp.Behavior)
			case "format":
				rp.Format, ok = scalarString(fv)
				rp.Format = strings.ToLower(rp.Format)
			case "url":
				rp.URL, ok = scalarString(fv)
			case "path":
				rp.Path, ok = scalarString(fv)
			case "interval":
				rp.IntervalMS, ok = durationMS(fv, time.Second)
			case "payload":
				rp.Payload, ok = stringList(fv)
			}
			if !ok {
				return &fieldError{
					Code:    "SOURCE_PARSE_ERROR",
					Message: fmt.Sprintf("rule-provider 字段 %s 格式不合法", key),
					Path:    path + "." + key,
					Line:    fv.Line,
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, rp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseDNS(n *yaml.Node) (model.DNSPolicy, error) {
	if isNull(n) {
		return model.DNSPolicy{}, nil
	}
	d := model.DNSPolicy{Present: true, Line: lineOf(resolve(n))}
	err := eachField(n, "dns", func(key string, v *yaml.Node) error {
		if isNull(v) {
			return nil
		}
		ok := true
		switch key {
		case "enable":
			d.Enable, ok = scalarBool(v)
		case "ipv6":
			var b bool
			b, ok = scalarBool(v)
			d.IPv6 = &b
		case "listen":
			d.Listen, ok = scalarString(v)
		case "enhanced-mode":
			d.EnhancedMode, ok = scalarString(v)
			d.EnhancedMode = strings.ToLower(d.EnhancedMode)
		case "default-nameserver":
			d.DefaultNameserver, ok = stringList(v)
		case "nameserver":
			d.Nameserver, ok = stringList(v)
		case "fallback":
			d.Fallback, ok = stringList(v)
		case "proxy-server-nameserver":
			d.ProxyServerNameserver, ok = stringList(v)
		case "fake-ip-range":
			d.FakeIPRange, ok = scalarString(v)
		case "fake-ip-filter":
			d.FakeIPFilter, ok = stringList(v)
		case "use-hosts":
			d.UseHosts, ok = scalarBool(v)
		case "fallback-filter":
			d.HasFallbackFilter = true
		case "nameserver-policy":
			return eachField(v, "dns.nameserver-policy", func(match string, sv *yaml.Node) error {
				servers, ok := stringList(sv)
				if !ok {
					return &fieldError{
						Code:    "SOURCE_PARSE_ERROR",
						Message: "nameserver-policy 的值必须是字符串或列表",
						Path:    "dns.nameserver-policy." + match,
						Line:    lineOf(sv),
					}
				}
				// Clash allows "a.com,b.com" as one key.
				for _, m := range splitHosts(match) {
					d.NameserverPolicy = append(d.NameserverPolicy, model.NameserverPolicy{
						Match:   m,
						Servers: servers,
						Line:    lineOf(sv),
					})
				}
				return nil
			})
		}
		if !ok {
			return &fieldError{
				Code:    "SOURCE_PARSE_ERROR",
				Message: fmt.Sprintf("dns 字段 %s 格式不合法", key),
				Path:    "dns." + key,
				Line:    v.Line,
			}
		}
		return nil
	})
	if err != nil {
		return model.DNSPolicy{}, err
	}
	return d, nil
}

// yamlErrorLine extracts N from yaml.v3 messages like "yaml: line N: ...".
func yamlErrorLine(err error) int {
	msg := err.Error()
	i := strings.Index(msg, "line ")
	if i < 0 {
		return 0
	}
	n := 0
	for _, c := range msg[i+5:] {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func lineAt(text string, line int) string {
	if line <= 0 {
		return ""
	}
	for i, l := range strings.Split(text, "\n") {
		if i+1 == line {
			return strings.TrimSuffix(l, "\r")
		}
	}
	return ""
}
