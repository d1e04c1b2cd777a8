package rules

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Provider behaviors.
const (
	BehaviorClassical = "classical"
	BehaviorDomain    = "domain"
	BehaviorIPCIDR    = "ipcidr"
)

// ParseInlineRule parses a single rule of the Clash "rules" list. TARGET is
// required. Caller is expected to attach stage/url/line.
func ParseInlineRule(line string) (model.Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is empty"}
	}
	if strings.HasPrefix(line, "#") {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is comment"}
	}
	r, err := parseRuleBody(line, ruleParseOptions{RequireTarget: true, AllowMatch: true})
	if err != nil {
		return model.Rule{}, err
	}
	r.Raw = line
	return r, nil
}

// ParsePayloadLine parses one entry of a rule-provider payload. Entries never
// carry a target; for classical payloads a trailing policy is tolerated and
// kept in Target.
func ParsePayloadLine(line string, behavior string) (model.Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "payload entry is empty"}
	}

	var (
		r   model.Rule
		err error
	)
	switch strings.ToLower(strings.TrimSpace(behavior)) {
	case "", BehaviorClassical:
		r, err = parseRuleBody(line, ruleParseOptions{})
	case BehaviorDomain:
		r, err = ParseDomainPattern(line)
	case BehaviorIPCIDR:
		r, err = parseCIDREntry(line)
	default:
		return model.Rule{}, &RuleError{
			Code:    "RULESET_PARSE_ERROR",
			Message: fmt.Sprintf("不支持的 rule-provider behavior：%s", behavior),
			Hint:    "expected: classical | domain | ipcidr",
		}
	}
	if err != nil {
		return model.Rule{}, err
	}
	r.Raw = line
	return r, nil
}

type ruleParseOptions struct {
	RequireTarget bool
	AllowMatch    bool
}

func parseRuleBody(line string, opt ruleParseOptions) (model.Rule, error) {
	typ, rest, _ := strings.Cut(line, ",")
	typ = strings.ToUpper(strings.TrimSpace(typ))
	if typ == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则类型不能为空"}
	}

	switch typ {
	case model.RuleAnd, model.RuleOr, model.RuleNot:
		return parseLogical(typ, strings.TrimSpace(rest), opt)
	case model.RuleMatch, "FINAL":
		if !opt.AllowMatch {
			return model.Rule{}, &RuleError{
				Code:    "RULESET_PARSE_ERROR",
				Message: "此处不允许 MATCH 规则",
				Hint:    "MATCH is only valid as the last entry of the rules list",
			}
		}
		parts := splitTrim(rest)
		if len(parts) != 1 || parts[0] == "" {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "MATCH 规则必须是 MATCH,<TARGET>",
			}
		}
		return model.Rule{Type: model.RuleMatch, Target: parts[0]}, nil
	}

	parts := splitTrim(rest)
	if len(parts) == 0 || parts[0] == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 VALUE 不能为空"}
	}
	r := model.Rule{Type: typ, Value: parts[0]}
	extra := parts[1:]

	if opt.RequireTarget {
		if len(extra) == 0 || extra[0] == "" {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "规则缺少 TARGET",
				Hint:    "expected: TYPE,VALUE,TARGET[,no-resolve]",
			}
		}
		if isRuleOption(extra[0]) {
			// Ambiguous: missing target but has option.
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "规则缺少 TARGET（不允许仅写 no-resolve/src）",
				Hint:    "expected: TYPE,VALUE,TARGET[,no-resolve]",
			}
		}
		r.Target = extra[0]
		extra = extra[1:]
	} else if len(extra) > 0 && !isRuleOption(extra[0]) {
		r.Target = extra[0]
		extra = extra[1:]
	}

	for _, o := range extra {
		switch strings.ToLower(o) {
		case "no-resolve":
			r.NoResolve = true
		case "src":
			r.Src = true
		default:
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: fmt.Sprintf("不支持的规则可选项：%s", o),
				Hint:    "supported options: no-resolve, src",
			}
		}
	}

	if isCIDRType(typ) {
		if _, err := parsePrefix(r.Value); err != nil {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: fmt.Sprintf("%s 的 CIDR 不合法", typ),
				Hint:    "expected: CIDR, e.g. 1.2.3.0/24 or 2001:db8::/32",
				Cause:   err,
			}
		}
	}
	return r, nil
}

func parseLogical(typ string, rest string, opt ruleParseOptions) (model.Rule, error) {
	if !strings.HasPrefix(rest, "(") {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("%s 规则缺少子规则列表", typ),
			Hint:    "expected: " + typ + ",((TYPE,VALUE),(TYPE,VALUE)),TARGET",
		}
	}
	end := matchParen(rest, 0)
	if end < 0 {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("%s 规则括号不匹配", typ)}
	}
	inner := rest[1:end]
	tail := strings.TrimSpace(rest[end+1:])

	r := model.Rule{Type: typ}
	if tail != "" {
		if !strings.HasPrefix(tail, ",") {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("%s 规则格式不合法", typ)}
		}
		parts := splitTrim(tail[1:])
		if len(parts) != 1 || parts[0] == "" {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("%s 规则 TARGET 不合法", typ)}
		}
		r.Target = parts[0]
	}
	if opt.RequireTarget && r.Target == "" {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "规则缺少 TARGET",
			Hint:    "expected: " + typ + ",((TYPE,VALUE)),TARGET",
		}
	}

	items, err := splitGroups(inner)
	if err != nil {
		return model.Rule{}, err
	}
	if len(items) == 0 {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("%s 规则子规则不能为空", typ)}
	}
	if typ == model.RuleNot && len(items) != 1 {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "NOT 规则只能包含一条子规则"}
	}
	for _, item := range items {
		sub, err := parseRuleBody(item, ruleParseOptions{})
		if err != nil {
			return model.Rule{}, err
		}
		if sub.Target != "" {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "子规则不能带 TARGET", Hint: item}
		}
		sub.Raw = item
		r.Sub = append(r.Sub, sub)
	}
	return r, nil
}

// splitGroups splits "(A,B),(C,(D,E))" into ["A,B", "C,(D,E)"].
func splitGroups(s string) ([]string, error) {
	var out []string
	i := 0
	for i < len(s) {
		switch c := s[i]; {
		case c == ' ' || c == '\t' || c == ',':
			i++
		case c == '(':
			end := matchParen(s, i)
			if end < 0 {
				return nil, &RuleError{Code: "RULE_PARSE_ERROR", Message: "子规则括号不匹配"}
			}
			out = append(out, strings.TrimSpace(s[i+1:end]))
			i = end + 1
		default:
			return nil, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "子规则必须用括号包裹",
				Hint:    s,
			}
		}
	}
	return out, nil
}

// matchParen returns the index of the ')' closing s[open], or -1.
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseDomainPattern maps a Clash domain wildcard to a rule:
//
//	+.example.com  -> DOMAIN-SUFFIX example.com
//	.example.com   -> DOMAIN-SUFFIX .example.com (subdomains only)
//	*.example.com  -> DOMAIN-REGEX ^[^.]+\.example\.com$
//	example.com    -> DOMAIN example.com
func ParseDomainPattern(pattern string) (model.Rule, error) {
	p := strings.TrimSpace(pattern)
	if p == "" || strings.ContainsAny(p, " ,\t") {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "域名条目不合法", Hint: pattern}
	}
	switch {
	case strings.HasPrefix(p, "+."):
		if len(p) == 2 {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "域名条目不合法", Hint: pattern}
		}
		return model.Rule{Type: "DOMAIN-SUFFIX", Value: p[2:]}, nil
	case strings.Contains(p, "*"):
		return model.Rule{Type: "DOMAIN-REGEX", Value: wildcardRegex(p)}, nil
	case strings.HasPrefix(p, "."):
		return model.Rule{Type: "DOMAIN-SUFFIX", Value: p}, nil
	default:
		return model.Rule{Type: "DOMAIN", Value: p}, nil
	}
}

func wildcardRegex(p string) string {
	parts := strings.Split(p, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return "^" + strings.Join(parts, `[^.]+`) + "$"
}

func parseCIDREntry(s string) (model.Rule, error) {
	pfx, err := parsePrefix(s)
	if err != nil {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "ipcidr 条目不合法",
			Hint:    "expected: CIDR, e.g. 1.2.3.0/24",
			Cause:   err,
		}
	}
	typ := "IP-CIDR"
	if pfx.Addr().Is6() {
		typ = "IP-CIDR6"
	}
	return model.Rule{Type: typ, Value: pfx.String()}, nil
}

// parsePrefix accepts CIDR notation or a bare address (host prefix).
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !addr.IsValid() {
		return netip.Prefix{}, errors.New("invalid address")
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// NormalizeCIDR returns s in canonical CIDR form, adding a host mask to bare
// addresses.
func NormalizeCIDR(s string) (string, error) {
	p, err := parsePrefix(s)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

func isCIDRType(typ string) bool {
	switch typ {
	case "IP-CIDR", "IP-CIDR6", "SRC-IP-CIDR":
		return true
	}
	return false
}

func isRuleOption(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no-resolve", "src":
		return true
	}
	return false
}

func splitTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// TruncateSnippet strips line breaks and cuts s to max bytes for AppError
// snippets.
func TruncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
