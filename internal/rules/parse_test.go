package rules

import (
	"errors"
	"testing"
)

func TestParseInlineRule_RequireTarget(t *testing.T) {
	_, err := ParseInlineRule("DOMAIN,example.com")
	var re *RuleError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuleError, got %T: %v", err, err)
	}
	if re.Code != "RULE_PARSE_ERROR" {
		t.Fatalf("code=%q, want=%q", re.Code, "RULE_PARSE_ERROR")
	}
}

func TestParseInlineRule_IPCIDR_NoResolveWithoutTarget_Error(t *testing.T) {
	_, err := ParseInlineRule("IP-CIDR,1.1.1.1/32,no-resolve")
	var re *RuleError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuleError, got %T: %v", err, err)
	}
	if re.Code != "RULE_PARSE_ERROR" {
		t.Fatalf("code=%q, want=%q", re.Code, "RULE_PARSE_ERROR")
	}
}

func TestParseInlineRule_Simple(t *testing.T) {
	tests := []struct {
		line      string
		typ       string
		value     string
		target    string
		noResolve bool
	}{
		{"DOMAIN-SUFFIX,example.com,auto", "DOMAIN-SUFFIX", "example.com", "auto", false},
		{"domain-keyword, google ,PROXY", "DOMAIN-KEYWORD", "google", "PROXY", false},
		{"IP-CIDR,1.1.1.1/32,DIRECT,no-resolve", "IP-CIDR", "1.1.1.1/32", "DIRECT", true},
		{"IP-CIDR6,2001:db8::/32,REJECT", "IP-CIDR6", "2001:db8::/32", "REJECT", false},
		{"DST-PORT,443,PROXY", "DST-PORT", "443", "PROXY", false},
		{"FUTURE-MATCHER,x,DIRECT", "FUTURE-MATCHER", "x", "DIRECT", false},
		{"MATCH,DIRECT", "MATCH", "", "DIRECT", false},
		{"FINAL,DIRECT", "MATCH", "", "DIRECT", false},
	}
	for _, tt := range tests {
		r, err := ParseInlineRule(tt.line)
		if err != nil {
			t.Fatalf("ParseInlineRule(%q) unexpected err: %v", tt.line, err)
		}
		if r.Type != tt.typ || r.Value != tt.value || r.Target != tt.target || r.NoResolve != tt.noResolve {
			t.Fatalf("ParseInlineRule(%q)=%+v", tt.line, r)
		}
	}
}

func TestParseInlineRule_BadCIDR(t *testing.T) {
	_, err := ParseInlineRule("IP-CIDR,1.1.1.1/33,DIRECT")
	var re *RuleError
	if !errors.As(err, &re) || re.Code != "RULE_PARSE_ERROR" {
		t.Fatalf("expected RULE_PARSE_ERROR, got %T: %v", err, err)
	}
}

func TestParseInlineRule_Logical(t *testing.T) {
	r, err := ParseInlineRule("AND,((DOMAIN,baidu.com),(OR,((NETWORK,UDP),(DST-PORT,443)))),auto")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.Type != "AND" || r.Target != "auto" {
		t.Fatalf("rule=%+v", r)
	}
	if len(r.Sub) != 2 {
		t.Fatalf("sub=%d, want=2", len(r.Sub))
	}
	if r.Sub[0].Type != "DOMAIN" || r.Sub[0].Value != "baidu.com" {
		t.Fatalf("sub0=%+v", r.Sub[0])
	}
	if r.Sub[1].Type != "OR" || len(r.Sub[1].Sub) != 2 || r.Sub[1].Sub[1].Value != "443" {
		t.Fatalf("sub1=%+v", r.Sub[1])
	}
}

func TestParseInlineRule_NotRequiresSingleOperand(t *testing.T) {
	if _, err := ParseInlineRule("NOT,((DOMAIN,a.com),(DOMAIN,b.com)),DIRECT"); err == nil {
		t.Fatalf("expected error")
	}
	r, err := ParseInlineRule("NOT,((DOMAIN,a.com)),DIRECT")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(r.Sub) != 1 || r.Sub[0].Value != "a.com" {
		t.Fatalf("rule=%+v", r)
	}
}

func TestParseInlineRule_UnbalancedParens(t *testing.T) {
	_, err := ParseInlineRule("AND,((DOMAIN,a.com),(DOMAIN,b.com),DIRECT")
	var re *RuleError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuleError, got %T: %v", err, err)
	}
}

func TestParseDomainPattern(t *testing.T) {
	tests := []struct {
		in, typ, value string
	}{
		{"+.google.com", "DOMAIN-SUFFIX", "google.com"},
		{".google.com", "DOMAIN-SUFFIX", ".google.com"},
		{"*.google.com", "DOMAIN-REGEX", `^[^.]+\.google\.com$`},
		{"google.com", "DOMAIN", "google.com"},
	}
	for _, tt := range tests {
		r, err := ParseDomainPattern(tt.in)
		if err != nil {
			t.Fatalf("ParseDomainPattern(%q) err: %v", tt.in, err)
		}
		if r.Type != tt.typ || r.Value != tt.value {
			t.Fatalf("ParseDomainPattern(%q)=%+v", tt.in, r)
		}
	}
}

func TestParseRulesetText_TextAndYAML(t *testing.T) {
	text := "# comment\nDOMAIN-SUFFIX,google.com\nIP-CIDR,1.1.1.1/32,no-resolve\n\nDOMAIN,example.com\n"
	got, err := ParseRulesetText("https://example.com/a.list", text, BehaviorClassical)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rules=%d, want=3", len(got))
	}
	if got[1].Type != "IP-CIDR" || !got[1].NoResolve || got[1].Line != 3 {
		t.Fatalf("rule1=%+v", got[1])
	}

	y := "payload:\n  - '+.google.com'\n  - 'example.com'\n"
	got, err = ParseRulesetText("https://example.com/a.yaml", y, BehaviorDomain)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || got[0].Type != "DOMAIN-SUFFIX" || got[1].Type != "DOMAIN" {
		t.Fatalf("rules=%+v", got)
	}
	if got[0].Line != 2 {
		t.Fatalf("line=%d, want=2", got[0].Line)
	}
}

func TestParseRulesetText_BadEntryLocator(t *testing.T) {
	_, err := ParseRulesetText("https://example.com/ip.txt", "1.1.1.0/24\nnot-an-ip\n", BehaviorIPCIDR)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if pe.AppError.Line != 2 || pe.AppError.Stage != "parse_ruleset" {
		t.Fatalf("apperror=%+v", pe.AppError)
	}
}
