package rules

import (
	"errors"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/model"
	"gopkg.in/yaml.v3"
)

// ParseRulesetText parses a rule-provider payload. Two shapes are accepted:
//
//   - YAML with a top-level "payload" list (Clash provider format yaml)
//   - plain text, one entry per line, '#' comments (format text)
//
// stage is always "parse_ruleset".
func ParseRulesetText(sourceURL string, text string, behavior string) ([]model.Rule, error) {
	entries, err := payloadEntries(text)
	if err != nil {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "RULESET_PARSE_ERROR",
				Message: "rule-provider payload 解析失败",
				Stage:   "parse_ruleset",
				URL:     sourceURL,
			},
			Cause: err,
		}
	}

	out := make([]model.Rule, 0, len(entries))
	for _, e := range entries {
		r, err := ParsePayloadLine(e.text, behavior)
		if err != nil {
			app := model.AppError{
				Code:    "RULE_PARSE_ERROR",
				Message: "invalid payload entry",
				Stage:   "parse_ruleset",
				URL:     sourceURL,
				Line:    e.line,
				Snippet: TruncateSnippet(e.text, 200),
			}
			var rerr *RuleError
			if errors.As(err, &rerr) {
				app.Code = rerr.Code
				app.Message = rerr.Message
				app.Hint = rerr.Hint
				err = rerr.Cause
			}
			return nil, &ParseError{AppError: app, Cause: err}
		}
		r.Line = e.line
		out = append(out, r)
	}
	return out, nil
}

// ParsePayload parses already-extracted payload entries (inline providers).
func ParsePayload(entries []string, behavior string) ([]model.Rule, []error) {
	out := make([]model.Rule, 0, len(entries))
	var errs []error
	for _, e := range entries {
		r, err := ParsePayloadLine(e, behavior)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errs
}

type payloadEntry struct {
	text string
	line int
}

func payloadEntries(text string) ([]payloadEntry, error) {
	if looksLikeYAMLPayload(text) {
		var root yaml.Node
		if err := yaml.Unmarshal([]byte(text), &root); err != nil {
			return nil, err
		}
		if len(root.Content) == 0 {
			return nil, nil
		}
		doc := root.Content[0]
		if doc.Kind != yaml.MappingNode {
			return nil, errors.New("payload root is not a mapping")
		}
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if doc.Content[i].Value != "payload" {
				continue
			}
			seq := doc.Content[i+1]
			if seq.Kind != yaml.SequenceNode {
				return nil, errors.New("payload is not a list")
			}
			out := make([]payloadEntry, 0, len(seq.Content))
			for _, item := range seq.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, errors.New("payload entry is not a string")
				}
				out = append(out, payloadEntry{text: item.Value, line: item.Line})
			}
			return out, nil
		}
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	out := make([]payloadEntry, 0, len(lines))
	for i, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		out = append(out, payloadEntry{text: line, line: i + 1})
	}
	return out, nil
}

func looksLikeYAMLPayload(text string) bool {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "payload:")
	}
	return false
}
