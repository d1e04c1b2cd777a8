package clash

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/model"
	"gopkg.in/yaml.v3"
)

// resolve follows alias nodes.
func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	n = resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// eachField walks a mapping in source order. "<<" merge keys are expanded
// first so explicit keys of the mapping override merged ones.
func eachField(n *yaml.Node, path string, fn func(key string, val *yaml.Node) error) error {
	n = resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return &fieldError{Code: "SOURCE_PARSE_ERROR", Message: "必须是 mapping", Path: path, Line: lineOf(n)}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if !isMergeKey(k) {
			continue
		}
		v = resolve(v)
		var srcs []*yaml.Node
		switch v.Kind {
		case yaml.MappingNode:
			srcs = []*yaml.Node{v}
		case yaml.SequenceNode:
			srcs = v.Content
		}
		for _, s := range srcs {
			if err := eachField(s, path, fn); err != nil {
				return err
			}
		}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if isMergeKey(k) {
			continue
		}
		if err := fn(k.Value, resolve(v)); err != nil {
			return err
		}
	}
	return nil
}

func isMergeKey(k *yaml.Node) bool {
	return k.Kind == yaml.ScalarNode && (k.Tag == "!!merge" || (k.Value == "<<" && k.Style == 0))
}

func lineOf(n *yaml.Node) int {
	if n == nil {
		return 0
	}
	return n.Line
}

func scalarString(n *yaml.Node) (string, bool) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return strings.TrimSpace(n.Value), true
}

// scalarInt accepts integers and integers written as strings ("443").
func scalarInt(n *yaml.Node) (int, bool) {
	s, ok := scalarString(n)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func scalarBool(n *yaml.Node) (bool, bool) {
	s, ok := scalarString(n)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, false
	}
	return v, true
}

// stringList accepts a sequence of scalars or a single scalar.
func stringList(n *yaml.Node) ([]string, bool) {
	n = resolve(n)
	if n == nil {
		return nil, false
	}
	switch n.Kind {
	case yaml.ScalarNode:
		s, ok := scalarString(n)
		if !ok {
			return nil, n.Tag == "!!null"
		}
		if s == "" {
			return nil, true
		}
		return []string{s}, true
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			s, ok := scalarString(c)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// intList accepts [1, 2, 3] or "1,2,3".
func intList(n *yaml.Node) ([]int, bool) {
	n = resolve(n)
	if n == nil {
		return nil, false
	}
	var parts []string
	switch n.Kind {
	case yaml.ScalarNode:
		s, _ := scalarString(n)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			s, ok := scalarString(c)
			if !ok {
				return nil, false
			}
			parts = append(parts, s)
		}
	default:
		return nil, false
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// durationMS reads an interval. A bare number is in units of unit; a string
// may also be a Go duration ("30s", "1m").
func durationMS(n *yaml.Node, unit time.Duration) (int, bool) {
	s, ok := scalarString(n)
	if !ok {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 {
			return 0, false
		}
		return int(time.Duration(v) * unit / time.Millisecond), true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return int(d / time.Millisecond), true
}

// stringPairs flattens a mapping of scalars (scalar lists are joined with
// ",") into ordered key/value pairs.
func stringPairs(n *yaml.Node, path string) ([]model.KV, bool) {
	var out []model.KV
	err := eachField(n, path, func(key string, val *yaml.Node) error {
		if s, ok := scalarString(val); ok {
			out = append(out, model.KV{Key: key, Value: s})
			return nil
		}
		if list, ok := stringList(val); ok {
			out = append(out, model.KV{Key: key, Value: strings.Join(list, ",")})
			return nil
		}
		return fmt.Errorf("%s.%s: not a scalar", path, key)
	})
	return out, err == nil
}

func decodeAny(n *yaml.Node) any {
	var v any
	if err := resolve(n).Decode(&v); err != nil {
		return nil
	}
	return v
}
