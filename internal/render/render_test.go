package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/json/badoption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *model.TargetDocument {
	outbound := func(typ, tag string, opts any) model.Outbound {
		return model.Outbound{Outbound: option.Outbound{Type: typ, Tag: tag, Options: opts}}
	}
	rule := option.Rule{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultRule{
			RawDefaultRule: option.RawDefaultRule{DomainSuffix: badoption.Listable[string]{"example.com", "example.org"}},
			RuleAction: option.RuleAction{
				Action:       C.RuleActionTypeRoute,
				RouteOptions: option.RouteActionOptions{Outbound: "auto"},
			},
		},
	}

	return &model.TargetDocument{
		Log: &option.LogOptions{Level: "info"},
		Outbounds: []model.Outbound{
			outbound(C.TypeShadowsocks, "ss1", &option.ShadowsocksOutboundOptions{
				ServerOptions: option.ServerOptions{Server: "1.2.3.4", ServerPort: 8388},
				Method:        "aes-128-gcm",
				Password:      "p<w>&",
			}),
			outbound(C.TypeSelector, "auto", &option.SelectorOutboundOptions{Outbounds: []string{"ss1", "DIRECT"}, Default: "ss1"}),
			outbound(C.TypeDirect, "DIRECT", &option.DirectOutboundOptions{}),
			outbound(C.TypeBlock, "BLOCK", &option.StubOptions{}),
		},
		Route: model.Route{
			Rules: []model.RouteRule{
				{Rule: rule, Outbound: "auto"},
				{Outbound: "DIRECT", CatchAll: true},
			},
			AutoDetectInterface: true,
		},
	}
}

func TestSingBox_LayoutAndFinal(t *testing.T) {
	b, err := SingBox(sampleDocument())
	require.NoError(t, err)
	s := string(b)

	last := -1
	for _, k := range []string{`"log"`, `"outbounds"`, `"route"`} {
		i := strings.Index(s, k)
		require.Truef(t, i > last, "key %s missing or out of order:\n%s", k, s)
		last = i
	}
	assert.NotContains(t, s, `"dns"`)
	assert.Contains(t, s, `"password": "p<w>&"`, "HTML characters must not be escaped")
	assert.True(t, strings.HasSuffix(s, "}\n"), "missing trailing newline")

	var root struct {
		Outbounds []map[string]any `json:"outbounds"`
		Route     struct {
			Rules               []map[string]any `json:"rules"`
			Final               string           `json:"final"`
			AutoDetectInterface bool             `json:"auto_detect_interface"`
		} `json:"route"`
	}
	require.NoError(t, json.Unmarshal(b, &root))

	require.Len(t, root.Outbounds, 4)
	ss := root.Outbounds[0]
	assert.Equal(t, "shadowsocks", ss["type"])
	assert.Equal(t, "ss1", ss["tag"])
	assert.Equal(t, "1.2.3.4", ss["server"])
	assert.EqualValues(t, 8388, ss["server_port"])
	assert.Equal(t, "ss1", root.Outbounds[1]["default"])

	assert.Equal(t, "DIRECT", root.Route.Final)
	assert.True(t, root.Route.AutoDetectInterface)
	require.Len(t, root.Route.Rules, 1, "catch-all must not be emitted as a rule")
	assert.Equal(t, "auto", root.Route.Rules[0]["outbound"])
	assert.Equal(t, []any{"example.com", "example.org"}, root.Route.Rules[0]["domain_suffix"])
}

func TestSingBox_Deterministic(t *testing.T) {
	a, err := SingBox(sampleDocument())
	require.NoError(t, err)
	b, err := SingBox(sampleDocument())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "output differs between runs")
}

func TestOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  func() *model.TargetDocument
		code string
	}{
		{"nil document", func() *model.TargetDocument { return nil }, "INVALID_ARGUMENT"},
		{"catch-all not last", func() *model.TargetDocument {
			doc := sampleDocument()
			doc.Route.Rules[0], doc.Route.Rules[1] = doc.Route.Rules[1], doc.Route.Rules[0]
			return doc
		}, "RULE_ORDER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SingBox(tt.doc())
			var re *RenderError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.code, re.AppError.Code)
			assert.Equal(t, "render", re.AppError.Stage)
		})
	}
}

func TestRuleSet(t *testing.T) {
	rules := []option.HeadlessRule{{
		Type: C.RuleTypeDefault,
		DefaultOptions: option.DefaultHeadlessRule{
			DomainSuffix: badoption.Listable[string]{"google.com", "youtube.com"},
		},
	}}
	b, err := RuleSet(&model.RuleSetDocument{Version: C.RuleSetVersion1, Rules: rules})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "}\n"), "missing trailing newline")

	var doc struct {
		Version int              `json:"version"`
		Rules   []map[string]any `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, 1, doc.Version)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, []any{"google.com", "youtube.com"}, doc.Rules[0]["domain_suffix"])

	_, err = RuleSet(nil)
	assert.Error(t, err)
}
