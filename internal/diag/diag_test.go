package diag

import (
	"testing"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

func TestCollector_AppendOnlyCopy(t *testing.T) {
	c := New()
	c.Warn("translate_proxy", ProxyEntity("a"), 3, "unsupported type %q", "futureproto")
	c.Error("translate_group", GroupEntity("g"), 0, "dangling")

	items := c.Items()
	if len(items) != 2 {
		t.Fatalf("items=%d, want=2", len(items))
	}
	if items[0].Severity != model.SeverityWarning || items[0].Message != `unsupported type "futureproto"` {
		t.Fatalf("item0=%+v", items[0])
	}
	if items[0].Entity != `proxy "a"` || items[0].Line != 3 {
		t.Fatalf("item0=%+v", items[0])
	}

	items[0].Message = "mutated"
	if c.Items()[0].Message == "mutated" {
		t.Fatalf("Items must return a copy")
	}
	if got := c.Warnings(); got != 1 {
		t.Fatalf("warnings=%d, want=1", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.Warn("x", "", 0, "ignored")
	if c.Len() != 0 || c.Items() != nil {
		t.Fatalf("nil collector should stay empty")
	}
}
