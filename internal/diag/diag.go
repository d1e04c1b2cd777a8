// Package diag collects non-fatal findings of one conversion run.
package diag

import (
	"fmt"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

// Collector is append-only and scoped to one run; it is not safe for
// concurrent use and does not need to be.
type Collector struct {
	items []model.Diagnostic
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Warn(stage, entity string, line int, format string, args ...any) {
	c.add(model.SeverityWarning, stage, entity, line, fmt.Sprintf(format, args...))
}

func (c *Collector) Error(stage, entity string, line int, format string, args ...any) {
	c.add(model.SeverityError, stage, entity, line, fmt.Sprintf(format, args...))
}

func (c *Collector) add(severity, stage, entity string, line int, msg string) {
	if c == nil {
		return
	}
	c.items = append(c.items, model.Diagnostic{
		Severity: severity,
		Stage:    stage,
		Entity:   entity,
		Line:     line,
		Message:  msg,
	})
}

// Items returns a copy of everything collected so far.
func (c *Collector) Items() []model.Diagnostic {
	if c == nil || len(c.items) == 0 {
		return nil
	}
	out := make([]model.Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Warnings counts warning-severity items.
func (c *Collector) Warnings() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, d := range c.items {
		if d.Severity == model.SeverityWarning {
			n++
		}
	}
	return n
}

func ProxyEntity(name string) string { return fmt.Sprintf("proxy %q", name) }

func GroupEntity(name string) string { return fmt.Sprintf("proxy-group %q", name) }

func RuleEntity(raw string) string { return fmt.Sprintf("rule %q", raw) }
