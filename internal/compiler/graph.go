package compiler

import "strings"

// refGraph is a directed graph over policy names: group -> member and
// proxy -> dialer-proxy.
type refGraph struct {
	nodes []string
	edges map[string][]string
}

func (c *compiler) buildGraph() *refGraph {
	g := &refGraph{edges: make(map[string][]string)}
	for _, grp := range c.doc.Groups {
		g.nodes = append(g.nodes, grp.Name)
		g.edges[grp.Name] = grp.Members
	}
	for _, p := range c.doc.Proxies {
		if p.DialerProxy == "" {
			continue
		}
		g.nodes = append(g.nodes, p.Name)
		g.edges[p.Name] = []string{p.DialerProxy}
	}
	return g
}

const (
	white = iota
	grey
	black
)

// findCycle runs a three-color DFS in node order and returns the first
// cycle found as a closed path (first element repeated at the end), or nil.
func (g *refGraph) findCycle() []string {
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(n string) []string
	visit = func(n string) []string {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range g.edges[n] {
			if _, ok := g.edges[m]; !ok {
				continue
			}
			switch color[m] {
			case grey:
				for i, s := range stack {
					if s == m {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, m)
					}
				}
			case white:
				if cycle := visit(m); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for _, n := range g.nodes {
		if color[n] == white {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (c *compiler) checkCycles() error {
	cycle := c.buildGraph().findCycle()
	if cycle == nil {
		return nil
	}
	line := 0
	if g, ok := c.groups[cycle[0]]; ok {
		line = g.Line
	}
	path := strings.Join(cycle, " -> ")
	return compileErr("CYCLIC_GROUP", line, path, "策略组存在循环引用：%s", path)
}
