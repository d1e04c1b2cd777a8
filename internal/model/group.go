package model

const (
	GroupSelect      = "select"
	GroupURLTest     = "url-test"
	GroupFallback    = "fallback"
	GroupLoadBalance = "load-balance"
	GroupRelay       = "relay"
)

// Group is one entry of the Clash "proxy-groups" list.
type Group struct {
	Name string
	Type string
	Line int
	Keys []string

	// Members are proxy names / group names / built-in policies, source order.
	Members []string
	Use     []string

	IncludeAll    bool
	Filter        string
	ExcludeFilter string

	URL         string
	IntervalMS  int
	TimeoutMS   int
	ToleranceMS int

	HasTolerance bool
	Lazy         bool
	Strategy     string // load-balance only
}
