package model

// SourceDocument is a parsed Clash configuration. It is built once by the
// parser and only read afterwards.
type SourceDocument struct {
	Proxies       []Proxy
	Groups        []Group
	Rules         []Rule
	RuleProviders []RuleProvider
	DNS           DNSPolicy

	Port        int
	SocksPort   int
	MixedPort   int
	AllowLAN    bool
	BindAddress string

	Mode     string
	LogLevel string
	IPv6     *bool

	ExternalController string
	Secret             string

	// Extra keeps unknown top-level keys, source order, values decoded as
	// plain Go values.
	Extra []ExtraKey
}

type ExtraKey struct {
	Key   string
	Value any
	Line  int
}

func (d *SourceDocument) RuleProvider(name string) (RuleProvider, bool) {
	for _, rp := range d.RuleProviders {
		if rp.Name == name {
			return rp, true
		}
	}
	return RuleProvider{}, false
}
