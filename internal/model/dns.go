package model

// DNSPolicy is the Clash "dns" block.
type DNSPolicy struct {
	Present bool
	Line    int

	Enable       bool
	IPv6         *bool // nil: fall back to the top-level ipv6
	Listen       string
	EnhancedMode string // "fake-ip" | "redir-host" | ""

	DefaultNameserver     []string
	Nameserver            []string
	Fallback              []string
	ProxyServerNameserver []string

	FakeIPRange  string
	FakeIPFilter []string

	// NameserverPolicy keeps source order; Clash treats it as ordered.
	NameserverPolicy []NameserverPolicy

	UseHosts          bool
	Hosts             []KV
	HasFallbackFilter bool
}

type NameserverPolicy struct {
	Match   string // "+.example.com", "geosite:cn", "rule-set:name", ...
	Servers []string
	Line    int
}
