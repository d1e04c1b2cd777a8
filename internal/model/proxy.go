package model

type KV struct {
	Key   string
	Value string
}

// Proxy types understood by the parser. Anything else is kept verbatim in
// Proxy.Type and skipped by the translator.
const (
	ProxyShadowsocks  = "ss"
	ProxyShadowsocksR = "ssr"
	ProxyVMess        = "vmess"
	ProxyVLESS        = "vless"
	ProxyTrojan       = "trojan"
	ProxySOCKS5       = "socks5"
	ProxyHTTP         = "http"
	ProxySnell        = "snell"
	ProxyHysteria     = "hysteria"
	ProxyHysteria2    = "hysteria2"
	ProxyTUIC         = "tuic"
	ProxyWireGuard    = "wireguard"
	ProxySSH          = "ssh"
)

// Proxy is one entry of the Clash "proxies" list.
//
// Only the fields the translator maps are decoded. Keys lists every key that
// appeared in the source mapping (in source order) so unmappable keys can be
// reported; Invalid lists keys whose value had the wrong shape.
type Proxy struct {
	Name string
	Type string
	Line int

	Keys    []string
	Invalid []string

	Server string
	Port   int

	// Dialer
	UDP         *bool
	TFO         bool
	DialerProxy string
	IPVersion   string
	Interface   string
	RoutingMark int

	// Credentials
	Username string
	Password string
	UUID     string
	Cipher   string
	AlterID  int
	Flow     string

	PacketEncoding string

	TLS       TLSOptions
	Network   string
	Transport TransportOptions
	Smux      *SmuxOptions

	// ss
	Plugin     string
	PluginOpts []KV // order preserved, values stringified
	UDPOverTCP bool

	// hysteria / hysteria2
	Up                  string
	Down                string
	AuthStr             string
	Obfs                string
	ObfsPassword        string
	Ports               string
	HopIntervalMS       int
	RecvWindowConn      int
	RecvWindow          int
	DisableMTUDiscovery bool

	// tuic
	Token                string
	CongestionController string
	UDPRelayMode         string
	ReduceRTT            bool
	HeartbeatMS          int

	// wireguard
	IP           string
	IPv6         string
	PrivateKey   string
	PublicKey    string
	PreSharedKey string
	Reserved     []int
	MTU          int

	// ssh
	PrivateKeyPassphrase string
	HostKey              []string

	// http
	Headers []KV
}

// HasKey reports whether key appeared in the source mapping.
func (p Proxy) HasKey(key string) bool {
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// IsInvalid reports whether key appeared with a value of the wrong shape.
func (p Proxy) IsInvalid(key string) bool {
	for _, k := range p.Invalid {
		if k == key {
			return true
		}
	}
	return false
}

type TLSOptions struct {
	Enabled        bool
	SNI            string
	SkipCertVerify bool
	DisableSNI     bool
	ALPN           []string
	Fingerprint    string

	Reality *RealityOptions
}

type RealityOptions struct {
	PublicKey string
	ShortID   string
}

// TransportOptions merges ws-opts / http-opts / h2-opts / grpc-opts; only the
// block matching Proxy.Network is read.
type TransportOptions struct {
	Path    string
	Host    []string
	Method  string
	Headers []KV

	MaxEarlyData        int
	EarlyDataHeaderName string

	GRPCServiceName string
}

type SmuxOptions struct {
	Enabled        bool
	Protocol       string
	MaxConnections int
	MinStreams     int
	MaxStreams     int
	Padding        bool
}
