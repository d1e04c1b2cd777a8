package compiler

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/byteformats"
	"github.com/sagernet/sing/common/json/badoption"
	N "github.com/sagernet/sing/common/network"
	"github.com/samber/lo"
)

// Keys every protocol understands.
var commonKeys = []string{
	"name", "type", "server", "port", "udp", "tfo", "fast-open",
	"dialer-proxy", "ip-version", "interface-name", "routing-mark",
}

var tlsKeys = []string{
	"tls", "sni", "servername", "skip-cert-verify", "alpn", "client-fingerprint",
	"reality-opts", "disable-sni",
}

var transportKeys = []string{"network", "ws-opts", "http-opts", "h2-opts", "grpc-opts"}

// buildFunc returns a pointer to the protocol's sing-box options struct, or
// false after w.reject.
type buildFunc func(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool)

type protocol struct {
	outType  string
	required []string
	keys     []string
	build    buildFunc
}

var protocols = map[string]protocol{
	model.ProxyShadowsocks: {
		outType:  C.TypeShadowsocks,
		required: []string{"server", "port", "cipher", "password"},
		keys:     []string{"cipher", "password", "plugin", "plugin-opts", "udp-over-tcp", "smux"},
		build:    buildShadowsocks,
	},
	model.ProxyVMess: {
		outType:  C.TypeVMess,
		required: []string{"server", "port", "uuid"},
		keys:     concat([]string{"uuid", "cipher", "alterId", "alter-id", "packet-encoding", "smux"}, tlsKeys, transportKeys),
		build:    buildVMess,
	},
	model.ProxyVLESS: {
		outType:  C.TypeVLESS,
		required: []string{"server", "port", "uuid"},
		keys:     concat([]string{"uuid", "flow", "packet-encoding", "smux"}, tlsKeys, transportKeys),
		build:    buildVLESS,
	},
	model.ProxyTrojan: {
		outType:  C.TypeTrojan,
		required: []string{"server", "port", "password"},
		keys:     concat([]string{"password", "smux"}, tlsKeys, transportKeys),
		build:    buildTrojan,
	},
	model.ProxySOCKS5: {
		outType:  C.TypeSOCKS,
		required: []string{"server", "port"},
		keys:     []string{"username", "password"},
		build:    buildSOCKS,
	},
	model.ProxyHTTP: {
		outType:  C.TypeHTTP,
		required: []string{"server", "port"},
		keys:     concat([]string{"username", "password", "headers"}, tlsKeys),
		build:    buildHTTP,
	},
	model.ProxyHysteria: {
		outType:  C.TypeHysteria,
		required: []string{"server", "port"},
		keys: concat([]string{
			"up", "down", "auth-str", "auth_str", "obfs", "ports", "hop-interval",
			"recv-window-conn", "recv_window_conn", "recv-window", "recv_window",
			"disable_mtu_discovery", "disable-mtu-discovery",
		}, tlsKeys),
		build: buildHysteria,
	},
	model.ProxyHysteria2: {
		outType:  C.TypeHysteria2,
		required: []string{"server", "port"},
		keys:     concat([]string{"password", "auth", "up", "down", "obfs", "obfs-password", "ports", "hop-interval"}, tlsKeys),
		build:    buildHysteria2,
	},
	model.ProxyTUIC: {
		outType:  C.TypeTUIC,
		required: []string{"server", "port", "uuid"},
		keys: concat([]string{
			"uuid", "password", "token", "congestion-controller", "udp-relay-mode",
			"reduce-rtt", "heartbeat-interval",
		}, tlsKeys),
		build: buildTUIC,
	},
	model.ProxyWireGuard: {
		outType:  C.TypeWireGuard,
		required: []string{"server", "port", "private-key", "public-key"},
		keys:     []string{"ip", "ipv6", "private-key", "public-key", "pre-shared-key", "preshared-key", "reserved", "mtu"},
		build:    buildWireGuard,
	},
	model.ProxySSH: {
		outType:  C.TypeSSH,
		required: []string{"server", "port"},
		keys:     []string{"username", "password", "private-key", "private-key-passphrase", "host-key"},
		build:    buildSSH,
	},
}

func concat(lists ...[]string) []string {
	return lo.Flatten(lists)
}

// proxyWarner scopes warnings to one proxy entry. A zero dc makes it
// silent.
type proxyWarner struct {
	dc   *diag.Collector
	p    model.Proxy
	skip string
}

func (w *proxyWarner) warn(format string, args ...any) {
	w.dc.Warn(stageProxy, diag.ProxyEntity(w.p.Name), w.p.Line, format, args...)
}

// reject marks the proxy as skipped. The reason is reported once by the
// caller.
func (w *proxyWarner) reject(format string, args ...any) (any, bool) {
	w.skip = fmt.Sprintf(format, args...)
	return nil, false
}

// proxyOut is a translated proxy. Its options are built per use so a
// detour or relay hop never shares an options value with another outbound.
type proxyOut struct {
	proto  protocol
	src    model.Proxy
	dialer option.DialerOptions
}

func (po proxyOut) tag() string { return po.src.Name }

// options rebuilds the protocol options dialing through detour. The first
// build already reported every warning, so this one is silent.
func (po proxyOut) options(detour string) any {
	d := po.dialer
	d.Detour = detour
	opts, _ := po.proto.build(po.src, d, &proxyWarner{p: po.src})
	return opts
}

func (po proxyOut) outbound() model.Outbound {
	return model.Outbound{
		Outbound: option.Outbound{
			Type:    po.proto.outType,
			Tag:     po.src.Name,
			Options: po.options(po.dialer.Detour),
		},
		From: model.OutboundFromProxy,
		Line: po.src.Line,
	}
}

func (c *compiler) translateProxies() {
	for _, p := range c.doc.Proxies {
		po, ok := translateProxy(p, c.dc)
		if !ok {
			c.skipped[p.Name] = p.Type
			continue
		}
		c.proxyIdx[p.Name] = len(c.proxies)
		c.proxies = append(c.proxies, po)
	}
}

// translateProxy maps one Clash proxy to a sing-box outbound. Unsupported
// entries return false after a warning; they never fail the run.
func translateProxy(p model.Proxy, dc *diag.Collector) (proxyOut, bool) {
	w := &proxyWarner{dc: dc, p: p}

	proto, ok := protocols[p.Type]
	if !ok {
		w.warn("不支持的代理类型 %q，已跳过", p.Type)
		return proxyOut{}, false
	}

	for _, key := range proto.required {
		if p.IsInvalid(key) || !hasRequired(p, key) {
			w.warn("缺少必填字段 %q，已跳过", key)
			return proxyOut{}, false
		}
	}
	if p.Port <= 0 || p.Port > 65535 {
		w.warn("端口 %d 不合法，已跳过", p.Port)
		return proxyOut{}, false
	}

	d := dialerOptions(p, w)
	if _, ok := proto.build(p, d, w); !ok {
		w.warn("%s，已跳过", w.skip)
		return proxyOut{}, false
	}

	known := concat(commonKeys, proto.keys)
	for _, key := range p.Keys {
		switch {
		case p.IsInvalid(key):
			w.warn("字段 %q 的值不合法，已忽略", key)
		case !lo.Contains(known, key):
			w.warn("字段 %q 在 sing-box 中没有对应项，已忽略", key)
		}
	}

	return proxyOut{proto: proto, src: p, dialer: d}, true
}

func hasRequired(p model.Proxy, key string) bool {
	switch key {
	case "server":
		return p.Server != ""
	case "port":
		return p.HasKey("port")
	case "cipher":
		return p.Cipher != ""
	case "password":
		return p.Password != ""
	case "uuid":
		return p.UUID != ""
	case "private-key":
		return p.PrivateKey != ""
	case "public-key":
		return p.PublicKey != ""
	}
	return p.HasKey(key)
}

func dialerOptions(p model.Proxy, w *proxyWarner) option.DialerOptions {
	d := option.DialerOptions{
		BindInterface: p.Interface,
		TCPFastOpen:   p.TFO,
		RoutingMark:   option.FwMark(p.RoutingMark),
	}
	strategy := ""
	switch strings.ToLower(p.IPVersion) {
	case "", "dual":
	case "ipv4":
		strategy = "ipv4_only"
	case "ipv6":
		strategy = "ipv6_only"
	case "ipv4-prefer":
		strategy = "prefer_ipv4"
	case "ipv6-prefer":
		strategy = "prefer_ipv6"
	default:
		w.warn("ip-version %q 无法映射，已忽略", p.IPVersion)
	}
	if strategy != "" {
		d.DomainStrategy = domainStrategy(strategy)
	}
	return d
}

// domainStrategy goes through the option type's own decoder so the names
// stay the ones sing-box accepts in JSON.
func domainStrategy(name string) option.DomainStrategy {
	var s option.DomainStrategy
	_ = s.UnmarshalJSON([]byte(strconv.Quote(name)))
	return s
}

func serverOptions(p model.Proxy) option.ServerOptions {
	return option.ServerOptions{Server: p.Server, ServerPort: uint16(p.Port)}
}

// networkList is "tcp" for "udp: false" and empty otherwise.
func networkList(p model.Proxy) option.NetworkList {
	if p.UDP != nil && !*p.UDP {
		return N.NetworkTCP
	}
	return ""
}

func buildShadowsocks(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	o := &option.ShadowsocksOutboundOptions{
		DialerOptions: d,
		ServerOptions: serverOptions(p),
		Method:        p.Cipher,
		Password:      p.Password,
		Network:       networkList(p),
		Multiplex:     multiplex(p),
	}

	switch strings.ToLower(p.Plugin) {
	case "":
	case "obfs":
		o.Plugin = "obfs-local"
		o.PluginOptions = pluginOpts(p.PluginOpts, map[string]string{"mode": "obfs", "host": "obfs-host"})
	case "v2ray-plugin":
		opts := make([]model.KV, 0, len(p.PluginOpts))
		for _, kv := range p.PluginOpts {
			switch kv.Key {
			case "tls":
				if kv.Value == "true" {
					opts = append(opts, model.KV{Key: "tls"})
				}
			case "mux", "skip-cert-verify":
			default:
				opts = append(opts, kv)
			}
		}
		o.Plugin = "v2ray-plugin"
		o.PluginOptions = pluginOpts(opts, nil)
	default:
		return w.reject("不支持的 ss 插件 %q", p.Plugin)
	}

	if p.UDPOverTCP {
		o.UDPOverTCP = &option.UDPOverTCPOptions{Enabled: true}
	}
	return o, true
}

// pluginOpts renders SIP003 options "k=v;k2=v2". Keys found in rename are
// translated; a KV with an empty Value is emitted as a bare flag.
func pluginOpts(kvs []model.KV, rename map[string]string) string {
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		key := kv.Key
		if r, ok := rename[key]; ok {
			key = r
		}
		if kv.Value == "" {
			parts = append(parts, key)
			continue
		}
		parts = append(parts, key+"="+kv.Value)
	}
	return strings.Join(parts, ";")
}

func buildVMess(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	transport, ok := transportOptions(p, w)
	if !ok {
		return nil, false
	}
	security := p.Cipher
	if security == "" {
		security = "auto"
	}
	return &option.VMessOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		UUID:                        p.UUID,
		Security:                    security,
		AlterId:                     p.AlterID,
		Network:                     networkList(p),
		OutboundTLSOptionsContainer: tlsContainer(p, false),
		PacketEncoding:              p.PacketEncoding,
		Multiplex:                   multiplex(p),
		Transport:                   transport,
	}, true
}

func buildVLESS(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	switch p.Flow {
	case "", "xtls-rprx-vision":
	default:
		return w.reject("不支持的 vless flow %q", p.Flow)
	}
	transport, ok := transportOptions(p, w)
	if !ok {
		return nil, false
	}
	o := &option.VLESSOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		UUID:                        p.UUID,
		Flow:                        p.Flow,
		Network:                     networkList(p),
		OutboundTLSOptionsContainer: tlsContainer(p, false),
		Multiplex:                   multiplex(p),
		Transport:                   transport,
	}
	if p.PacketEncoding != "" {
		o.PacketEncoding = lo.ToPtr(p.PacketEncoding)
	}
	return o, true
}

func buildTrojan(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	transport, ok := transportOptions(p, w)
	if !ok {
		return nil, false
	}
	return &option.TrojanOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		Password:                    p.Password,
		Network:                     networkList(p),
		OutboundTLSOptionsContainer: tlsContainer(p, true),
		Multiplex:                   multiplex(p),
		Transport:                   transport,
	}, true
}

func buildSOCKS(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	if p.TLS.Enabled {
		w.warn("sing-box 的 socks 出站不支持 tls，已忽略")
	}
	return &option.SOCKSOutboundOptions{
		DialerOptions: d,
		ServerOptions: serverOptions(p),
		Version:       "5",
		Username:      p.Username,
		Password:      p.Password,
		Network:       networkList(p),
	}, true
}

func buildHTTP(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	return &option.HTTPOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		Username:                    p.Username,
		Password:                    p.Password,
		OutboundTLSOptionsContainer: tlsContainer(p, false),
		Headers:                     httpHeader(p.Headers, ""),
	}, true
}

func buildHysteria(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	up, down, ok := bandwidth(p, w)
	if !ok {
		return nil, false
	}
	ports, hop := serverPorts(p)
	return &option.HysteriaOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		ServerPorts:                 ports,
		HopInterval:                 hop,
		UpMbps:                      up,
		DownMbps:                    down,
		Obfs:                        p.Obfs,
		AuthString:                  p.AuthStr,
		ReceiveWindowConn:           uint64(p.RecvWindowConn),
		ReceiveWindow:               uint64(p.RecvWindow),
		DisableMTUDiscovery:         p.DisableMTUDiscovery,
		OutboundTLSOptionsContainer: tlsContainer(p, true),
	}, true
}

func buildHysteria2(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	up, down, ok := bandwidth(p, w)
	if !ok {
		return nil, false
	}
	ports, hop := serverPorts(p)
	o := &option.Hysteria2OutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		ServerPorts:                 ports,
		HopInterval:                 hop,
		UpMbps:                      up,
		DownMbps:                    down,
		Password:                    p.Password,
		OutboundTLSOptionsContainer: tlsContainer(p, true),
	}
	if o.Password == "" {
		o.Password = p.AuthStr
	}
	switch strings.ToLower(p.Obfs) {
	case "":
	case "salamander":
		o.Obfs = &option.Hysteria2Obfs{Type: "salamander", Password: p.ObfsPassword}
	default:
		return w.reject("不支持的 hysteria2 obfs %q", p.Obfs)
	}
	return o, true
}

// serverPorts converts "1000-2000,3000" into sing-box "a:b" port ranges.
func serverPorts(p model.Proxy) (badoption.Listable[string], badoption.Duration) {
	if p.Ports == "" {
		return nil, 0
	}
	var ports badoption.Listable[string]
	for _, part := range strings.Split(strings.ReplaceAll(p.Ports, "/", ","), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ports = append(ports, strings.Replace(part, "-", ":", 1))
	}
	var hop badoption.Duration
	if p.HopIntervalMS > 0 {
		hop = durationMS(p.HopIntervalMS)
	}
	return ports, hop
}

func bandwidth(p model.Proxy, w *proxyWarner) (up, down int, ok bool) {
	for _, bw := range []struct {
		key, value string
		dst        *int
	}{
		{"up", p.Up, &up},
		{"down", p.Down, &down},
	} {
		if bw.value == "" {
			continue
		}
		mbps, ok := parseMbps(bw.value)
		if !ok {
			_, _ = w.reject("%s 带宽 %q 无法解析", bw.key, bw.value)
			return 0, 0, false
		}
		*bw.dst = mbps
	}
	return up, down, true
}

// parseMbps reads a Clash bandwidth. A bare number is Mbps; anything else
// goes through sing-box's network byte units, where the case of the unit
// matters: "Mbps" is megabits and "MBps" is megabytes.
func parseMbps(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	var nb byteformats.NetworkBytesCompat
	if err := nb.UnmarshalJSON([]byte(strconv.Quote(strings.ReplaceAll(s, " ", "")))); err != nil {
		return 0, false
	}
	bits := nb.Value() * 8
	mbps := (bits + byteformats.MByte/2) / byteformats.MByte
	if mbps == 0 && bits > 0 {
		mbps = 1
	}
	return int(mbps), true
}

func buildTUIC(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	if p.Token != "" {
		return w.reject("tuic v4（token）不受 sing-box 支持")
	}
	o := &option.TUICOutboundOptions{
		DialerOptions:               d,
		ServerOptions:               serverOptions(p),
		UUID:                        p.UUID,
		Password:                    p.Password,
		CongestionControl:           p.CongestionController,
		ZeroRTTHandshake:            p.ReduceRTT,
		Network:                     networkList(p),
		OutboundTLSOptionsContainer: tlsContainer(p, true),
	}
	switch mode := strings.ToLower(p.UDPRelayMode); mode {
	case "":
	case "native", "quic":
		o.UDPRelayMode = mode
	default:
		w.warn("udp-relay-mode %q 无法映射，已忽略", p.UDPRelayMode)
	}
	if p.HeartbeatMS > 0 {
		o.Heartbeat = durationMS(p.HeartbeatMS)
	}
	return o, true
}

func buildWireGuard(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	var local badoption.Listable[netip.Prefix]
	for _, a := range []struct{ ip, bits string }{{p.IP, "/32"}, {p.IPv6, "/128"}} {
		if a.ip == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(hostPrefix(a.ip, a.bits))
		if err != nil {
			return w.reject("wireguard 地址 %q 不合法", a.ip)
		}
		local = append(local, prefix)
	}
	if len(local) == 0 {
		return w.reject("wireguard 缺少 ip/ipv6")
	}
	return &option.LegacyWireGuardOutboundOptions{
		DialerOptions: d,
		ServerOptions: serverOptions(p),
		LocalAddress:  local,
		PrivateKey:    p.PrivateKey,
		PeerPublicKey: p.PublicKey,
		PreSharedKey:  p.PreSharedKey,
		Reserved:      lo.Map(p.Reserved, func(b int, _ int) uint8 { return uint8(b) }),
		MTU:           uint32(p.MTU),
		Network:       networkList(p),
	}, true
}

func hostPrefix(ip, suffix string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	return ip + suffix
}

// buildSSH passes an inline PEM key as lines and anything else as a path.
func buildSSH(p model.Proxy, d option.DialerOptions, w *proxyWarner) (any, bool) {
	o := &option.SSHOutboundOptions{
		DialerOptions:        d,
		ServerOptions:        serverOptions(p),
		User:                 p.Username,
		Password:             p.Password,
		PrivateKeyPassphrase: p.PrivateKeyPassphrase,
		HostKey:              p.HostKey,
	}
	if strings.Contains(p.PrivateKey, "PRIVATE KEY") {
		o.PrivateKey = lo.Filter(strings.Split(p.PrivateKey, "\n"), func(line string, _ int) bool {
			return strings.TrimSpace(line) != ""
		})
	} else {
		o.PrivateKeyPath = p.PrivateKey
	}
	return o, true
}

// resolveDetours turns dialer-proxy into detour. A proxy whose dialer
// proxy was skipped is skipped as well; this repeats until stable.
func (c *compiler) resolveDetours() error {
	for changed := true; changed; {
		changed = false
		for _, p := range c.doc.Proxies {
			if p.DialerProxy == "" {
				continue
			}
			i, ok := c.proxyIdx[p.Name]
			if !ok {
				continue
			}
			tag, kind := c.lookup(p.DialerProxy)
			switch kind {
			case refMissing:
				return compileErr("DANGLING_REFERENCE", p.Line, p.Name,
					"proxy %q 的 dialer-proxy 引用不存在：%q", p.Name, p.DialerProxy)
			case refSkipped, refUnsupported:
				c.dc.Warn(stageProxy, diag.ProxyEntity(p.Name), p.Line,
					"dialer-proxy %q 不可用，已跳过", p.DialerProxy)
				c.dropProxy(p.Name, "dialer-proxy")
				changed = true
			default:
				if tag != model.TagDirect {
					c.proxies[i].dialer.Detour = tag
				}
			}
		}
	}
	return nil
}

func (c *compiler) dropProxy(name, reason string) {
	i, ok := c.proxyIdx[name]
	if !ok {
		return
	}
	c.proxies = append(c.proxies[:i:i], c.proxies[i+1:]...)
	delete(c.proxyIdx, name)
	for j := i; j < len(c.proxies); j++ {
		c.proxyIdx[c.proxies[j].tag()] = j
	}
	c.skipped[name] = reason
}
