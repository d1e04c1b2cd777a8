package clash

import (
	"fmt"
	"strings"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// fieldReader decodes loosely typed scalars into a target and records keys
// whose value had the wrong shape instead of failing.
type fieldReader struct {
	invalid *[]string
}

func (r fieldReader) bad(key string) {
	*r.invalid = append(*r.invalid, key)
}

func (r fieldReader) str(key string, n *yaml.Node, dst *string) {
	if isNull(n) {
		return
	}
	if s, ok := scalarString(n); ok {
		*dst = s
		return
	}
	r.bad(key)
}

func (r fieldReader) num(key string, n *yaml.Node, dst *int) {
	if isNull(n) {
		return
	}
	if v, ok := scalarInt(n); ok {
		*dst = v
		return
	}
	r.bad(key)
}

func (r fieldReader) flag(key string, n *yaml.Node, dst *bool) {
	if isNull(n) {
		return
	}
	if v, ok := scalarBool(n); ok {
		*dst = v
		return
	}
	r.bad(key)
}

func (r fieldReader) list(key string, n *yaml.Node, dst *[]string) {
	if isNull(n) {
		return
	}
	if v, ok := stringList(n); ok {
		*dst = v
		return
	}
	r.bad(key)
}

func (r fieldReader) duration(key string, n *yaml.Node, unit time.Duration, dst *int) {
	if isNull(n) {
		return
	}
	if v, ok := durationMS(n, unit); ok {
		*dst = v
		return
	}
	r.bad(key)
}

func (r fieldReader) pairs(key string, n *yaml.Node, path string, dst *[]model.KV) {
	if isNull(n) {
		return
	}
	if v, ok := stringPairs(n, path+"."+key); ok {
		*dst = v
		return
	}
	r.bad(key)
}

func parseProxies(n *yaml.Node) ([]model.Proxy, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &fieldError{Code: "SOURCE_PARSE_ERROR", Message: "proxies 必须是列表", Path: "proxies", Line: n.Line}
	}
	out := make([]model.Proxy, 0, len(n.Content))
	for i, item := range n.Content {
		p, err := parseProxy(item, fmt.Sprintf("proxies[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseProxy(n *yaml.Node, path string) (model.Proxy, error) {
	n = resolve(n)
	p := model.Proxy{Line: lineOf(n)}
	r := fieldReader{invalid: &p.Invalid}

	err := eachField(n, path, func(key string, v *yaml.Node) error {
		if !lo.Contains(p.Keys, key) {
			p.Keys = append(p.Keys, key)
		}
		switch key {
		case "name":
			r.str(key, v, &p.Name)
		case "type":
			r.str(key, v, &p.Type)
			p.Type = strings.ToLower(p.Type)
		case "server":
			r.str(key, v, &p.Server)
		case "port":
			r.num(key, v, &p.Port)
		case "udp":
			if isNull(v) {
				return nil
			}
			if b, ok := scalarBool(v); ok {
				p.UDP = &b
			} else {
				r.bad(key)
			}
		case "tfo", "fast-open":
			r.flag(key, v, &p.TFO)
		case "dialer-proxy":
			r.str(key, v, &p.DialerProxy)
		case "ip-version":
			r.str(key, v, &p.IPVersion)
		case "interface-name":
			r.str(key, v, &p.Interface)
		case "routing-mark":
			r.num(key, v, &p.RoutingMark)

		case "username":
			r.str(key, v, &p.Username)
		case "password", "psk":
			r.str(key, v, &p.Password)
		case "uuid":
			r.str(key, v, &p.UUID)
		case "cipher":
			r.str(key, v, &p.Cipher)
		case "alterId", "alter-id":
			r.num(key, v, &p.AlterID)
		case "flow":
			r.str(key, v, &p.Flow)
		case "packet-encoding":
			r.str(key, v, &p.PacketEncoding)

		case "tls":
			r.flag(key, v, &p.TLS.Enabled)
		case "sni", "servername":
			r.str(key, v, &p.TLS.SNI)
		case "skip-cert-verify":
			r.flag(key, v, &p.TLS.SkipCertVerify)
		case "disable-sni":
			r.flag(key, v, &p.TLS.DisableSNI)
		case "alpn":
			r.list(key, v, &p.TLS.ALPN)
		case "client-fingerprint":
			r.str(key, v, &p.TLS.Fingerprint)
		case "reality-opts":
			ro := &model.RealityOptions{}
			if err := eachField(v, path+"."+key, func(k string, rv *yaml.Node) error {
				switch k {
				case "public-key":
					r.str(key, rv, &ro.PublicKey)
				case "short-id":
					r.str(key, rv, &ro.ShortID)
				}
				return nil
			}); err != nil {
				r.bad(key)
				return nil
			}
			p.TLS.Reality = ro

		case "network":
			r.str(key, v, &p.Network)
			p.Network = strings.ToLower(p.Network)
		case "ws-opts", "http-opts", "h2-opts", "grpc-opts":
			if err := parseTransportOpts(key, v, path, &p.Transport); err != nil {
				r.bad(key)
			}
		case "smux":
			sm := &model.SmuxOptions{}
			if err := eachField(v, path+"."+key, func(k string, sv *yaml.Node) error {
				switch k {
				case "enabled":
					r.flag(key, sv, &sm.Enabled)
				case "protocol":
					r.str(key, sv, &sm.Protocol)
				case "max-connections":
					r.num(key, sv, &sm.MaxConnections)
				case "min-streams":
					r.num(key, sv, &sm.MinStreams)
				case "max-streams":
					r.num(key, sv, &sm.MaxStreams)
				case "padding":
					r.flag(key, sv, &sm.Padding)
				}
				return nil
			}); err != nil {
				r.bad(key)
				return nil
			}
			p.Smux = sm

		case "plugin":
			r.str(key, v, &p.Plugin)
		case "plugin-opts":
			r.pairs(key, v, path, &p.PluginOpts)
		case "udp-over-tcp":
			r.flag(key, v, &p.UDPOverTCP)

		case "up":
			r.str(key, v, &p.Up)
		case "down":
			r.str(key, v, &p.Down)
		case "auth-str", "auth_str", "auth":
			r.str(key, v, &p.AuthStr)
		case "obfs":
			r.str(key, v, &p.Obfs)
		case "obfs-password":
			r.str(key, v, &p.ObfsPassword)
		case "ports":
			r.str(key, v, &p.Ports)
		case "hop-interval":
			r.duration(key, v, time.Second, &p.HopIntervalMS)
		case "recv-window-conn", "recv_window_conn":
			r.num(key, v, &p.RecvWindowConn)
		case "recv-window", "recv_window":
			r.num(key, v, &p.RecvWindow)
		case "disable_mtu_discovery", "disable-mtu-discovery":
			r.flag(key, v, &p.DisableMTUDiscovery)

		case "token":
			r.str(key, v, &p.Token)
		case "congestion-controller":
			r.str(key, v, &p.CongestionController)
		case "udp-relay-mode":
			r.str(key, v, &p.UDPRelayMode)
		case "reduce-rtt":
			r.flag(key, v, &p.ReduceRTT)
		case "heartbeat-interval":
			r.duration(key, v, time.Millisecond, &p.HeartbeatMS)

		case "ip":
			r.str(key, v, &p.IP)
		case "ipv6":
			r.str(key, v, &p.IPv6)
		case "private-key":
			r.str(key, v, &p.PrivateKey)
		case "public-key":
			r.str(key, v, &p.PublicKey)
		case "pre-shared-key", "preshared-key":
			r.str(key, v, &p.PreSharedKey)
		case "reserved":
			if isNull(v) {
				return nil
			}
			if list, ok := intList(v); ok {
				p.Reserved = list
			} else {
				r.bad(key)
			}
		case "mtu":
			r.num(key, v, &p.MTU)

		case "private-key-passphrase":
			r.str(key, v, &p.PrivateKeyPassphrase)
		case "host-key":
			r.list(key, v, &p.HostKey)

		case "headers":
			r.pairs(key, v, path, &p.Headers)
		}
		return nil
	})
	if err != nil {
		return model.Proxy{}, err
	}

	if p.Name == "" {
		return model.Proxy{}, &fieldError{
			Code:    "SOURCE_PARSE_ERROR",
			Message: "proxy 缺少 name",
			Path:    path + ".name",
			Line:    p.Line,
		}
	}
	if p.Type == "" {
		return model.Proxy{}, &fieldError{
			Code:    "SOURCE_PARSE_ERROR",
			Message: fmt.Sprintf("proxy %q 缺少 type", p.Name),
			Path:    path + ".type",
			Line:    p.Line,
		}
	}
	return p, nil
}

func parseTransportOpts(key string, n *yaml.Node, path string, t *model.TransportOptions) error {
	var invalid []string
	r := fieldReader{invalid: &invalid}
	err := eachField(n, path+"."+key, func(k string, v *yaml.Node) error {
		switch k {
		case "path":
			// http-opts carries a list of paths; the first one is used.
			var paths []string
			r.list(k, v, &paths)
			if len(paths) > 0 {
				t.Path = paths[0]
			}
		case "host":
			r.list(k, v, &t.Host)
		case "method":
			r.str(k, v, &t.Method)
		case "headers":
			var hs []model.KV
			r.pairs(k, v, path+"."+key, &hs)
			for _, h := range hs {
				if strings.EqualFold(h.Key, "host") {
					t.Host = splitHosts(h.Value)
					continue
				}
				t.Headers = append(t.Headers, h)
			}
		case "max-early-data":
			r.num(k, v, &t.MaxEarlyData)
		case "early-data-header-name":
			r.str(k, v, &t.EarlyDataHeaderName)
		case "grpc-service-name":
			r.str(k, v, &t.GRPCServiceName)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%s.%s: invalid %s", path, key, strings.Join(invalid, ", "))
	}
	return nil
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
