package compiler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/model"
	C "github.com/sagernet/sing-box/constant"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common/json/badoption"
)

// tlsContainer builds the outbound TLS block. forced is set for protocols
// that always run over TLS (trojan, hysteria, tuic).
func tlsContainer(p model.Proxy, forced bool) option.OutboundTLSOptionsContainer {
	t := p.TLS
	if !forced && !t.Enabled && t.Reality == nil {
		return option.OutboundTLSOptionsContainer{}
	}
	o := &option.OutboundTLSOptions{
		Enabled:    true,
		ServerName: t.SNI,
		Insecure:   t.SkipCertVerify,
		DisableSNI: t.DisableSNI,
		ALPN:       stringList(t.ALPN),
	}

	fingerprint := t.Fingerprint
	if t.Reality != nil && fingerprint == "" {
		// reality requires uTLS.
		fingerprint = "chrome"
	}
	if fingerprint != "" {
		o.UTLS = &option.OutboundUTLSOptions{Enabled: true, Fingerprint: fingerprint}
	}
	if t.Reality != nil {
		o.Reality = &option.OutboundRealityOptions{
			Enabled:   true,
			PublicKey: t.Reality.PublicKey,
			ShortID:   t.Reality.ShortID,
		}
	}
	return option.OutboundTLSOptionsContainer{TLS: o}
}

func multiplex(p model.Proxy) *option.OutboundMultiplexOptions {
	if p.Smux == nil || !p.Smux.Enabled {
		return nil
	}
	m := p.Smux
	return &option.OutboundMultiplexOptions{
		Enabled:        true,
		Protocol:       m.Protocol,
		MaxConnections: m.MaxConnections,
		MinStreams:     m.MinStreams,
		MaxStreams:     m.MaxStreams,
		Padding:        m.Padding,
	}
}

var earlyDataPath = regexp.MustCompile(`^(.*?)\?ed=(\d+)$`)

// transportOptions maps network + *-opts to a V2Ray transport. Plain TCP
// has none; an unknown network rejects the proxy.
func transportOptions(p model.Proxy, w *proxyWarner) (*option.V2RayTransportOptions, bool) {
	t := p.Transport
	switch p.Network {
	case "", "tcp":
		return nil, true
	case "ws":
		path, maxEarly, header := t.Path, t.MaxEarlyData, t.EarlyDataHeaderName
		if m := earlyDataPath.FindStringSubmatch(path); m != nil {
			path = m[1]
			if n, err := strconv.Atoi(m[2]); err == nil && maxEarly == 0 {
				maxEarly = n
				header = "Sec-WebSocket-Protocol"
			}
		}
		return &option.V2RayTransportOptions{
			Type: C.V2RayTransportTypeWebsocket,
			WebsocketOptions: option.V2RayWebsocketOptions{
				Path:                path,
				Headers:             httpHeader(t.Headers, firstHost(t.Host)),
				MaxEarlyData:        uint32(maxEarly),
				EarlyDataHeaderName: header,
			},
		}, true
	case "http":
		return &option.V2RayTransportOptions{
			Type: C.V2RayTransportTypeHTTP,
			HTTPOptions: option.V2RayHTTPOptions{
				Host:    stringList(t.Host),
				Path:    t.Path,
				Method:  strings.ToUpper(t.Method),
				Headers: httpHeader(t.Headers, ""),
			},
		}, true
	case "h2":
		return &option.V2RayTransportOptions{
			Type: C.V2RayTransportTypeHTTP,
			HTTPOptions: option.V2RayHTTPOptions{
				Host: stringList(t.Host),
				Path: t.Path,
			},
		}, true
	case "grpc":
		return &option.V2RayTransportOptions{
			Type:        C.V2RayTransportTypeGRPC,
			GRPCOptions: option.V2RayGRPCOptions{ServiceName: t.GRPCServiceName},
		}, true
	case "httpupgrade":
		return &option.V2RayTransportOptions{
			Type: C.V2RayTransportTypeHTTPUpgrade,
			HTTPUpgradeOptions: option.V2RayHTTPUpgradeOptions{
				Host:    firstHost(t.Host),
				Path:    t.Path,
				Headers: httpHeader(t.Headers, ""),
			},
		}, true
	default:
		_, _ = w.reject("不支持的传输层 network=%q", p.Network)
		return nil, false
	}
}

func firstHost(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}

// httpHeader builds a header map. host fills in Host unless the headers
// already set one. nil when empty.
func httpHeader(kvs []model.KV, host string) badoption.HTTPHeader {
	if host == "" && len(kvs) == 0 {
		return nil
	}
	h := make(badoption.HTTPHeader, len(kvs)+1)
	for _, kv := range kvs {
		h[kv.Key] = append(h[kv.Key], kv.Value)
	}
	if _, ok := h["Host"]; !ok && host != "" {
		h["Host"] = badoption.Listable[string]{host}
	}
	return h
}
