package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/config"
)

func TestDeriveHealthzURL_FromListenAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:25500", "http://127.0.0.1:25500/healthz"},
		{"0.0.0.0:25500", "http://127.0.0.1:25500/healthz"},
		{":25500", "http://127.0.0.1:25500/healthz"},
		{"25500", "http://127.0.0.1:25500/healthz"},
		{"http://127.0.0.1:25500", "http://127.0.0.1:25500/healthz"},
		{"[::]:8080", "http://127.0.0.1:8080/healthz"},
	}
	for _, tt := range tests {
		got, err := deriveHealthzURL(tt.in)
		if err != nil {
			t.Fatalf("deriveHealthzURL(%q) unexpected err: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("deriveHealthzURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := deriveHealthzURL(""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestRunHealthcheck_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	defer ts.Close()

	if err := runHealthcheck(ts.URL+"/healthz", 200*time.Millisecond); err != nil {
		t.Fatalf("runHealthcheck unexpected err: %v", err)
	}
}

func TestRunHealthcheck_StatusNotOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := runHealthcheck(ts.URL, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "unexpected status") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "unexpected status")
	}
}

const cliSource = `proxies:
  - {name: ss1, type: ss, server: 1.1.1.1, port: 8388, cipher: aes-128-gcm, password: p}
  - {name: old, type: ssr, server: 2.2.2.2, port: 1, cipher: none, password: p, protocol: origin, obfs: plain}
proxy-groups:
  - {name: auto, type: select, proxies: [ss1, DIRECT]}
rules:
  - DOMAIN-SUFFIX,example.com,auto
  - MATCH,DIRECT
`

func TestRunConvert_StdinToStdout(t *testing.T) {
	var out, errOut bytes.Buffer
	err := runConvert(context.Background(), "", strings.NewReader(cliSource), &out, &errOut, convertOptions{FakeIP: true})
	if err != nil {
		t.Fatalf("runConvert err: %v", err)
	}
	if !strings.Contains(out.String(), `"tag": "ss1"`) || !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("stdout=%s", out.String())
	}
	if strings.Contains(out.String(), `"old"`) {
		t.Fatalf("skipped proxy leaked into output")
	}
	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `proxy "old"`) {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRunConvert_FileAndFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	src := "proxy-groups:\n  - {name: g1, type: select, proxies: [ghost]}\nrules:\n  - MATCH,g1\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	err := runConvert(context.Background(), path, nil, &out, &errOut, convertOptions{})
	var ce *compiler.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%T %v, want *compiler.CompileError", err, err)
	}
	if ce.AppError.Code != "DANGLING_REFERENCE" {
		t.Fatalf("code=%q", ce.AppError.Code)
	}
	if out.Len() != 0 {
		t.Fatalf("partial document written: %s", out.String())
	}

	if err := runConvert(context.Background(), filepath.Join(dir, "missing.yaml"), nil, &out, &errOut, convertOptions{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHandlerOptions_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Target.FakeIP = false
	cfg.Server.PublicBaseURL = "https://conv.example.com"

	opt := handlerOptions(cfg)
	if !opt.DisableFakeIP || opt.PublicBaseURL != "https://conv.example.com" {
		t.Fatalf("opt=%+v", opt)
	}
	if opt.RulesetCacheTTL != 24*time.Hour || opt.ConvertTimeout != 60*time.Second {
		t.Fatalf("opt=%+v", opt)
	}
}
